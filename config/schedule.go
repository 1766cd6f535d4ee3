package config

import (
	"fmt"
	"os"
	"strings"

	"dsched/cadence"
	"dsched/job"
	"dsched/registry"

	"gopkg.in/yaml.v3"
)

// ScheduleError reports a schedule file entry that cannot be loaded.
type ScheduleError struct {
	Name   string
	Line   int
	Reason string
	Err    error
}

func (e *ScheduleError) Error() string {
	msg := fmt.Sprintf("schedule %q (line %d): %s", e.Name, e.Line, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ScheduleError) Unwrap() error { return e.Err }

// LoadSchedule reads the schedule file at path.
func LoadSchedule(path string) ([]registry.Entry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	entries, err := ParseSchedule(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return entries, nil
}

// ParseSchedule decodes a schedule file, a mapping of entry name to entry,
// keeping the order of the file:
//
//	send_digest:
//	  cron: "0 8 * * *"
//	  class: DigestJob
//	  queue: mail
//	  args: [daily]
//	  rails_env: production, staging
//	  description: mails the digest
//	reindex:
//	  every: ["1h", "10m"]
//	  parameters:
//	    index:
//	      description: index to rebuild
//	      default: all
//
// `custom_job_class` is accepted in place of `class` and `env` in place of
// `rails_env`. Keys the scheduler does not use are ignored.
func ParseSchedule(b []byte) ([]registry.Entry, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: schedule must be a mapping of name to entry", root.Line)
	}

	entries := make([]registry.Entry, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		name := root.Content[i].Value
		e, err := parseEntry(name, root.Content[i+1])
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func parseEntry(name string, node *yaml.Node) (registry.Entry, error) {
	fail := func(n *yaml.Node, reason string, err error) (registry.Entry, error) {
		return registry.Entry{}, &ScheduleError{Name: name, Line: n.Line, Reason: reason, Err: err}
	}
	if node.Kind != yaml.MappingNode {
		return fail(node, "entry must be a mapping", nil)
	}

	e := registry.Entry{Name: name}
	var class, customClass string
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i].Value, node.Content[i+1]
		switch key {
		case "cron":
			if value.Kind != yaml.ScalarNode {
				return fail(value, "cron must be a string", nil)
			}
			e.Cadence.Cron = strings.TrimSpace(value.Value)
		case "every":
			var v any
			if err := value.Decode(&v); err != nil {
				return fail(value, "every", err)
			}
			raw, err := cadence.EveryFromValue(v)
			if err != nil {
				return fail(value, "every", err)
			}
			e.Cadence.Every, e.Cadence.Offsets = raw.Every, raw.Offsets
		case "class":
			class = strings.TrimSpace(value.Value)
		case "custom_job_class":
			customClass = strings.TrimSpace(value.Value)
		case "queue":
			e.Queue = strings.TrimSpace(value.Value)
		case "args":
			var v any
			if err := value.Decode(&v); err != nil {
				return fail(value, "args", err)
			}
			e.Args = job.FromValue(v)
		case "rails_env", "env":
			envs, err := environments(value)
			if err != nil {
				return fail(value, key, err)
			}
			e.Environments = envs
		case "description":
			e.Description = value.Value
		case "parameters":
			params, err := parameters(value)
			if err != nil {
				return fail(value, "parameters", err)
			}
			e.Parameters = params
		}
	}

	e.Class = class
	if customClass != "" {
		e.Class = customClass
	}
	if e.Cadence.Cron != "" && e.Cadence.Every != "" {
		return fail(node, "cron and every are exclusive", nil)
	}
	return e, nil
}

// environments accepts a comma separated string or a list.
func environments(node *yaml.Node) ([]string, error) {
	var raw []string
	switch node.Kind {
	case yaml.ScalarNode:
		raw = strings.Split(node.Value, ",")
	case yaml.SequenceNode:
		if err := node.Decode(&raw); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("want a string or a list")
	}

	envs := make([]string, 0, len(raw))
	for _, env := range raw {
		if env = strings.TrimSpace(env); env != "" {
			envs = append(envs, env)
		}
	}
	return envs, nil
}

// parameters decodes a mapping of parameter name to description and
// default, in file order.
func parameters(node *yaml.Node) ([]registry.Parameter, error) {
	if node.Kind != yaml.MappingNode || len(node.Content) == 0 {
		return nil, fmt.Errorf("want a non-empty mapping")
	}

	params := make([]registry.Parameter, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		p := registry.Parameter{Name: node.Content[i].Value}
		value := node.Content[i+1]
		switch value.Kind {
		case yaml.MappingNode:
			var def struct {
				Description string `yaml:"description"`
				Default     any    `yaml:"default"`
			}
			if err := value.Decode(&def); err != nil {
				return nil, fmt.Errorf("%s: %w", p.Name, err)
			}
			p.Description, p.Default = def.Description, def.Default
		case yaml.ScalarNode:
			// a bare `name:` declares the parameter without details
			if value.Tag != "!!null" {
				return nil, fmt.Errorf("%s: want a mapping", p.Name)
			}
		default:
			return nil, fmt.Errorf("%s: want a mapping", p.Name)
		}
		params = append(params, p)
	}
	return params, nil
}
