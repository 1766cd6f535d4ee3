package registry

import (
	"fmt"
	"strings"

	"dsched/cadence"
	"dsched/job"
)

// Parameter is an input an operator has to supply before an entry can be
// triggered by hand.
type Parameter struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Default     any    `json:"default,omitempty"`
}

// Entry is one named recurring schedule.
type Entry struct {
	Name    string      `json:"name"`
	Cadence cadence.Raw `json:"cadence"`

	// Queue is optional, the class's declared queue is used when empty.
	Queue string   `json:"queue,omitempty"`
	Class string   `json:"class"`
	Args  job.Args `json:"args"`

	// Environments limits where the entry fires. Empty means everywhere.
	Environments []string    `json:"environments,omitempty"`
	Parameters   []Parameter `json:"parameters,omitempty"`
	Description  string      `json:"description,omitempty"`

	// Persist marks entries added at run time. A file load keeps them
	// unless the file defines the same name.
	Persist bool `json:"persist,omitempty"`

	spec  cadence.Spec
	order int
}

// Spec returns the parsed cadence. It is nil for entries that were not
// returned by a Registry.
func (e Entry) Spec() cadence.Spec { return e.spec }

// VisibleIn reports whether the entry fires in env.
func (e Entry) VisibleIn(env string) bool {
	if len(e.Environments) == 0 {
		return true
	}
	for _, candidate := range e.Environments {
		if candidate == env {
			return true
		}
	}
	return false
}

// RequiresParameters reports whether a manual trigger needs operator input.
func (e Entry) RequiresParameters() bool { return len(e.Parameters) > 0 }

func (e *Entry) normalize() {
	e.Name = strings.TrimSpace(e.Name)
	e.Class = strings.TrimSpace(e.Class)
	if e.Class == "" {
		e.Class = e.Name
	}
	e.Queue = strings.TrimSpace(e.Queue)
	envs := e.Environments[:0:0]
	for _, env := range e.Environments {
		if env = strings.TrimSpace(env); env != "" {
			envs = append(envs, env)
		}
	}
	e.Environments = envs
}

func (e Entry) validate() error {
	if e.Name == "" {
		return fmt.Errorf("schedule entry without a name")
	}
	seen := make(map[string]struct{}, len(e.Parameters))
	for _, p := range e.Parameters {
		if p.Name == "" {
			return fmt.Errorf("schedule %q: parameter without a name", e.Name)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("schedule %q: duplicate parameter %q", e.Name, p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}
