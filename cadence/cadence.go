package cadence

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// standard 5-field cron plus descriptors such as @hourly.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ConfigError reports a timing description that cannot be parsed.
type ConfigError struct {
	Raw    string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid cadence %q: %s: %s", e.Raw, e.Reason, e.Err.Error())
	}
	return fmt.Sprintf("invalid cadence %q: %s", e.Raw, e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Raw is the unparsed timing description of a schedule entry. Exactly one
// of Cron and Every is set.
type Raw struct {
	Cron  string `json:"cron,omitempty"`
	Every string `json:"every,omitempty"`
	// Offsets delay the first eligibility of an Every cadence, counted from
	// the time the registry was loaded.
	Offsets []string `json:"offsets,omitempty"`
}

// String renders the description the way operators write it.
func (r Raw) String() string {
	switch {
	case r.Cron != "":
		return r.Cron
	case len(r.Offsets) > 0:
		return fmt.Sprintf("every %s (first after %s)", r.Every, strings.Join(r.Offsets, ", "))
	default:
		return "every " + r.Every
	}
}

// IsZero reports whether no cadence is set.
func (r Raw) IsZero() bool {
	return r.Cron == "" && r.Every == "" && len(r.Offsets) == 0
}

// EveryFromValue decodes the value of an `every` key. Accepted shapes:
//
//	"1m"
//	["1m"]
//	["1m", ["1h"]]
//	["1m", "1h"]
func EveryFromValue(v any) (Raw, error) {
	switch x := v.(type) {
	case string:
		return Raw{Every: strings.TrimSpace(x)}, nil
	case []any:
		if len(x) == 0 || len(x) > 2 {
			return Raw{}, &ConfigError{Raw: fmt.Sprint(v), Reason: "every takes an interval and an optional offset list"}
		}
		every, ok := x[0].(string)
		if !ok {
			return Raw{}, &ConfigError{Raw: fmt.Sprint(v), Reason: "interval must be a string"}
		}
		r := Raw{Every: strings.TrimSpace(every)}
		if len(x) == 1 {
			return r, nil
		}
		switch offsets := x[1].(type) {
		case string:
			r.Offsets = []string{strings.TrimSpace(offsets)}
		case []any:
			for _, o := range offsets {
				s, ok := o.(string)
				if !ok {
					return Raw{}, &ConfigError{Raw: fmt.Sprint(v), Reason: "offsets must be strings"}
				}
				r.Offsets = append(r.Offsets, strings.TrimSpace(s))
			}
		default:
			return Raw{}, &ConfigError{Raw: fmt.Sprint(v), Reason: "offsets must be a string or a list"}
		}
		return r, nil
	default:
		return Raw{}, &ConfigError{Raw: fmt.Sprint(v), Reason: "unsupported every value"}
	}
}

type options struct {
	loadedAt time.Time
	location *time.Location
}

type FuncOption func(o *options)

// WithLoadedAt sets the instant offsets are counted from. Defaults to now.
func WithLoadedAt(t time.Time) FuncOption {
	return func(o *options) {
		o.loadedAt = t
	}
}

// WithLocation sets the time zone cron fields are matched in. Defaults to
// the location of the evaluated instant.
func WithLocation(loc *time.Location) FuncOption {
	return func(o *options) {
		o.location = loc
	}
}

// Parse turns a raw timing description into a Spec. Malformed input yields
// a *ConfigError.
func Parse(raw Raw, funcOptions ...FuncOption) (Spec, error) {
	op := &options{}
	for _, f := range funcOptions {
		f(op)
	}
	if op.loadedAt.IsZero() {
		op.loadedAt = time.Now()
	}

	hasCron := strings.TrimSpace(raw.Cron) != ""
	hasEvery := strings.TrimSpace(raw.Every) != ""
	switch {
	case hasCron && hasEvery:
		return nil, &ConfigError{Raw: raw.String(), Reason: "cron and every are mutually exclusive"}
	case hasCron:
		if len(raw.Offsets) > 0 {
			return nil, &ConfigError{Raw: raw.Cron, Reason: "offsets only apply to every"}
		}
		return parseCron(raw.Cron, op.location)
	case hasEvery:
		return parseInterval(raw, op.loadedAt)
	default:
		return nil, &ConfigError{Raw: "", Reason: "cron or every required"}
	}
}

// cronSpec fires once in every minute matched by its expression.
type cronSpec struct {
	expr     string
	schedule cron.Schedule
	location *time.Location
}

func parseCron(expr string, loc *time.Location) (Spec, error) {
	expr = strings.TrimSpace(expr)
	if strings.HasPrefix(expr, "@every") {
		return nil, &ConfigError{Raw: expr, Reason: "use every for fixed intervals"}
	}
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, &ConfigError{Raw: expr, Reason: "malformed cron expression", Err: err}
	}
	return &cronSpec{expr: expr, schedule: schedule, location: loc}, nil
}

func (c *cronSpec) IsDueAt(now, lastFired time.Time) bool {
	if c.location != nil {
		now = now.In(c.location)
	}
	minute := now.Truncate(time.Minute)
	if !lastFired.IsZero() && lastFired.Truncate(time.Minute).Equal(minute) {
		return false
	}
	return c.schedule.Next(minute.Add(-time.Second)).Equal(minute)
}

func (c *cronSpec) Next(t time.Time) time.Time {
	if c.location != nil {
		t = t.In(c.location)
	}
	return c.schedule.Next(t)
}

func (c *cronSpec) String() string { return c.expr }

// intervalSpec fires every `every` once the latest offset has elapsed since load.
type intervalSpec struct {
	raw      Raw
	every    time.Duration
	eligible time.Time
}

func parseInterval(raw Raw, loadedAt time.Time) (Spec, error) {
	every, err := ParseDuration(raw.Every)
	if err != nil {
		return nil, &ConfigError{Raw: raw.String(), Reason: "malformed interval", Err: err}
	}
	eligible := loadedAt
	for _, o := range raw.Offsets {
		offset, err := ParseDuration(o)
		if err != nil {
			return nil, &ConfigError{Raw: raw.String(), Reason: "malformed offset", Err: err}
		}
		if at := loadedAt.Add(offset); at.After(eligible) {
			eligible = at
		}
	}
	return &intervalSpec{raw: raw, every: every, eligible: eligible}, nil
}

func (s *intervalSpec) IsDueAt(now, lastFired time.Time) bool {
	if now.Before(s.eligible) {
		return false
	}
	if lastFired.IsZero() {
		return true
	}
	return now.Sub(lastFired) >= s.every
}

func (s *intervalSpec) Next(t time.Time) time.Time {
	if t.Before(s.eligible) {
		return s.eligible
	}
	n := t.Sub(s.eligible)/s.every + 1
	return s.eligible.Add(n * s.every)
}

func (s *intervalSpec) String() string { return s.raw.String() }
