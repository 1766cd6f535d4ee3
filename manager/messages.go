package manager

import (
	"encoding/json"
	"fmt"

	"dsched/job"
	"dsched/registry"

	"google.golang.org/protobuf/types/known/structpb"
)

type StatusReply struct {
	Env      string `json:"env"`
	Dynamic  bool   `json:"dynamic"`
	Leader   string `json:"leader"`
	IsLeader bool   `json:"is_leader"`
	// LoadedAt is the unix time the schedules were loaded.
	LoadedAt int64 `json:"loaded_at"`
	Delayed  int64 `json:"delayed"`

	// dispatch pool
	PoolSize int `json:"pool_size"`
	Workers  int `json:"workers"`
	Overflow int `json:"overflow"`
}

type ListSchedulesRequest struct {
	// All includes entries of other environments.
	All bool   `json:"all,omitempty"`
	Env string `json:"env,omitempty"`
}

type ScheduleList struct {
	Schedules []registry.Entry `json:"schedules"`
}

type NameRequest struct {
	Name string `json:"name"`
}

type SetDynamicRequest struct {
	Dynamic bool `json:"dynamic"`
}

type RequeueRequest struct {
	Name string `json:"name"`
	// Params, when set, fills in the declared parameters of the entry.
	Params map[string]any `json:"params"`
}

// ParametersRequired is attached to the FailedPrecondition status of a
// Requeue that needs operator input.
type ParametersRequired struct {
	Name       string               `json:"name"`
	Parameters []registry.Parameter `json:"parameters"`
}

type Receipt struct {
	Id         string   `json:"id"`
	Queue      string   `json:"queue"`
	Class      string   `json:"class"`
	Args       job.Args `json:"args"`
	EnqueuedAt int64    `json:"enqueued_at"`
}

type PeekRequest struct {
	Start int64 `json:"start"`
	Count int64 `json:"count"`
}

// DelayedJob is a job waiting in the delayed queue, or, with a zero At, a
// job already on a work queue.
type DelayedJob struct {
	At    int64    `json:"at"`
	Queue string   `json:"queue,omitempty"`
	Class string   `json:"class"`
	Args  job.Args `json:"args"`
}

type DelayedList struct {
	Total int64        `json:"total"`
	Jobs  []DelayedJob `json:"jobs"`
}

type SearchRequest struct {
	Term string `json:"term"`
}

type JobRequest struct {
	At    int64    `json:"at"`
	Queue string   `json:"queue,omitempty"`
	Class string   `json:"class"`
	Args  job.Args `json:"args"`
}

type CancelReply struct {
	Removed bool `json:"removed"`
}

type ForceRunRequest struct {
	At int64 `json:"at"`
}

type ForceRunReply struct {
	Dispatched int `json:"dispatched"`
}

// Encode packs v into a Struct through its JSON form.
func Encode(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	m := map[string]any{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("%T is not a JSON object: %w", v, err)
	}
	return structpb.NewStruct(m)
}

// MustEncode is Encode for values that always encode.
func MustEncode(v any) *structpb.Struct {
	s, err := Encode(v)
	if err != nil {
		panic(err)
	}
	return s
}

// Decode unpacks a Struct produced by Encode into v.
func Decode(s *structpb.Struct, v any) error {
	if s == nil {
		s = &structpb.Struct{}
	}
	b, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
