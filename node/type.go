package node

import "context"

// Node is this process's view of the cluster. Only the leader fires
// schedules and claims delayed jobs.
type Node interface {
	// IsLeader reports whether this node currently holds leadership.
	IsLeader() bool
	// WaitForLeaderChange yields the address of every new leader. It is
	// closed when the node stops.
	WaitForLeaderChange() <-chan string
	// Leader returns the address of the current leader.
	Leader(ctx context.Context) (string, error)
	// Address returns the address of this node.
	Address() string
}
