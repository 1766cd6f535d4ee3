package node

import (
	"context"
	"sync"
)

// standalone is a single node cluster, always leader.
type standalone struct {
	address string
	once    sync.Once
	changes chan string
}

// NewStandalone returns a node that leads from the start until exit closes.
func NewStandalone(exit chan struct{}, address string) Node {
	n := &standalone{
		address: address,
		changes: make(chan string, 1),
	}
	n.changes <- address
	go func() {
		<-exit
		n.once.Do(func() { close(n.changes) })
	}()
	return n
}

func (n *standalone) IsLeader() bool { return true }

func (n *standalone) WaitForLeaderChange() <-chan string { return n.changes }

func (n *standalone) Leader(context.Context) (string, error) { return n.address, nil }

func (n *standalone) Address() string { return n.address }
