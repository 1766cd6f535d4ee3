package node

import (
	"context"
	"errors"
	"sync"
	"time"

	"dsched/utils"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/zap"
)

type options struct {
	ttl         int
	electionKey string
}

type FuncOption func(o *options)

// WithTTL sets the session lease in seconds. Defaults to 30.
func WithTTL(ttl int) FuncOption {
	return func(o *options) {
		o.ttl = ttl
	}
}

// WithElectionKey sets the etcd prefix candidates campaign on. Defaults to
// "dsched/leader".
func WithElectionKey(key string) FuncOption {
	return func(o *options) {
		o.electionKey = key
	}
}

// node campaigns for leadership through an etcd election.
type node struct {
	sync.RWMutex

	exit chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	client  *clientv3.Client
	options *options
	logger  *zap.Logger

	address string

	isLeader bool
	// signalled when leadership moves from this node to another one
	demoted chan struct{}
	// every observed leader
	leaderChangeC chan string

	session  *concurrency.Session
	election *concurrency.Election
}

// NewNode joins the election as address, e.g. `10.0.0.12:7070`.
func NewNode(exit chan struct{}, logger *zap.Logger, client *clientv3.Client, address string,
	funcOptions ...FuncOption) (Node, error) {
	op := &options{
		ttl:         30,
		electionKey: "dsched/leader",
	}
	for _, f := range funcOptions {
		f(op)
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &node{
		exit:          exit,
		ctx:           ctx,
		cancel:        cancel,
		client:        client,
		options:       op,
		logger:        logger.With(zap.String("node", address)),
		address:       address,
		demoted:       make(chan struct{}, 1),
		leaderChangeC: make(chan string, 8),
	}

	if err := n.newSession(0); err != nil {
		cancel()
		return nil, err
	}

	go n.observe()
	go n.join()
	return n, nil
}

// newSession opens a session on leaseID, or on a fresh lease when zero.
func (n *node) newSession(leaseID clientv3.LeaseID) error {
	opts := []concurrency.SessionOption{
		concurrency.WithTTL(n.options.ttl),
		concurrency.WithContext(n.ctx),
	}
	if leaseID != 0 {
		opts = append(opts, concurrency.WithLease(leaseID))
	}
	session, err := concurrency.NewSession(n.client, opts...)
	if err != nil {
		return err
	}
	n.Lock()
	n.session = session
	n.election = concurrency.NewElection(session, n.options.electionKey)
	n.Unlock()
	return nil
}

func (n *node) current() (*concurrency.Session, *concurrency.Election) {
	n.RLock()
	defer n.RUnlock()
	return n.session, n.election
}

func (n *node) setLeader(isLeader bool) (changed bool) {
	n.Lock()
	defer n.Unlock()
	changed = n.isLeader != isLeader
	n.isLeader = isLeader
	return changed
}

// join campaigns until the node stops. A node that restarts while its old
// lease still holds leadership resumes it.
func (n *node) join() {
	for {
		session, election := n.current()
		resp, err := election.Leader(n.ctx)
		switch {
		case errors.Is(err, context.Canceled):
			n.logger.Info("[Node] join exit")
			return
		case err != nil && !errors.Is(err, concurrency.ErrElectionNoLeader):
			n.logger.Error("[Node] get leader", zap.Error(err))
			time.Sleep(time.Second)
			continue
		case err == nil && string(resp.Kvs[0].Value) == n.address:
			if err := n.newSession(clientv3.LeaseID(resp.Kvs[0].Lease)); err != nil {
				n.logger.Error("[Node] resume session", zap.Error(err))
				continue
			}
			session, _ = n.current()
			n.Lock()
			n.election = concurrency.ResumeElection(session, n.options.electionKey,
				string(resp.Kvs[0].Key), resp.Kvs[0].CreateRevision)
			n.Unlock()

			select {
			case <-n.demoted:
				n.logger.Info("[Node] lost leadership")
			case <-n.ctx.Done():
				n.logger.Info("[Node] join exit")
				return
			}
			continue
		}

		n.logger.Info("[Node] campaign")
		if err := election.Campaign(n.ctx, n.address); err != nil {
			if errors.Is(err, context.Canceled) {
				n.logger.Info("[Node] join exit")
				return
			}
			n.logger.Error("[Node] campaign", zap.Error(err))
			_ = session.Close()
			continue
		}

		// Campaign returns once elected; wait until that changes.
		select {
		case <-n.demoted:
			n.logger.Info("[Node] lost leadership")
		case <-n.ctx.Done():
			return
		}
	}
}

// observe tracks the leader of the election.
func (n *node) observe() {
	session, election := n.current()
	observeC := election.Observe(n.ctx)
	for {
		select {
		case resp, ok := <-observeC:
			if !ok {
				_ = session.Close()
				n.reconnect()
				session, election = n.current()
				observeC = election.Observe(n.ctx)
				continue
			}

			leader := string(resp.Kvs[0].Value)
			if leader == n.address {
				n.setLeader(true)
			} else if n.setLeader(false) {
				select {
				case n.demoted <- struct{}{}:
				default:
				}
			}
			n.logger.Info("[Node] leader observed", zap.String("leader", leader))
			select {
			case n.leaderChangeC <- leader:
			default:
				n.logger.Warn("[Node] leader change dropped, nobody is listening", zap.String("leader", leader))
			}
		case <-n.exit:
			if n.IsLeader() {
				// past the TTL the lease is gone and so is the leadership
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				if err := election.Resign(ctx); err != nil {
					n.logger.Error("[Node] resign", zap.Error(err))
				}
				cancel()
			}
			n.setLeader(false)
			_ = session.Close()
			close(n.leaderChangeC)
			n.cancel()
			n.logger.Info("[Node] observe exit")
			return
		case <-session.Done():
			// Observe does not notice an expired session
			n.setLeader(false)
			n.reconnect()
			session, election = n.current()
			observeC = election.Observe(n.ctx)
		}
	}
}

// reconnect opens a new session, backing off while etcd is unreachable.
func (n *node) reconnect() {
	backoff := utils.NewBackoff(2*time.Second, time.Minute)
	for {
		err := n.newSession(0)
		if err == nil {
			return
		}
		if errors.Is(err, context.Canceled) {
			return
		}
		n.logger.Error("[Node] reconnect", zap.Error(err))

		timer := time.NewTimer(backoff.Next())
		select {
		case <-n.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (n *node) IsLeader() bool {
	n.RLock()
	defer n.RUnlock()
	return n.isLeader
}

func (n *node) WaitForLeaderChange() <-chan string {
	return n.leaderChangeC
}

func (n *node) Leader(ctx context.Context) (string, error) {
	_, election := n.current()
	resp, err := election.Leader(ctx)
	if err != nil {
		return "", err
	}
	return string(resp.Kvs[0].Value), nil
}

func (n *node) Address() string {
	return n.address
}
