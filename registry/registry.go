package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"dsched/cadence"
	"dsched/store"

	"go.uber.org/zap"
)

const (
	ErrNotFound   = RegistryError("schedule not found")
	ErrNotDynamic = RegistryError("schedule changes require dynamic mode")
)

type RegistryError string

func (e RegistryError) Error() string { return string(e) }

type snapshot struct {
	entries  []Entry
	index    map[string]int
	loadedAt time.Time
}

func (s *snapshot) find(name string) (Entry, bool) {
	i, ok := s.index[name]
	if !ok {
		return Entry{}, false
	}
	return s.entries[i], true
}

type options struct {
	store    store.Store
	dynamic  func() bool
	location *time.Location
	now      func() time.Time
	timeout  time.Duration
}

type FuncOption func(o *options)

// WithStore persists every change of the entry set.
func WithStore(s store.Store) FuncOption {
	return func(o *options) {
		o.store = s
	}
}

// WithDynamic sets the capability queried before each runtime mutation.
func WithDynamic(dynamic func() bool) FuncOption {
	return func(o *options) {
		o.dynamic = dynamic
	}
}

// WithLocation sets the time zone of cron cadences.
func WithLocation(loc *time.Location) FuncOption {
	return func(o *options) {
		o.location = loc
	}
}

func WithClock(now func() time.Time) FuncOption {
	return func(o *options) {
		o.now = now
	}
}

// WithStoreTimeout bounds every store call. Defaults to 5s.
func WithStoreTimeout(d time.Duration) FuncOption {
	return func(o *options) {
		o.timeout = d
	}
}

// Registry owns the set of schedule entries. Readers always observe a full
// snapshot, Load swaps the whole set at once.
type Registry struct {
	current atomic.Pointer[snapshot]
	// serializes writers, readers never take it
	mu      sync.Mutex
	options *options
	logger  *zap.Logger
}

func New(logger *zap.Logger, funcOptions ...FuncOption) *Registry {
	op := &options{
		dynamic: func() bool { return false },
		now:     time.Now,
		timeout: 5 * time.Second,
	}
	for _, f := range funcOptions {
		f(op)
	}
	r := &Registry{
		options: op,
		logger:  logger,
	}
	r.current.Store(&snapshot{index: map[string]int{}})
	return r
}

// IsDynamic reports the current dynamic mode.
func (r *Registry) IsDynamic() bool { return r.options.dynamic() }

// Load validates entries and replaces the whole set. In dynamic mode
// persisted runtime entries the file does not name are kept after the file
// entries. On error the previous set stays in place.
func (r *Registry) Load(ctx context.Context, entries []Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries = append([]Entry(nil), entries...)
	for i := range entries {
		entries[i].Persist = false
		entries[i].order = i
	}
	if r.options.dynamic() {
		kept, err := r.persisted(ctx, entries)
		if err != nil {
			r.logger.Error("[Registry] read persisted schedules", zap.Error(err))
			return err
		}
		entries = append(entries, kept...)
	}

	next, err := r.build(entries)
	if err != nil {
		r.logger.Error("[Registry] load rejected", zap.Error(err))
		return err
	}
	if err := r.persistAll(ctx, next.entries); err != nil {
		r.logger.Error("[Registry] persist schedules failed", zap.Error(err))
		return err
	}
	r.current.Store(next)
	r.logger.Info("[Registry] schedules loaded", zap.Int("count", len(next.entries)))
	return nil
}

// persisted returns the stored runtime entries not named in entries,
// ordered after them.
func (r *Registry) persisted(ctx context.Context, entries []Entry) ([]Entry, error) {
	stored, err := r.read(ctx)
	if err != nil || len(stored) == 0 {
		return nil, err
	}
	named := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		named[strings.TrimSpace(e.Name)] = struct{}{}
	}
	var kept []Entry
	for _, e := range stored {
		if _, ok := named[e.Name]; ok || !e.Persist {
			continue
		}
		e.order = len(entries) + len(kept)
		kept = append(kept, e)
	}
	return kept, nil
}

// LoadFromStore rebuilds the set from the persisted definitions. An empty
// store leaves the current set in place, so a node taking over before
// anything was persisted keeps its file schedule.
func (r *Registry) LoadFromStore(ctx context.Context) error {
	return r.restore(ctx, true)
}

// Reload mirrors the store exactly, an empty store clears the set. Nodes
// use it after a change they made through another node.
func (r *Registry) Reload(ctx context.Context) error {
	return r.restore(ctx, false)
}

func (r *Registry) restore(ctx context.Context, keepOnEmpty bool) error {
	if r.options.store == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.read(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 && keepOnEmpty {
		return nil
	}
	next, err := r.build(entries)
	if err != nil {
		return err
	}
	r.current.Store(next)
	r.logger.Info("[Registry] schedules restored from store", zap.Int("count", len(next.entries)))
	return nil
}

func (r *Registry) read(ctx context.Context) ([]Entry, error) {
	if r.options.store == nil {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.options.timeout)
	defer cancel()
	records, err := r.options.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("read schedules: %w", err)
	}
	entries := make([]Entry, 0, len(records))
	for _, rec := range records {
		var e Entry
		if err := json.Unmarshal(rec.Data, &e); err != nil {
			return nil, fmt.Errorf("decode schedule %q: %w", rec.Name, err)
		}
		e.Name = rec.Name
		e.order = rec.Order
		entries = append(entries, e)
	}
	return entries, nil
}

// Teardown drops every entry from memory. The store is left untouched.
func (r *Registry) Teardown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current.Store(&snapshot{index: map[string]int{}})
}

// List returns the entries visible in env, in load order.
func (r *Registry) List(env string) []Entry {
	snap := r.current.Load()
	out := make([]Entry, 0, len(snap.entries))
	for _, e := range snap.entries {
		if e.VisibleIn(env) {
			out = append(out, e)
		}
	}
	return out
}

// All returns every entry regardless of environment, in load order.
func (r *Registry) All() []Entry {
	snap := r.current.Load()
	out := make([]Entry, len(snap.entries))
	copy(out, snap.entries)
	return out
}

func (r *Registry) Fetch(name string) (Entry, error) {
	e, ok := r.current.Load().find(name)
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return e, nil
}

// LoadedAt is the instant the current set was loaded.
func (r *Registry) LoadedAt() time.Time { return r.current.Load().loadedAt }

// Remove deletes an entry from memory and the store. Requires dynamic mode.
func (r *Registry) Remove(ctx context.Context, name string) error {
	if !r.options.dynamic() {
		return ErrNotDynamic
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := r.current.Load()
	if _, ok := snap.find(name); !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if r.options.store != nil {
		sctx, cancel := context.WithTimeout(ctx, r.options.timeout)
		defer cancel()
		if err := r.options.store.Delete(sctx, name); err != nil {
			return fmt.Errorf("delete schedule %q: %w", name, err)
		}
	}

	entries := make([]Entry, 0, len(snap.entries))
	for _, e := range snap.entries {
		if e.Name != name {
			entries = append(entries, e)
		}
	}
	r.current.Store(index(entries, snap.loadedAt))
	r.logger.Info("[Registry] schedule removed", zap.String("name", name))
	return nil
}

// Set adds or replaces one entry and marks it Persist. Requires dynamic
// mode. A replaced entry keeps its position.
func (r *Registry) Set(ctx context.Context, entry Entry) error {
	if !r.options.dynamic() {
		return ErrNotDynamic
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	entry.normalize()
	if err := entry.validate(); err != nil {
		return err
	}
	spec, err := r.parse(entry, r.options.now())
	if err != nil {
		return err
	}
	entry.spec = spec
	entry.Persist = true

	snap := r.current.Load()
	entries := make([]Entry, len(snap.entries), len(snap.entries)+1)
	copy(entries, snap.entries)
	if i, ok := snap.index[entry.Name]; ok {
		entry.order = entries[i].order
		entries[i] = entry
	} else {
		if n := len(entries); n > 0 {
			entry.order = entries[n-1].order + 1
		}
		entries = append(entries, entry)
	}

	if r.options.store != nil {
		rec, err := record(entry)
		if err != nil {
			return err
		}
		sctx, cancel := context.WithTimeout(ctx, r.options.timeout)
		defer cancel()
		if err := r.options.store.Put(sctx, rec); err != nil {
			return fmt.Errorf("put schedule %q: %w", entry.Name, err)
		}
	}
	r.current.Store(index(entries, snap.loadedAt))
	r.logger.Info("[Registry] schedule set", zap.String("name", entry.Name), zap.String("cadence", spec.String()))
	return nil
}

func (r *Registry) build(entries []Entry) (*snapshot, error) {
	loadedAt := r.options.now()
	out := make([]Entry, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		e.normalize()
		if err := e.validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[e.Name]; dup {
			return nil, fmt.Errorf("duplicate schedule %q", e.Name)
		}
		seen[e.Name] = struct{}{}

		spec, err := r.parse(e, loadedAt)
		if err != nil {
			return nil, err
		}
		e.spec = spec
		out = append(out, e)
	}
	return index(out, loadedAt), nil
}

func (r *Registry) parse(e Entry, loadedAt time.Time) (cadence.Spec, error) {
	funcOptions := []cadence.FuncOption{cadence.WithLoadedAt(loadedAt)}
	if r.options.location != nil {
		funcOptions = append(funcOptions, cadence.WithLocation(r.options.location))
	}
	spec, err := cadence.Parse(e.Cadence, funcOptions...)
	if err != nil {
		return nil, fmt.Errorf("schedule %q: %w", e.Name, err)
	}
	return spec, nil
}

func record(e Entry) (store.Record, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return store.Record{}, fmt.Errorf("encode schedule %q: %w", e.Name, err)
	}
	return store.Record{Name: e.Name, Order: e.order, Data: data}, nil
}

func (r *Registry) persistAll(ctx context.Context, entries []Entry) error {
	if r.options.store == nil {
		return nil
	}
	records := make([]store.Record, 0, len(entries))
	for _, e := range entries {
		rec, err := record(e)
		if err != nil {
			return err
		}
		records = append(records, rec)
	}
	ctx, cancel := context.WithTimeout(ctx, r.options.timeout)
	defer cancel()
	return r.options.store.ReplaceAll(ctx, records)
}

func index(entries []Entry, loadedAt time.Time) *snapshot {
	idx := make(map[string]int, len(entries))
	for i, e := range entries {
		idx[e.Name] = i
	}
	return &snapshot{entries: entries, index: idx, loadedAt: loadedAt}
}
