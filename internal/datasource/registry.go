package datasource

import (
	"fmt"
	"sort"
	"sync"

	"dynamic-datasource/internal/common/errors"
	"dynamic-datasource/internal/common/logging"
	"dynamic-datasource/internal/metrics"
)

// AddOption customises a registration.
type AddOption func(*addOptions)

type addOptions struct {
	group     string
	weight    int
	unhealthy bool
	replace   bool
}

// WithGroup puts the datasource in an explicit group, overriding the
// name-prefix rule.
func WithGroup(group string) AddOption {
	return func(o *addOptions) { o.group = group }
}

// WithWeight sets the weight used by weighted strategies. Values <= 0 mean 1.
func WithWeight(weight int) AddOption {
	return func(o *addOptions) { o.weight = weight }
}

// Unhealthy registers the datasource already marked unhealthy.
func Unhealthy() AddOption {
	return func(o *addOptions) { o.unhealthy = true }
}

// Replace allows Add to overwrite an existing registration.
func Replace() AddOption {
	return func(o *addOptions) { o.replace = true }
}

// Registry maps datasource names to entries.
//
// A single RWMutex guards the map: lookups share the read lock, mutations
// take the write lock, and entries are copied in and out so no reader ever
// sees one half-built.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
	nextSeq uint64
	logger  logging.Logger
}

// NewRegistry creates an empty registry. A nil logger uses the global one.
func NewRegistry(logger logging.Logger) *Registry {
	return &Registry{
		entries: make(map[string]Entry),
		logger:  logging.OrGlobal(logger).WithFields(logging.String("component", "registry")),
	}
}

// Add registers provider under name. It fails with a duplicate error when
// the name is taken, unless Replace is given. On replace the entry keeps its
// registration order and the lease of the previous provider is returned;
// closing it closes that provider once its borrowed connections are back.
func (r *Registry) Add(name string, provider ConnectionProvider, opts ...AddOption) (*Lease, error) {
	if name == "" {
		return nil, errors.ValidationError("datasource name must not be empty")
	}
	if provider == nil {
		return nil, errors.ValidationError(fmt.Sprintf("datasource %s has no provider", name))
	}

	var o addOptions
	for _, opt := range opts {
		opt(&o)
	}

	entry := Entry{
		Name:     name,
		Group:    o.group,
		Weight:   o.weight,
		Healthy:  !o.unhealthy,
		Provider: provider,
		lease:    newLease(name, provider, r.logger),
	}

	r.mu.Lock()
	previous, exists := r.entries[name]
	if exists && !o.replace {
		r.mu.Unlock()
		return nil, errors.DuplicateNameError(name)
	}
	if exists {
		entry.seq = previous.seq
	} else {
		entry.seq = r.nextSeq
		r.nextSeq++
	}
	r.entries[name] = entry
	size := len(r.entries)
	r.mu.Unlock()

	metrics.SetRegistered(size)
	metrics.SetHealthy(name, entry.Healthy)

	if exists {
		r.logger.Info("Datasource replaced", logging.DataSource(name), logging.Group(entry.Group))
		return previous.lease, nil
	}
	r.logger.Info("Datasource added", logging.DataSource(name), logging.Group(entry.Group))
	return nil, nil
}

// Remove unregisters name and returns the lease of its provider. Connections
// already borrowed from it are untouched; only future lookups stop seeing
// it. The provider is not closed until the lease is.
func (r *Registry) Remove(name string) (*Lease, error) {
	r.mu.Lock()
	entry, exists := r.entries[name]
	if !exists {
		r.mu.Unlock()
		return nil, errors.NotFoundError(fmt.Sprintf("datasource %s", name))
	}
	delete(r.entries, name)
	size := len(r.entries)
	r.mu.Unlock()

	metrics.SetRegistered(size)
	metrics.ForgetDataSource(name)
	r.logger.Info("Datasource removed", logging.DataSource(name))
	return entry.lease, nil
}

// Get returns the entry registered under name.
func (r *Registry) Get(name string) (Entry, error) {
	r.mu.RLock()
	entry, exists := r.entries[name]
	r.mu.RUnlock()

	if !exists {
		return Entry{}, errors.NotFoundError(fmt.Sprintf("datasource %s", name))
	}
	return entry, nil
}

// Contains reports whether name is registered.
func (r *Registry) Contains(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.entries[name]
	return exists
}

// HasGroup reports whether any entry belongs to group.
func (r *Registry) HasGroup(group string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, entry := range r.entries {
		if entry.InGroup(group) {
			return true
		}
	}
	return false
}

// ResolveGroup returns the members of group in registration order, leaving
// out unhealthy ones. When every member is unhealthy, all of them are
// returned and degraded is true: serving a possibly broken datasource beats
// serving none, and the caller gets to see that it happened. A group with no
// members at all is a no-candidates error.
func (r *Registry) ResolveGroup(group string) (entries []Entry, degraded bool, err error) {
	r.mu.RLock()
	members := make([]Entry, 0, 4)
	for _, entry := range r.entries {
		if entry.InGroup(group) {
			members = append(members, entry)
		}
	}
	r.mu.RUnlock()

	if len(members) == 0 {
		return nil, false, errors.NoCandidatesError(group)
	}
	sortBySeq(members)

	healthy := make([]Entry, 0, len(members))
	for _, entry := range members {
		if entry.Healthy {
			healthy = append(healthy, entry)
		}
	}
	if len(healthy) > 0 {
		return healthy, false, nil
	}

	metrics.RecordDegraded(group)
	r.logger.Warn("No healthy datasource in group, serving unhealthy members",
		logging.Group(group),
		logging.Int("members", len(members)),
	)
	return members, true, nil
}

// MarkHealthy sets the health flag of name. It reports whether the flag
// actually changed.
func (r *Registry) MarkHealthy(name string, healthy bool) (bool, error) {
	r.mu.Lock()
	entry, exists := r.entries[name]
	if !exists {
		r.mu.Unlock()
		return false, errors.NotFoundError(fmt.Sprintf("datasource %s", name))
	}
	changed := entry.Healthy != healthy
	if changed {
		entry.Healthy = healthy
		r.entries[name] = entry
	}
	r.mu.Unlock()

	if changed {
		metrics.RecordHealth(name, healthy)
		if healthy {
			r.logger.Info("Datasource marked healthy", logging.DataSource(name))
		} else {
			r.logger.Warn("Datasource marked unhealthy", logging.DataSource(name))
		}
	}
	return changed, nil
}

// Snapshot returns a copy of every entry in registration order.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry)
	}
	r.mu.RUnlock()

	sortBySeq(out)
	return out
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	snapshot := r.Snapshot()
	names := make([]string, len(snapshot))
	for i, entry := range snapshot {
		names[i] = entry.Name
	}
	return names
}

// Len returns the number of registered datasources.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Close empties the registry and closes every provider, including ones with
// connections still borrowed. All providers are closed even when some fail;
// the first error is returned.
func (r *Registry) Close() error {
	r.mu.Lock()
	entries := make([]Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		entries = append(entries, entry)
	}
	r.entries = make(map[string]Entry)
	r.mu.Unlock()

	sortBySeq(entries)
	metrics.SetRegistered(0)

	var firstErr error
	for _, entry := range entries {
		metrics.ForgetDataSource(entry.Name)
		if err := entry.lease.shutdown(); err != nil {
			r.logger.Error("Failed to close datasource", err, logging.DataSource(entry.Name))
			if firstErr == nil {
				firstErr = fmt.Errorf("close datasource %s: %w", entry.Name, err)
			}
		}
	}
	return firstErr
}

func sortBySeq(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].seq < entries[j].seq
	})
}
