package circuitbreaker

import (
	"sort"
	"sync"

	"dynamic-datasource/internal/common/logging"
	"dynamic-datasource/internal/datasource"
	"dynamic-datasource/internal/metrics"
)

// Manager owns one breaker per datasource and mirrors breaker state into
// the registry: opening marks the datasource unhealthy, closing marks it
// healthy again.
type Manager struct {
	registry *datasource.Registry
	config   Config
	logger   logging.Logger

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewManager creates a manager that reports to registry.
func NewManager(registry *datasource.Registry, config Config, logger logging.Logger) *Manager {
	return &Manager{
		registry: registry,
		config:   config,
		logger:   logging.OrGlobal(logger).WithFields(logging.String("component", "circuitbreaker")),
		breakers: make(map[string]*Breaker),
	}
}

// Guard wraps provider in the breaker for name, creating it on first use.
func (m *Manager) Guard(name string, provider datasource.ConnectionProvider) *GuardedProvider {
	return Guard(provider, m.GetOrCreate(name))
}

// GetOrCreate returns the breaker for name.
func (m *Manager) GetOrCreate(name string) *Breaker {
	m.mu.RLock()
	b, exists := m.breakers[name]
	m.mu.RUnlock()
	if exists {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, exists := m.breakers[name]; exists {
		return b
	}
	b = NewBreaker(name, m.config, m.logger, m.onStateChange)
	m.breakers[name] = b
	metrics.SetBreakerState(name, int(StateClosed))
	return b
}

// Get returns the breaker for name if one exists.
func (m *Manager) Get(name string) (*Breaker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, exists := m.breakers[name]
	return b, exists
}

// Remove forgets the breaker for name.
func (m *Manager) Remove(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.breakers[name]; !exists {
		return false
	}
	delete(m.breakers, name)
	metrics.ForgetBreaker(name)
	return true
}

// AllStats returns the stats of every breaker, sorted by name.
func (m *Manager) AllStats() []Stats {
	m.mu.RLock()
	stats := make([]Stats, 0, len(m.breakers))
	for _, b := range m.breakers {
		stats = append(stats, b.Stats())
	}
	m.mu.RUnlock()

	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

func (m *Manager) onStateChange(name string, from, to State) {
	metrics.SetBreakerState(name, int(to))

	var healthy bool
	switch to {
	case StateOpen:
		healthy = false
	case StateClosed:
		healthy = true
	default:
		return
	}

	if m.registry == nil {
		return
	}
	if _, err := m.registry.MarkHealthy(name, healthy); err != nil {
		m.logger.Debug("Breaker changed state for unregistered datasource",
			logging.DataSource(name),
			logging.String("state", to.String()),
		)
	}
}
