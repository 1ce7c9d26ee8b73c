package provider

import (
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/money"
	"github.com/sells-group/prospect-engine/internal/ratelimit"
)

// Registration is the static description of a provider. Lower priority is
// tried first.
type Registration struct {
	Name         string                             `yaml:"name" json:"name"`
	Capabilities []model.Capability                 `yaml:"capabilities" json:"capabilities"`
	Priority     int                                `yaml:"priority" json:"priority"`
	Costs        map[model.Capability]money.Decimal `yaml:"costs" json:"costs"`
	RateLimit    ratelimit.Limits                   `yaml:"rate_limit" json:"rate_limit"`
	Timeout      time.Duration                      `yaml:"timeout" json:"timeout"`
}

// Supports reports whether the provider offers the capability.
func (r Registration) Supports(c model.Capability) bool {
	for _, k := range r.Capabilities {
		if k == c {
			return true
		}
	}
	return false
}

// Cost returns the declared base cost of one call, zero when undeclared.
func (r Registration) Cost(c model.Capability) money.Decimal {
	if d, ok := r.Costs[c]; ok {
		return d
	}
	return money.Zero
}

// CallTimeout returns the per-call timeout.
func (r Registration) CallTimeout() time.Duration {
	if r.Timeout <= 0 {
		return DefaultTimeout
	}
	return r.Timeout
}

// Validate checks the registration is usable.
func (r Registration) Validate() error {
	if r.Name == "" {
		return eris.New("provider: registration without name")
	}
	if len(r.Capabilities) == 0 {
		return eris.Errorf("provider: %s declares no capabilities", r.Name)
	}
	for _, c := range r.Capabilities {
		if !c.Valid() {
			return eris.Errorf("provider: %s declares unknown capability %q", r.Name, c)
		}
	}
	for c, cost := range r.Costs {
		if cost.IsNegative() {
			return eris.Errorf("provider: %s has negative cost for %s", r.Name, c)
		}
	}
	return nil
}

// Entry is a registered provider: its registration, adapter and rate limiter.
type Entry struct {
	Registration
	Adapter Adapter
	Limiter *ratelimit.Limiter
}

// Registry holds the registered providers. Registrations are immutable once
// added.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Register adds a provider. Registering the same name twice is an error.
func (r *Registry) Register(reg Registration, a Adapter) error {
	if err := reg.Validate(); err != nil {
		return err
	}
	if a == nil {
		return eris.Errorf("provider: %s has no adapter", reg.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[reg.Name]; ok {
		return eris.Errorf("provider: %s already registered", reg.Name)
	}
	r.entries[reg.Name] = &Entry{
		Registration: reg,
		Adapter:      a,
		Limiter:      ratelimit.New(reg.RateLimit),
	}
	return nil
}

// Get returns a provider by name, or nil if not found.
func (r *Registry) Get(name string) *Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[name]
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ForCapability returns the providers offering c in ascending priority, ties
// broken by name.
func (r *Registry) ForCapability(c model.Capability) []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Entry
	for _, e := range r.entries {
		if e.Supports(c) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Catalog returns every registration in priority order, for strategy prompts.
func (r *Registry) Catalog() []Registration {
	r.mu.RLock()
	out := make([]Registration, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Registration)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}
