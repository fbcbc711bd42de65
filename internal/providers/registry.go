package providers

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pippuri/whim-bot-sub000/internal/config"
	"github.com/pippuri/whim-bot-sub000/internal/models"
	"github.com/sirupsen/logrus"
)

// AgencyCache is an optional shared cache for the purchasable-agency list.
// Implemented by the Redis cache; nil disables the shared layer and the
// registry relies on its in-process TTL cache alone.
type AgencyCache interface {
	GetActiveAgencies(ctx context.Context) ([]string, error)
	SetActiveAgencies(ctx context.Context, agencies []string) error
}

// Registry owns every configured provider adapter, the purchasable-agency
// whitelist and the provider price specs. The active-agency list is cached
// with an explicit TTL and an injected clock; no process-global state.
type Registry struct {
	adapters map[string]Adapter
	configs  map[string]config.ProviderConfig
	cache    AgencyCache
	clock    func() time.Time
	ttl      time.Duration
	logger   *logrus.Logger

	mu       sync.Mutex
	active   []string
	cachedAt time.Time
}

// NewRegistry builds adapters for every roster entry. clock may be nil to
// use wall time.
func NewRegistry(roster []config.ProviderConfig, ttl time.Duration, cache AgencyCache, clock func() time.Time, logger *logrus.Logger) *Registry {
	if clock == nil {
		clock = time.Now
	}

	r := &Registry{
		adapters: make(map[string]Adapter, len(roster)),
		configs:  make(map[string]config.ProviderConfig, len(roster)),
		cache:    cache,
		clock:    clock,
		ttl:      ttl,
		logger:   logger,
	}
	for _, cfg := range roster {
		r.adapters[cfg.AgencyID] = NewHTTPAdapter(cfg, logger)
		r.configs[cfg.AgencyID] = cfg
	}
	return r
}

// Register installs or replaces one adapter. Tests inject fakes through here.
func (r *Registry) Register(adapter Adapter, cfg config.ProviderConfig) {
	r.adapters[cfg.AgencyID] = adapter
	r.configs[cfg.AgencyID] = cfg

	r.mu.Lock()
	r.cachedAt = time.Time{} // invalidate
	r.mu.Unlock()
}

// Adapter returns the adapter for an agency.
func (r *Registry) Adapter(agencyID string) (Adapter, error) {
	adapter, ok := r.adapters[agencyID]
	if !ok {
		return nil, models.NewValidationError("agency %q is not supported", agencyID)
	}
	return adapter, nil
}

// Supports reports whether the agency is configured at all.
func (r *Registry) Supports(agencyID string) bool {
	_, ok := r.adapters[agencyID]
	return ok
}

// PurchasableAgencies returns the whitelist of agencies whose tickets may be
// sold. Serves from the in-process cache while fresh, then the shared cache,
// then recomputes from configuration and writes through.
func (r *Registry) PurchasableAgencies(ctx context.Context) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	if !r.cachedAt.IsZero() && now.Sub(r.cachedAt) < r.ttl {
		return r.active
	}

	if r.cache != nil {
		if agencies, err := r.cache.GetActiveAgencies(ctx); err != nil {
			r.logger.WithError(err).Warn("Agency cache read failed, recomputing from configuration")
		} else if agencies != nil {
			r.active = agencies
			r.cachedAt = now
			return r.active
		}
	}

	agencies := make([]string, 0, len(r.configs))
	for id, cfg := range r.configs {
		if cfg.Purchasable {
			agencies = append(agencies, id)
		}
	}
	sort.Strings(agencies)

	r.active = agencies
	r.cachedAt = now

	if r.cache != nil {
		if err := r.cache.SetActiveAgencies(ctx, agencies); err != nil {
			r.logger.WithError(err).Warn("Agency cache write failed")
		}
	}
	return r.active
}

// IsPurchasable reports whether an agency is on the whitelist.
func (r *Registry) IsPurchasable(ctx context.Context, agencyID string) bool {
	for _, id := range r.PurchasableAgencies(ctx) {
		if id == agencyID {
			return true
		}
	}
	return false
}

// PriceSpecs assembles the ticket templates of every configured provider,
// with each spec scoped to its provider's service area.
func (r *Registry) PriceSpecs() []models.PriceSpec {
	ids := make([]string, 0, len(r.configs))
	for id := range r.configs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var specs []models.PriceSpec
	for _, id := range ids {
		cfg := r.configs[id]
		for _, sc := range cfg.PriceSpecs {
			specs = append(specs, models.PriceSpec{
				Agency:    cfg.AgencyID,
				Type:      models.PriceSpecType(sc.Type),
				Value:     sc.Value,
				BaseValue: sc.BaseValue,
				Area:      cfg.Area,
			})
		}
	}
	return specs
}
