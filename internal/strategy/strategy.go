// Package strategy generates and caches per-context acquisition plans: which
// providers to use per capability, how to weigh signals and scores, and how
// much to spend per company.
package strategy

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-engine/internal/classify"
	"github.com/sells-group/prospect-engine/internal/config"
	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/money"
	"github.com/sells-group/prospect-engine/internal/provider"
	"github.com/sells-group/prospect-engine/internal/store"
)

const (
	defaultTTL    = 24 * time.Hour
	defaultBudget = "5.00"
)

// Generator builds strategies with the model and caches them.
type Generator struct {
	store      store.Store
	registry   *provider.Registry
	classifier *classify.Classifier
	cache      Cache
	ttl        time.Duration
	budget     money.Decimal
	weights    model.ScoringWeights
	now        func() time.Time
}

// NewGenerator creates a Generator. classifier may be nil, in which case
// Generate serves cache hits only and otherwise returns
// classify.ErrNotConfigured.
func NewGenerator(st store.Store, reg *provider.Registry, classifier *classify.Classifier, cache Cache, cfg config.StrategyConfig, weights model.ScoringWeights) (*Generator, error) {
	ttl := time.Duration(cfg.TTLHours) * time.Hour
	if ttl <= 0 {
		ttl = defaultTTL
	}
	raw := cfg.DefaultBudget
	if raw == "" {
		raw = defaultBudget
	}
	budget, err := money.Parse(raw)
	if err != nil {
		return nil, eris.Wrapf(err, "strategy: default budget %q", raw)
	}
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Generator{
		store:      st,
		registry:   reg,
		classifier: classifier,
		cache:      cache,
		ttl:        ttl,
		budget:     budget,
		weights:    weights,
		now:        time.Now,
	}, nil
}

// Budget returns the per-company budget used for default strategies.
func (g *Generator) Budget() money.Decimal { return g.budget }

// WithNow sets the clock, for tests.
func (g *Generator) WithNow(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate returns the strategy for (clientID, icpID, personaID). An
// unexpired cached entry is returned as stored. Otherwise the model is asked
// for a plan, which is validated and cached. If the model's output stays
// unusable, a registry-priority default is returned and not cached.
func (g *Generator) Generate(ctx context.Context, clientID, icpID, personaID string) (*model.Strategy, error) {
	hash := ContextHash(clientID, icpID, personaID)
	log := zap.L().With(zap.String("client_id", clientID), zap.String("context_hash", hash[:12]))
	now := g.now().UTC()

	cached, err := g.cache.Get(ctx, hash, now)
	if err != nil {
		return nil, eris.Wrap(err, "strategy: cache get")
	}
	if cached != nil {
		log.Debug("strategy: cache hit")
		return cached, nil
	}
	if g.classifier == nil {
		return nil, classify.ErrNotConfigured
	}

	prompt, err := g.buildContext(ctx, clientID, icpID, personaID)
	if err != nil {
		return nil, err
	}

	var reply planReply
	err = g.classifier.Classify(ctx, classify.Request{
		Task:         "strategy",
		Instructions: instructions,
		Shape:        shape,
		Evidence:     prompt,
		MaxTokens:    1500,
	}, &reply)
	switch {
	case classify.IsMalformed(err):
		log.Warn("strategy: unusable plan, using registry defaults", zap.Error(err))
		return g.Default(clientID, icpID, personaID), nil
	case err != nil:
		return nil, eris.Wrap(err, "strategy: generate")
	}

	st := g.fromReply(reply, hash, clientID, icpID, personaID, now)
	written, err := g.cache.Put(ctx, st)
	if err != nil {
		return nil, eris.Wrap(err, "strategy: cache put")
	}
	if !written {
		// A concurrent request cached first; serve its entry.
		if winner, err := g.cache.Get(ctx, hash, now); err == nil && winner != nil {
			return winner, nil
		}
	}
	log.Info("strategy: generated", zap.Bool("cached", written))
	return st, nil
}

// Default builds the registry-priority strategy with the configured weights
// and budget.
func (g *Generator) Default(clientID, icpID, personaID string) *model.Strategy {
	now := g.now().UTC()
	return &model.Strategy{
		ContextHash:         ContextHash(clientID, icpID, personaID),
		ClientID:            clientID,
		ICPID:               icpID,
		PersonaID:           personaID,
		ProviderPlan:        g.defaultPlan(),
		ScoringWeights:      g.weights.Normalize(),
		MaxBudgetPerCompany: g.budget,
		Rationale:           "registry priority order",
		Fallback:            true,
		CreatedAt:           now,
		ExpiresAt:           now.Add(g.ttl),
	}
}

func (g *Generator) defaultPlan() map[model.Capability][]string {
	plan := make(map[model.Capability][]string, len(model.AllCapabilities))
	for _, c := range model.AllCapabilities {
		names := g.providerNames(c)
		if len(names) > 0 {
			plan[c] = names
		}
	}
	return plan
}

func (g *Generator) providerNames(c model.Capability) []string {
	var names []string
	for _, e := range g.registry.ForCapability(c) {
		names = append(names, e.Name)
	}
	return names
}

// fromReply validates the model's plan against the registry. Unknown or
// unsupported providers are dropped; capabilities left empty get the
// registry order.
func (g *Generator) fromReply(r planReply, hash, clientID, icpID, personaID string, now time.Time) *model.Strategy {
	plan := make(map[model.Capability][]string, len(model.AllCapabilities))
	for _, c := range model.AllCapabilities {
		var names []string
		seen := map[string]bool{}
		for _, name := range r.ProviderPlan[string(c)] {
			e := g.registry.Get(name)
			if e == nil || !e.Supports(c) || seen[name] {
				continue
			}
			seen[name] = true
			names = append(names, name)
		}
		if len(names) == 0 {
			names = g.providerNames(c)
		}
		if len(names) > 0 {
			plan[c] = names
		}
	}

	priorities := make(map[string]float64, len(r.SignalPriorities))
	for typ, w := range r.SignalPriorities {
		priorities[typ] = clamp01(w)
	}

	budget := g.budget
	if r.MaxBudgetPerCompany != nil && r.MaxBudgetPerCompany.IsPositive() {
		budget = *r.MaxBudgetPerCompany
	}

	return &model.Strategy{
		ContextHash:         hash,
		ClientID:            clientID,
		ICPID:               icpID,
		PersonaID:           personaID,
		ProviderPlan:        plan,
		SignalPriorities:    priorities,
		ScoringWeights:      r.ScoringWeights.Normalize(),
		MaxBudgetPerCompany: budget,
		Rationale:           r.Rationale,
		CreatedAt:           now,
		ExpiresAt:           now.Add(g.ttl),
	}
}

// buildContext assembles the prompt evidence.
func (g *Generator) buildContext(ctx context.Context, clientID, icpID, personaID string) (string, error) {
	client, err := g.store.GetClient(ctx, clientID)
	if err != nil {
		return "", eris.Wrap(err, "strategy: load client")
	}
	icp, err := g.store.GetICP(ctx, icpID)
	if err != nil {
		return "", eris.Wrap(err, "strategy: load icp")
	}
	if icp.ClientID != clientID {
		return "", model.NewNotFound("icp", icpID)
	}
	var persona *model.Persona
	if personaID != "" {
		if persona, err = g.store.GetPersona(ctx, personaID); err != nil {
			return "", eris.Wrap(err, "strategy: load persona")
		}
	}
	stats, err := g.store.ListProviderStats(ctx, clientID)
	if err != nil {
		return "", eris.Wrap(err, "strategy: load provider stats")
	}

	type perf struct {
		Provider     string  `json:"provider"`
		Calls        int64   `json:"calls"`
		SuccessRate  float64 `json:"success_rate"`
		AvgQuality   float64 `json:"avg_quality"`
		AvgFields    float64 `json:"avg_fields"`
		CreditsSpent string  `json:"credits_spent"`
	}
	perfs := make([]perf, 0, len(stats))
	for _, s := range stats {
		perfs = append(perfs, perf{s.Provider, s.Calls, s.SuccessRate(), s.AvgQuality, s.AvgFields, s.CreditsSpent.StringFixed(2)})
	}
	sort.Slice(perfs, func(i, j int) bool { return perfs[i].Provider < perfs[j].Provider })

	doc := map[string]any{
		"client": map[string]string{
			"name":        client.Name,
			"industry":    client.Industry,
			"description": client.Description,
		},
		"icp":                  icp.Filters,
		"providers":            g.registry.Catalog(),
		"provider_performance": perfs,
		"default_budget":       g.budget.StringFixed(2),
	}
	if persona != nil {
		doc["persona"] = map[string][]string{
			"titles":      persona.Titles,
			"seniorities": persona.Seniorities,
			"departments": persona.Departments,
		}
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "strategy: marshal context")
	}
	return string(b), nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
