// Package signal detects buying-intent signals. Rule detectors read
// firmographics and career history; market relevance and company exposure are
// judged by the model through the classifier.
package signal

import (
	"fmt"
	"strings"
	"time"

	"github.com/sells-group/prospect-engine/internal/classify"
	"github.com/sells-group/prospect-engine/internal/config"
	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/textnorm"
)

// SourceRules marks signals produced by the rule detectors.
const SourceRules = "rules"

const defaultTTLDays = 30

// Detector produces signals for companies and contacts.
type Detector struct {
	cfg        config.SignalsConfig
	classifier *classify.Classifier
	now        func() time.Time
}

// NewDetector creates a Detector. classifier may be nil, in which case the
// model-assisted methods return classify.ErrNotConfigured.
func NewDetector(cfg config.SignalsConfig, classifier *classify.Classifier) *Detector {
	return &Detector{cfg: cfg, classifier: classifier, now: time.Now}
}

// WithNow sets the clock, for tests.
func (d *Detector) WithNow(now func() time.Time) *Detector {
	d.now = now
	return d
}

// TTL returns how long a signal of type typ stays active.
func (d *Detector) TTL(typ string) time.Duration {
	days, ok := d.cfg.TTLDays[typ]
	if !ok || days <= 0 {
		days = defaultTTLDays
	}
	return time.Duration(days) * 24 * time.Hour
}

func (d *Detector) newSignal(clientID string, scope model.SignalScope, entityID, typ string, strength float64, evidence string, at time.Time) model.Signal {
	return model.Signal{
		ClientID:       clientID,
		Scope:          scope,
		EntityID:       entityID,
		SignalType:     typ,
		SignalStrength: clamp01(strength),
		Evidence:       evidence,
		Source:         SourceRules,
		DetectedAt:     at,
		ExpiresAt:      at.Add(d.TTL(typ)),
	}
}

// DetectCompany runs the company rules: recent funding, headcount growth,
// hiring and tech adoption.
func (d *Detector) DetectCompany(c *model.Company) []model.Signal {
	if c == nil {
		return nil
	}
	now := d.now().UTC()
	var out []model.Signal
	emit := func(typ string, strength float64, evidence string) {
		out = append(out, d.newSignal(c.ClientID, model.ScopeCompany, c.ID, typ, strength, evidence, now))
	}

	if c.LastFundingAt != nil && d.cfg.FundingWindowDays > 0 {
		window := time.Duration(d.cfg.FundingWindowDays) * 24 * time.Hour
		age := now.Sub(*c.LastFundingAt)
		if age >= 0 && age <= window {
			// 1.0 on the day of the round, 0.5 at the edge of the window.
			strength := 1 - 0.5*float64(age)/float64(window)
			ev := fmt.Sprintf("funding %s on %s", orDefault(c.FundingStage, "round"), c.LastFundingAt.Format("2006-01-02"))
			emit(model.SignalRecentFunding, strength, ev)
		}
	}

	if c.HeadcountGrowthPct != nil && d.cfg.HeadcountGrowthPct > 0 && *c.HeadcountGrowthPct >= d.cfg.HeadcountGrowthPct {
		emit(model.SignalHeadcountGrowth, ramp(*c.HeadcountGrowthPct, d.cfg.HeadcountGrowthPct),
			fmt.Sprintf("headcount up %.1f%%", *c.HeadcountGrowthPct))
	}

	if c.OpenJobs != nil && d.cfg.HiringOpenJobs > 0 && *c.OpenJobs >= d.cfg.HiringOpenJobs {
		emit(model.SignalHiring, ramp(float64(*c.OpenJobs), float64(d.cfg.HiringOpenJobs)),
			fmt.Sprintf("%d open roles", *c.OpenJobs))
	}

	if hits := techHits(d.cfg.TechKeywords, c.TechStack); len(hits) > 0 {
		emit(model.SignalTechAdoption, 0.4+0.2*float64(len(hits)), "uses "+strings.Join(hits, ", "))
	}
	return out
}

// DetectContact runs the career rules. A recent title change is a promotion
// when the new title ranks more senior, otherwise a job change.
func (d *Detector) DetectContact(c *model.Contact) []model.Signal {
	if c == nil || c.PreviousTitle == "" || c.Title == "" || strings.EqualFold(c.PreviousTitle, c.Title) {
		return nil
	}
	now := d.now().UTC()
	window := time.Duration(d.cfg.JobChangeWindowDays) * 24 * time.Hour
	if window <= 0 {
		window = 90 * 24 * time.Hour
	}
	var age time.Duration
	if c.RoleStartedAt != nil {
		age = now.Sub(*c.RoleStartedAt)
		if age < 0 {
			age = 0
		}
		if age > window {
			return nil
		}
	}
	decay := 1 - 0.5*float64(age)/float64(window)

	prev, cur := SeniorityRank(c.PreviousTitle), SeniorityRank(c.Title)
	ev := fmt.Sprintf("%s -> %s", c.PreviousTitle, c.Title)
	if cur > prev {
		return []model.Signal{d.newSignal(c.ClientID, model.ScopeContact, c.ID, model.SignalPromotion, 0.9*decay, ev, now)}
	}
	return []model.Signal{d.newSignal(c.ClientID, model.ScopeContact, c.ID, model.SignalJobChange, 0.8*decay, ev, now)}
}

// seniorityLevels ranks title words from junior to executive.
var seniorityLevels = []struct {
	rank  int
	words []string
}{
	{6, []string{"chief", "ceo", "cto", "cfo", "coo", "cmo", "cro", "cio", "founder", "cofounder", "president", "presidente", "owner", "partner", "fondateur", "fondatrice", "fundador", "fundadora"}},
	{5, []string{"svp", "evp"}},
	{4, []string{"vp", "vice", "head"}},
	{3, []string{"director", "directeur", "directrice", "directora", "direktor"}},
	{2, []string{"manager", "lead", "principal", "gerente", "responsable"}},
	{1, []string{"senior", "sr", "specialist", "engineer", "analyst", "associate", "representative", "executive"}},
	{0, []string{"intern", "assistant", "junior", "jr", "trainee"}},
}

// SeniorityRank estimates how senior a title is, from 0 (intern) to 6
// (C-level or founder). Unrecognized titles rank 1.
func SeniorityRank(title string) int {
	words := textnorm.Words(title)
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	if set["vice"] {
		if set["senior"] || set["executive"] {
			return 5
		}
		return 4
	}
	// "Directeur Général", "Director General" and "Managing Director" run the company.
	if (set["general"] || set["generale"] || set["managing"]) &&
		(set["director"] || set["directeur"] || set["directrice"] || set["directora"]) {
		return 6
	}
	for _, lvl := range seniorityLevels {
		for _, w := range lvl.words {
			if set[w] {
				return lvl.rank
			}
		}
	}
	return 1
}

// Fresh drops detected signals already covered by an active existing signal
// of the same type and source with at least the same strength, so repeated
// detection over unchanged data writes nothing.
func Fresh(existing, detected []model.Signal, now time.Time) []model.Signal {
	type key struct{ typ, src string }
	best := map[key]float64{}
	for _, s := range model.ActiveSignals(existing, now) {
		best[key{s.SignalType, s.Source}] = s.SignalStrength
	}
	var out []model.Signal
	for _, s := range detected {
		if cur, ok := best[key{s.SignalType, s.Source}]; ok && cur >= s.SignalStrength-1e-9 {
			continue
		}
		out = append(out, s)
	}
	return out
}

// ramp maps v at the threshold to 0.5 and at three times the threshold to 1.
func ramp(v, threshold float64) float64 {
	if threshold <= 0 {
		return 0
	}
	return clamp01(0.5 + 0.25*(v-threshold)/threshold)
}

func techHits(keywords, stack []string) []string {
	have := make(map[string]bool, len(stack))
	for _, t := range stack {
		have[strings.ToLower(strings.TrimSpace(t))] = true
	}
	var hits []string
	for _, k := range keywords {
		if have[strings.ToLower(strings.TrimSpace(k))] {
			hits = append(hits, k)
		}
	}
	return hits
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
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
