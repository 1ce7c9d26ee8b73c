package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-engine/internal/classify"
	"github.com/sells-group/prospect-engine/internal/model"
)

// MarketEvent is an external development that may affect a client's market,
// such as a regulation, a funding wave, or a competitor exit.
type MarketEvent struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Summary     string   `json:"summary"`
	Industries  []string `json:"industries,omitempty"`
	Geographies []string `json:"geographies,omitempty"`
	Source      string   `json:"source,omitempty"`
}

// Relevance is the model's judgment of how much an event matters to a client.
type Relevance struct {
	Score     float64 `json:"score"`
	Rationale string  `json:"rationale"`
}

// Validate implements classify.Validator.
func (r *Relevance) Validate() error {
	if r.Score < 0 || r.Score > 1 {
		return eris.Errorf("relevance score %v out of range", r.Score)
	}
	return nil
}

// Exposure is the model's judgment of whether one company is affected by an
// event.
type Exposure struct {
	CompanyID  string  `json:"company_id"`
	Affected   bool    `json:"affected"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

func (e Exposure) valid() bool {
	return e.CompanyID != "" && e.Confidence >= 0 && e.Confidence <= 1
}

type exposureReply struct {
	Evaluations []Exposure `json:"evaluations"`
}

func (r *exposureReply) Validate() error {
	if r.Evaluations == nil {
		return eris.New("missing evaluations")
	}
	return nil
}

const relevanceInstructions = `You assess whether a market event matters to a B2B company's sales motion.
Score relevance from 0 (irrelevant) to 1 (directly changes who they should sell to now).
Base the score only on the client profile and the event text provided.`

const relevanceShape = `{"score": 0.0, "rationale": "one sentence"}`

const exposureInstructions = `You decide, for each listed company, whether a market event affects it.
Return one evaluation per company, using the company_id exactly as given.
Confidence is your certainty in the affected verdict, from 0 to 1.`

const exposureShape = `{"evaluations": [{"company_id": "id", "affected": true, "confidence": 0.0, "reason": "short"}]}`

// MarketRelevance scores how relevant event is to client.
func (d *Detector) MarketRelevance(ctx context.Context, client *model.Client, event MarketEvent) (*Relevance, error) {
	if d.classifier == nil {
		return nil, classify.ErrNotConfigured
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Client: %s\n", client.Name)
	if client.Industry != "" {
		fmt.Fprintf(&b, "Client industry: %s\n", client.Industry)
	}
	if client.Description != "" {
		fmt.Fprintf(&b, "Client description: %s\n", client.Description)
	}
	b.WriteString("\nEvent:\n")
	b.WriteString(eventText(event))

	var out Relevance
	err := d.classifier.Classify(ctx, classify.Request{
		Task:         "market_relevance",
		Instructions: relevanceInstructions,
		Shape:        relevanceShape,
		Evidence:     b.String(),
		MaxTokens:    256,
	}, &out)
	if err != nil {
		return nil, eris.Wrap(err, "signal: market relevance")
	}
	return &out, nil
}

// EvaluateExposure asks whether each company is affected by event. Entries
// the model omitted, duplicated, or returned out of range are dropped; the
// caller treats a missing company as unaffected.
func (d *Detector) EvaluateExposure(ctx context.Context, event MarketEvent, companies []model.Company) (map[string]Exposure, error) {
	if d.classifier == nil {
		return nil, classify.ErrNotConfigured
	}
	if len(companies) == 0 {
		return map[string]Exposure{}, nil
	}

	type brief struct {
		ID          string `json:"company_id"`
		Name        string `json:"name"`
		Domain      string `json:"domain,omitempty"`
		Industry    string `json:"industry,omitempty"`
		Description string `json:"description,omitempty"`
		Country     string `json:"country,omitempty"`
	}
	briefs := make([]brief, len(companies))
	ids := make(map[string]bool, len(companies))
	for i, c := range companies {
		briefs[i] = brief{c.ID, c.Name, c.Domain, c.Industry, truncate(c.Description, 400), c.Country}
		ids[c.ID] = true
	}
	list, err := json.Marshal(briefs)
	if err != nil {
		return nil, eris.Wrap(err, "signal: marshal companies")
	}

	var reply exposureReply
	err = d.classifier.Classify(ctx, classify.Request{
		Task:         "market_exposure",
		Instructions: exposureInstructions,
		Shape:        exposureShape,
		Evidence:     "Event:\n" + eventText(event) + "\nCompanies:\n" + string(list),
		MaxTokens:    int64(200 + 120*len(companies)),
	}, &reply)
	if err != nil {
		return nil, eris.Wrap(err, "signal: evaluate exposure")
	}

	out := make(map[string]Exposure, len(reply.Evaluations))
	for _, e := range reply.Evaluations {
		if !e.valid() || !ids[e.CompanyID] {
			continue
		}
		if _, dup := out[e.CompanyID]; dup {
			continue
		}
		out[e.CompanyID] = e
	}
	return out, nil
}

// ExposureSignal builds the market_exposure signal for an affected company.
func (d *Detector) ExposureSignal(c *model.Company, event MarketEvent, e Exposure, relevance float64) model.Signal {
	s := d.newSignal(c.ClientID, model.ScopeCompany, c.ID, model.SignalMarketExposure,
		e.Confidence*relevance, truncate(event.Title+": "+e.Reason, 500), d.now().UTC())
	s.Source = "market:" + orDefault(event.ID, "event")
	return s
}

func eventText(e MarketEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", e.Title)
	if e.Summary != "" {
		fmt.Fprintf(&b, "Summary: %s\n", e.Summary)
	}
	if len(e.Industries) > 0 {
		fmt.Fprintf(&b, "Industries: %s\n", strings.Join(e.Industries, ", "))
	}
	if len(e.Geographies) > 0 {
		fmt.Fprintf(&b, "Geographies: %s\n", strings.Join(e.Geographies, ", "))
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
