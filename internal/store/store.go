// Package store persists clients, the credit ledger, targets, signals, lists,
// strategies, provider statistics and jobs. PostgresStore is the production
// backend; SQLiteStore serves local runs and tests.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/money"
)

// CreditMutation computes the ledger row to append from the locked client row.
// It runs inside the storage transaction; returning an error aborts it and the
// error is passed back unchanged.
type CreditMutation func(c model.Client) (*model.CreditTransaction, error)

// CompanyFilter narrows ListCompanies.
type CompanyFilter struct {
	ClientID string
	ListID   string              // only active members of this list
	Stage    model.PipelineStage // exact stage
	IDs      []string
	Limit    int
}

// ContactFilter narrows ListContacts.
type ContactFilter struct {
	ClientID  string
	CompanyID string
	ListID    string // contacts of companies that are active members of this list
	Limit     int
}

// CompanyScores is the score set written by the scorer and promoter.
type CompanyScores struct {
	ICPFit       float64
	Signal       float64
	Originality  float64
	Intelligence float64
}

// ProviderCall is one waterfall attempt fed into the performance stats.
type ProviderCall struct {
	ClientID string
	Provider string
	Success  bool
	Quality  float64
	Fields   int
	Credits  money.Decimal
}

// Store is the persistence interface.
type Store interface {
	// Clients and ledger
	CreateClient(ctx context.Context, c *model.Client) error
	GetClient(ctx context.Context, id string) (*model.Client, error)
	ApplyCreditMutation(ctx context.Context, clientID string, mutate CreditMutation) (*model.CreditTransaction, error)
	ListTransactions(ctx context.Context, clientID string, limit int) ([]model.CreditTransaction, error)

	// Companies
	UpsertCompany(ctx context.Context, c *model.Company) error
	GetCompany(ctx context.Context, id string) (*model.Company, error)
	GetCompanyByDomain(ctx context.Context, clientID, domain string) (*model.Company, error)
	ListCompanies(ctx context.Context, f CompanyFilter) ([]model.Company, error)
	UpdateCompanyScores(ctx context.Context, id string, s CompanyScores) error
	TransitionStage(ctx context.Context, id string, from, to model.PipelineStage) (bool, error)

	// Contacts
	UpsertContact(ctx context.Context, c *model.Contact) error
	GetContact(ctx context.Context, id string) (*model.Contact, error)
	FindContact(ctx context.Context, clientID, dedupeKey string) (*model.Contact, error)
	ListContacts(ctx context.Context, f ContactFilter) ([]model.Contact, error)
	UpdateContactScores(ctx context.Context, id string, personaFit, signal float64) error

	// Signals
	InsertSignals(ctx context.Context, signals []model.Signal) error
	ActiveSignals(ctx context.Context, scope model.SignalScope, entityID string, now time.Time) ([]model.Signal, error)

	// Profiles
	SaveICP(ctx context.Context, icp *model.ICP) error
	GetICP(ctx context.Context, id string) (*model.ICP, error)
	SavePersona(ctx context.Context, p *model.Persona) error
	GetPersona(ctx context.Context, id string) (*model.Persona, error)

	// Lists
	CreateList(ctx context.Context, l *model.List) error
	GetList(ctx context.Context, id string) (*model.List, error)
	UpsertListMembers(ctx context.Context, members []model.ListMember) error
	ListMembers(ctx context.Context, listID string, includeRemoved bool) ([]model.ListMember, error)
	RemoveListMembers(ctx context.Context, listID string, companyIDs []string, at time.Time) (int64, error)

	// Strategy cache
	GetStrategy(ctx context.Context, contextHash string, now time.Time) (*model.Strategy, error)
	PutStrategy(ctx context.Context, s *model.Strategy) (bool, error)

	// Provider performance
	RecordProviderCall(ctx context.Context, call ProviderCall) error
	ListProviderStats(ctx context.Context, clientID string) ([]model.ProviderStat, error)

	// Jobs
	CreateJob(ctx context.Context, j *model.EnrichmentJob) error
	UpdateJob(ctx context.Context, j *model.EnrichmentJob) error
	GetJob(ctx context.Context, id string) (*model.EnrichmentJob, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

type scannable interface {
	Scan(dest ...any) error
}

const defaultListLimit = 500

func limitOr(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}

func marshalJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	return b, eris.Wrap(err, "store: marshal")
}

func unmarshalJSON(b []byte, v any) error {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	return eris.Wrap(json.Unmarshal(b, v), "store: unmarshal")
}

func parseDecimal(s string) (money.Decimal, error) {
	if s == "" {
		return money.Zero, nil
	}
	return money.Parse(s)
}

// Column lists shared by both backends; Postgres casts numerics to text.
const (
	companyColumns = `id, client_id, domain, name, description, industry, employee_count, country, state, city,
	revenue, tech_stack, funding_stage, founded_year, last_funding_at, headcount_growth_pct, open_jobs,
	sources, pipeline_stage, icp_fit_score, signal_score, originality_score, enrichment_score,
	intelligence_score, %s, created_at, updated_at`

	contactColumns = `id, client_id, company_id, full_name, first_name, last_name, title, seniority, department,
	linkedin_url, email, email_status, previous_title, role_started_at, sources, persona_fit_score,
	signal_score, enrichment_score, created_at, updated_at`

	signalColumns = `id, client_id, scope, entity_id, signal_type, signal_strength, evidence, source, detected_at, expires_at`

	memberColumns = `id, list_id, company_id, contact_id, icp_fit_score, signal_score, originality_score,
	intelligence_score, added_reason, added_at, removed_at`
)

func scanCompany(row scannable) (*model.Company, error) {
	var (
		c                 model.Company
		techJSON, srcJSON []byte
		credits           string
	)
	err := row.Scan(&c.ID, &c.ClientID, &c.Domain, &c.Name, &c.Description, &c.Industry, &c.EmployeeCount,
		&c.Country, &c.State, &c.City, &c.Revenue, &techJSON, &c.FundingStage, &c.FoundedYear,
		&c.LastFundingAt, &c.HeadcountGrowthPct, &c.OpenJobs, &srcJSON, &c.PipelineStage,
		&c.ICPFitScore, &c.SignalScore, &c.OriginalityScore, &c.EnrichmentScore, &c.IntelligenceScore,
		&credits, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(techJSON, &c.TechStack); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(srcJSON, &c.Sources); err != nil {
		return nil, err
	}
	if c.CreditsSpent, err = parseDecimal(credits); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanContact(row scannable) (*model.Contact, error) {
	var (
		c       model.Contact
		srcJSON []byte
		status  string
	)
	err := row.Scan(&c.ID, &c.ClientID, &c.CompanyID, &c.FullName, &c.FirstName, &c.LastName, &c.Title,
		&c.Seniority, &c.Department, &c.LinkedInURL, &c.Email, &status, &c.PreviousTitle,
		&c.RoleStartedAt, &srcJSON, &c.PersonaFitScore, &c.SignalScore, &c.EnrichmentScore,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.EmailStatus = model.EmailStatus(status)
	if err := unmarshalJSON(srcJSON, &c.Sources); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanSignal(row scannable) (*model.Signal, error) {
	var s model.Signal
	err := row.Scan(&s.ID, &s.ClientID, &s.Scope, &s.EntityID, &s.SignalType, &s.SignalStrength,
		&s.Evidence, &s.Source, &s.DetectedAt, &s.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func scanMember(row scannable) (*model.ListMember, error) {
	var m model.ListMember
	err := row.Scan(&m.ID, &m.ListID, &m.CompanyID, &m.ContactID, &m.ICPFitScore, &m.SignalScore,
		&m.OriginalityScore, &m.IntelligenceScore, &m.AddedReason, &m.AddedAt, &m.RemovedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func scanClient(row scannable) (*model.Client, error) {
	var (
		c               model.Client
		balance, margin string
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Description, &c.Industry, &balance, &margin, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if c.CreditBalance, err = parseDecimal(balance); err != nil {
		return nil, err
	}
	if c.MarginPercent, err = parseDecimal(margin); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanTransaction(row scannable) (*model.CreditTransaction, error) {
	var (
		t                   model.CreditTransaction
		amount, after       string
		baseCost, marginAmt *string
	)
	err := row.Scan(&t.ID, &t.ClientID, &t.Type, &amount, &baseCost, &marginAmt, &after,
		&t.Source, &t.Operation, &t.JobID, &t.Note, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	if t.Amount, err = parseDecimal(amount); err != nil {
		return nil, err
	}
	if t.BalanceAfter, err = parseDecimal(after); err != nil {
		return nil, err
	}
	for _, p := range []struct {
		src *string
		dst **money.Decimal
	}{{baseCost, &t.BaseCost}, {marginAmt, &t.MarginAmount}} {
		if p.src == nil {
			continue
		}
		d, err := parseDecimal(*p.src)
		if err != nil {
			return nil, err
		}
		*p.dst = &d
	}
	return &t, nil
}

func scanStrategy(row scannable) (*model.Strategy, error) {
	var (
		s                         model.Strategy
		plan, priorities, weights []byte
		budget                    string
	)
	err := row.Scan(&s.ContextHash, &s.ClientID, &s.ICPID, &s.PersonaID, &plan, &priorities, &weights,
		&budget, &s.Rationale, &s.CreatedAt, &s.ExpiresAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(plan, &s.ProviderPlan); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(priorities, &s.SignalPriorities); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(weights, &s.ScoringWeights); err != nil {
		return nil, err
	}
	if s.MaxBudgetPerCompany, err = parseDecimal(budget); err != nil {
		return nil, err
	}
	return &s, nil
}

func scanJob(row scannable) (*model.EnrichmentJob, error) {
	var (
		j       model.EnrichmentJob
		errJSON []byte
		credits string
	)
	err := row.Scan(&j.ID, &j.ClientID, &j.Kind, &j.Status, &j.Total, &j.Processed, &j.Failed,
		&errJSON, &credits, &j.StartedAt, &j.CompletedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(errJSON, &j.Errors); err != nil {
		return nil, err
	}
	if j.CreditsCharged, err = parseDecimal(credits); err != nil {
		return nil, err
	}
	return &j, nil
}

func scanProviderStat(row scannable) (*model.ProviderStat, error) {
	var (
		p       model.ProviderStat
		credits string
	)
	err := row.Scan(&p.ClientID, &p.Provider, &p.Calls, &p.Successes, &p.AvgQuality, &p.AvgFields, &credits, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if p.CreditsSpent, err = parseDecimal(credits); err != nil {
		return nil, err
	}
	return &p, nil
}

// contactKey is the stored dedupe key; contacts without one are keyed by id
// so they never collide.
func contactKey(c *model.Contact) string {
	if k := c.DedupeKey(); k != "" {
		return k
	}
	return "id:" + c.ID
}

// runningAvg folds x into an average over n prior samples.
func runningAvg(avg float64, n int64, x float64) float64 {
	return (avg*float64(n) + x) / float64(n+1)
}
