package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-engine/internal/db"
	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/money"
)

// PostgresStore implements Store on a pgx pool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres connects to dsn and returns a store that owns the pool.
func NewPostgres(ctx context.Context, dsn string, opts db.PoolOptions) (*PostgresStore, error) {
	if opts.MaxConns == 0 {
		opts.MaxConns = 10
	}
	if opts.MaxConnLifetime == 0 {
		opts.MaxConnLifetime = 30 * time.Minute
	}
	pool, err := db.Connect(ctx, dsn, opts)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. The caller keeps ownership.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS clients (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	description    TEXT NOT NULL DEFAULT '',
	industry       TEXT NOT NULL DEFAULT '',
	credit_balance NUMERIC(20,4) NOT NULL DEFAULT 0 CHECK (credit_balance >= 0),
	margin_percent NUMERIC(8,4) NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS credit_transactions (
	id            TEXT PRIMARY KEY,
	client_id     TEXT NOT NULL REFERENCES clients(id),
	type          TEXT NOT NULL,
	amount        NUMERIC(20,4) NOT NULL,
	base_cost     NUMERIC(20,4),
	margin_amount NUMERIC(20,4),
	balance_after NUMERIC(20,4) NOT NULL,
	source        TEXT NOT NULL DEFAULT '',
	operation     TEXT NOT NULL DEFAULT '',
	job_id        TEXT NOT NULL DEFAULT '',
	note          TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_credit_tx_client ON credit_transactions(client_id, id DESC);

CREATE TABLE IF NOT EXISTS companies (
	id                   TEXT PRIMARY KEY,
	client_id            TEXT NOT NULL REFERENCES clients(id),
	domain               TEXT NOT NULL,
	name                 TEXT NOT NULL DEFAULT '',
	description          TEXT NOT NULL DEFAULT '',
	industry             TEXT NOT NULL DEFAULT '',
	employee_count       INTEGER,
	country              TEXT NOT NULL DEFAULT '',
	state                TEXT NOT NULL DEFAULT '',
	city                 TEXT NOT NULL DEFAULT '',
	revenue              DOUBLE PRECISION,
	tech_stack           JSONB NOT NULL DEFAULT '[]',
	funding_stage        TEXT NOT NULL DEFAULT '',
	founded_year         INTEGER,
	last_funding_at      TIMESTAMPTZ,
	headcount_growth_pct DOUBLE PRECISION,
	open_jobs            INTEGER,
	sources              JSONB NOT NULL DEFAULT '[]',
	pipeline_stage       TEXT NOT NULL DEFAULT 'tam',
	icp_fit_score        DOUBLE PRECISION NOT NULL DEFAULT 0,
	signal_score         DOUBLE PRECISION NOT NULL DEFAULT 0,
	originality_score    DOUBLE PRECISION NOT NULL DEFAULT 0,
	enrichment_score     DOUBLE PRECISION NOT NULL DEFAULT 0,
	intelligence_score   DOUBLE PRECISION NOT NULL DEFAULT 0,
	credits_spent        NUMERIC(20,4) NOT NULL DEFAULT 0,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (client_id, domain)
);
CREATE INDEX IF NOT EXISTS idx_companies_stage ON companies(client_id, pipeline_stage);

CREATE TABLE IF NOT EXISTS contacts (
	id                TEXT PRIMARY KEY,
	client_id         TEXT NOT NULL REFERENCES clients(id),
	company_id        TEXT NOT NULL DEFAULT '',
	dedupe_key        TEXT NOT NULL,
	full_name         TEXT NOT NULL DEFAULT '',
	first_name        TEXT NOT NULL DEFAULT '',
	last_name         TEXT NOT NULL DEFAULT '',
	title             TEXT NOT NULL DEFAULT '',
	seniority         TEXT NOT NULL DEFAULT '',
	department        TEXT NOT NULL DEFAULT '',
	linkedin_url      TEXT NOT NULL DEFAULT '',
	email             TEXT NOT NULL DEFAULT '',
	email_status      TEXT NOT NULL DEFAULT '',
	previous_title    TEXT NOT NULL DEFAULT '',
	role_started_at   TIMESTAMPTZ,
	sources           JSONB NOT NULL DEFAULT '[]',
	persona_fit_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	signal_score      DOUBLE PRECISION NOT NULL DEFAULT 0,
	enrichment_score  DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (client_id, dedupe_key)
);
CREATE INDEX IF NOT EXISTS idx_contacts_company ON contacts(company_id);

CREATE TABLE IF NOT EXISTS signals (
	id              TEXT PRIMARY KEY,
	client_id       TEXT NOT NULL,
	scope           TEXT NOT NULL,
	entity_id       TEXT NOT NULL,
	signal_type     TEXT NOT NULL,
	signal_strength DOUBLE PRECISION NOT NULL CHECK (signal_strength BETWEEN 0 AND 1),
	evidence        TEXT NOT NULL DEFAULT '',
	source          TEXT NOT NULL,
	detected_at     TIMESTAMPTZ NOT NULL,
	expires_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signals_entity ON signals(scope, entity_id, expires_at);

CREATE TABLE IF NOT EXISTS icps (
	id         TEXT PRIMARY KEY,
	client_id  TEXT NOT NULL REFERENCES clients(id),
	name       TEXT NOT NULL,
	filters    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS personas (
	id          TEXT PRIMARY KEY,
	client_id   TEXT NOT NULL REFERENCES clients(id),
	name        TEXT NOT NULL,
	titles      JSONB NOT NULL DEFAULT '[]',
	seniorities JSONB NOT NULL DEFAULT '[]',
	departments JSONB NOT NULL DEFAULT '[]',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS lists (
	id         TEXT PRIMARY KEY,
	client_id  TEXT NOT NULL REFERENCES clients(id),
	name       TEXT NOT NULL,
	icp_id     TEXT NOT NULL DEFAULT '',
	persona_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS list_members (
	id                 TEXT PRIMARY KEY,
	list_id            TEXT NOT NULL REFERENCES lists(id),
	company_id         TEXT NOT NULL DEFAULT '',
	contact_id         TEXT NOT NULL DEFAULT '',
	icp_fit_score      DOUBLE PRECISION NOT NULL DEFAULT 0,
	signal_score       DOUBLE PRECISION NOT NULL DEFAULT 0,
	originality_score  DOUBLE PRECISION NOT NULL DEFAULT 0,
	intelligence_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	added_reason       TEXT NOT NULL DEFAULT '',
	added_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	removed_at         TIMESTAMPTZ,
	UNIQUE (list_id, company_id, contact_id)
);

CREATE TABLE IF NOT EXISTS strategies (
	context_hash      TEXT PRIMARY KEY,
	client_id         TEXT NOT NULL,
	icp_id            TEXT NOT NULL,
	persona_id        TEXT NOT NULL,
	provider_plan     JSONB NOT NULL,
	signal_priorities JSONB NOT NULL DEFAULT '{}',
	scoring_weights   JSONB NOT NULL,
	max_budget        NUMERIC(20,4) NOT NULL DEFAULT 0,
	rationale         TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL,
	expires_at        TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS provider_stats (
	client_id     TEXT NOT NULL,
	provider      TEXT NOT NULL,
	calls         BIGINT NOT NULL DEFAULT 0,
	successes     BIGINT NOT NULL DEFAULT 0,
	avg_quality   DOUBLE PRECISION NOT NULL DEFAULT 0,
	avg_fields    DOUBLE PRECISION NOT NULL DEFAULT 0,
	credits_spent NUMERIC(20,4) NOT NULL DEFAULT 0,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (client_id, provider)
);

CREATE TABLE IF NOT EXISTS enrichment_jobs (
	id              TEXT PRIMARY KEY,
	client_id       TEXT NOT NULL,
	kind            TEXT NOT NULL,
	status          TEXT NOT NULL,
	total           INTEGER NOT NULL DEFAULT 0,
	processed       INTEGER NOT NULL DEFAULT 0,
	failed          INTEGER NOT NULL DEFAULT 0,
	errors          JSONB NOT NULL DEFAULT '[]',
	credits_charged NUMERIC(20,4) NOT NULL DEFAULT 0,
	started_at      TIMESTAMPTZ NOT NULL,
	completed_at    TIMESTAMPTZ
);
`

// Migrate creates the schema. It is idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool if the store owns it.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func pgNotFound(err error, entity, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return model.NewNotFound(entity, id)
	}
	return eris.Wrapf(err, "postgres: get %s %s", entity, id)
}

// --- Clients and ledger ---

const pgClientSelect = `SELECT id, name, description, industry, credit_balance::text, margin_percent::text, created_at, updated_at FROM clients WHERE id = $1`

func (s *PostgresStore) CreateClient(ctx context.Context, c *model.Client) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	_, err := s.pool.Exec(ctx,
		`INSERT INTO clients (id, name, description, industry, credit_balance, margin_percent, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8)`,
		c.ID, c.Name, c.Description, c.Industry, c.CreditBalance.String(), c.MarginPercent.String(), now, now)
	return eris.Wrapf(err, "postgres: create client %s", c.ID)
}

func (s *PostgresStore) GetClient(ctx context.Context, id string) (*model.Client, error) {
	c, err := scanClient(s.pool.QueryRow(ctx, pgClientSelect, id))
	if err != nil {
		return nil, pgNotFound(err, "client", id)
	}
	return c, nil
}

// ApplyCreditMutation locks the client row, lets mutate compute the ledger
// row, then writes the balance and appends the row in the same transaction.
func (s *PostgresStore) ApplyCreditMutation(ctx context.Context, clientID string, mutate CreditMutation) (*model.CreditTransaction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: credit mutation: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	client, err := scanClient(tx.QueryRow(ctx, pgClientSelect+` FOR UPDATE`, clientID))
	if err != nil {
		return nil, pgNotFound(err, "client", clientID)
	}

	t, err := mutate(*client)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx,
		`UPDATE clients SET credit_balance = $1::numeric, updated_at = $2 WHERE id = $3`,
		t.BalanceAfter.String(), now, clientID); err != nil {
		return nil, eris.Wrap(err, "postgres: credit mutation: update balance")
	}

	t.ClientID = clientID
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO credit_transactions (id, client_id, type, amount, base_cost, margin_amount, balance_after, source, operation, job_id, note, created_at)
		 VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7::numeric, $8, $9, $10, $11, $12)`,
		t.ID, clientID, string(t.Type), t.Amount.String(), optDecimal(t.BaseCost), optDecimal(t.MarginAmount),
		t.BalanceAfter.String(), t.Source, t.Operation, t.JobID, t.Note, t.CreatedAt); err != nil {
		return nil, eris.Wrap(err, "postgres: credit mutation: insert transaction")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: credit mutation: commit")
	}
	return t, nil
}

func optDecimal(d *money.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func (s *PostgresStore) ListTransactions(ctx context.Context, clientID string, limit int) ([]model.CreditTransaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, client_id, type, amount::text, base_cost::text, margin_amount::text, balance_after::text,
		        source, operation, job_id, note, created_at
		 FROM credit_transactions WHERE client_id = $1 ORDER BY id DESC LIMIT $2`,
		clientID, limitOr(limit))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list transactions")
	}
	defer rows.Close()

	var out []model.CreditTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan transaction")
		}
		out = append(out, *t)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list transactions")
}

// --- Companies ---

var pgCompanySelect = `SELECT ` + fmt.Sprintf(companyColumns, "credits_spent::text") + ` FROM companies`

// UpsertCompany inserts or refreshes a company by (client, domain). On
// conflict the stored stage and fit scores are kept; c.ID is set to the
// stored id.
func (s *PostgresStore) UpsertCompany(ctx context.Context, c *model.Company) error {
	techJSON, err := marshalJSON(nonNil(c.TechStack))
	if err != nil {
		return err
	}
	srcJSON, err := marshalJSON(nonNilSources(c.Sources))
	if err != nil {
		return err
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.PipelineStage == "" {
		c.PipelineStage = model.StageTAM
	}
	c.Domain = model.NormalizeDomain(c.Domain)
	now := time.Now().UTC()
	c.UpdatedAt = now

	err = s.pool.QueryRow(ctx,
		`INSERT INTO companies (id, client_id, domain, name, description, industry, employee_count, country, state, city,
			revenue, tech_stack, funding_stage, founded_year, last_funding_at, headcount_growth_pct, open_jobs,
			sources, pipeline_stage, enrichment_score, credits_spent, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21::numeric, $22, $22)
		 ON CONFLICT (client_id, domain) DO UPDATE SET
			name = EXCLUDED.name, description = EXCLUDED.description, industry = EXCLUDED.industry,
			employee_count = EXCLUDED.employee_count, country = EXCLUDED.country, state = EXCLUDED.state,
			city = EXCLUDED.city, revenue = EXCLUDED.revenue, tech_stack = EXCLUDED.tech_stack,
			funding_stage = EXCLUDED.funding_stage, founded_year = EXCLUDED.founded_year,
			last_funding_at = EXCLUDED.last_funding_at, headcount_growth_pct = EXCLUDED.headcount_growth_pct,
			open_jobs = EXCLUDED.open_jobs, sources = EXCLUDED.sources,
			enrichment_score = EXCLUDED.enrichment_score, credits_spent = EXCLUDED.credits_spent,
			updated_at = EXCLUDED.updated_at
		 RETURNING id, created_at`,
		c.ID, c.ClientID, c.Domain, c.Name, c.Description, c.Industry, c.EmployeeCount, c.Country, c.State, c.City,
		c.Revenue, techJSON, c.FundingStage, c.FoundedYear, c.LastFundingAt, c.HeadcountGrowthPct, c.OpenJobs,
		srcJSON, string(c.PipelineStage), c.EnrichmentScore, c.CreditsSpent.String(), now,
	).Scan(&c.ID, &c.CreatedAt)
	return eris.Wrapf(err, "postgres: upsert company %s", c.Domain)
}

func (s *PostgresStore) GetCompany(ctx context.Context, id string) (*model.Company, error) {
	c, err := scanCompany(s.pool.QueryRow(ctx, pgCompanySelect+` WHERE id = $1`, id))
	if err != nil {
		return nil, pgNotFound(err, "company", id)
	}
	return c, nil
}

func (s *PostgresStore) GetCompanyByDomain(ctx context.Context, clientID, domain string) (*model.Company, error) {
	domain = model.NormalizeDomain(domain)
	c, err := scanCompany(s.pool.QueryRow(ctx, pgCompanySelect+` WHERE client_id = $1 AND domain = $2`, clientID, domain))
	if err != nil {
		return nil, pgNotFound(err, "company", domain)
	}
	return c, nil
}

func (s *PostgresStore) ListCompanies(ctx context.Context, f CompanyFilter) ([]model.Company, error) {
	query := pgCompanySelect + ` WHERE client_id = $1`
	args := []any{f.ClientID}
	argIdx := 2

	if f.ListID != "" {
		query += fmt.Sprintf(` AND id IN (SELECT company_id FROM list_members WHERE list_id = $%d AND removed_at IS NULL)`, argIdx)
		args = append(args, f.ListID)
		argIdx++
	}
	if f.Stage != "" {
		query += fmt.Sprintf(` AND pipeline_stage = $%d`, argIdx)
		args = append(args, string(f.Stage))
		argIdx++
	}
	if len(f.IDs) > 0 {
		query += fmt.Sprintf(` AND id = ANY($%d)`, argIdx)
		args = append(args, f.IDs)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY domain LIMIT $%d`, argIdx)
	args = append(args, limitOr(f.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list companies")
	}
	defer rows.Close()

	var out []model.Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan company")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list companies")
}

func (s *PostgresStore) UpdateCompanyScores(ctx context.Context, id string, sc CompanyScores) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE companies SET icp_fit_score = $1, signal_score = $2, originality_score = $3, intelligence_score = $4, updated_at = $5 WHERE id = $6`,
		sc.ICPFit, sc.Signal, sc.Originality, sc.Intelligence, time.Now().UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "postgres: update company scores %s", id)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFound("company", id)
	}
	return nil
}

// TransitionStage moves a company from one stage to another only if it is
// still in from. It reports whether the row changed.
func (s *PostgresStore) TransitionStage(ctx context.Context, id string, from, to model.PipelineStage) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE companies SET pipeline_stage = $1, updated_at = $2 WHERE id = $3 AND pipeline_stage = $4`,
		string(to), time.Now().UTC(), id, string(from))
	if err != nil {
		return false, eris.Wrapf(err, "postgres: transition %s", id)
	}
	return tag.RowsAffected() == 1, nil
}

// --- Contacts ---

const pgContactSelect = `SELECT ` + contactColumns + ` FROM contacts`

func (s *PostgresStore) UpsertContact(ctx context.Context, c *model.Contact) error {
	srcJSON, err := marshalJSON(nonNilSources(c.Sources))
	if err != nil {
		return err
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	c.UpdatedAt = now
	c.EnrichmentScore = c.Completeness()

	err = s.pool.QueryRow(ctx,
		`INSERT INTO contacts (id, client_id, company_id, dedupe_key, full_name, first_name, last_name, title, seniority,
			department, linkedin_url, email, email_status, previous_title, role_started_at, sources, enrichment_score,
			created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $18)
		 ON CONFLICT (client_id, dedupe_key) DO UPDATE SET
			company_id = EXCLUDED.company_id, full_name = EXCLUDED.full_name, first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name, title = EXCLUDED.title, seniority = EXCLUDED.seniority,
			department = EXCLUDED.department, linkedin_url = EXCLUDED.linkedin_url, email = EXCLUDED.email,
			email_status = EXCLUDED.email_status, previous_title = EXCLUDED.previous_title,
			role_started_at = EXCLUDED.role_started_at, sources = EXCLUDED.sources,
			enrichment_score = EXCLUDED.enrichment_score, updated_at = EXCLUDED.updated_at
		 RETURNING id, created_at`,
		c.ID, c.ClientID, c.CompanyID, contactKey(c), c.FullName, c.FirstName, c.LastName, c.Title, c.Seniority,
		c.Department, c.LinkedInURL, c.Email, string(c.EmailStatus), c.PreviousTitle, c.RoleStartedAt, srcJSON,
		c.EnrichmentScore, now,
	).Scan(&c.ID, &c.CreatedAt)
	return eris.Wrapf(err, "postgres: upsert contact %s", c.DisplayName())
}

func (s *PostgresStore) GetContact(ctx context.Context, id string) (*model.Contact, error) {
	c, err := scanContact(s.pool.QueryRow(ctx, pgContactSelect+` WHERE id = $1`, id))
	if err != nil {
		return nil, pgNotFound(err, "contact", id)
	}
	return c, nil
}

func (s *PostgresStore) FindContact(ctx context.Context, clientID, dedupeKey string) (*model.Contact, error) {
	c, err := scanContact(s.pool.QueryRow(ctx, pgContactSelect+` WHERE client_id = $1 AND dedupe_key = $2`, clientID, dedupeKey))
	if err != nil {
		return nil, pgNotFound(err, "contact", dedupeKey)
	}
	return c, nil
}

func (s *PostgresStore) ListContacts(ctx context.Context, f ContactFilter) ([]model.Contact, error) {
	query := pgContactSelect + ` WHERE client_id = $1`
	args := []any{f.ClientID}
	argIdx := 2
	if f.CompanyID != "" {
		query += fmt.Sprintf(` AND company_id = $%d`, argIdx)
		args = append(args, f.CompanyID)
		argIdx++
	}
	if f.ListID != "" {
		query += fmt.Sprintf(` AND company_id IN (SELECT company_id FROM list_members WHERE list_id = $%d AND removed_at IS NULL)`, argIdx)
		args = append(args, f.ListID)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY id LIMIT $%d`, argIdx)
	args = append(args, limitOr(f.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list contacts")
	}
	defer rows.Close()

	var out []model.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan contact")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list contacts")
}

func (s *PostgresStore) UpdateContactScores(ctx context.Context, id string, personaFit, signal float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE contacts SET persona_fit_score = $1, signal_score = $2, updated_at = $3 WHERE id = $4`,
		personaFit, signal, time.Now().UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "postgres: update contact scores %s", id)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFound("contact", id)
	}
	return nil
}

// --- Signals ---

var signalCopyColumns = []string{"id", "client_id", "scope", "entity_id", "signal_type", "signal_strength", "evidence", "source", "detected_at", "expires_at"}

// InsertSignals appends signals with COPY. Existing rows are never touched.
func (s *PostgresStore) InsertSignals(ctx context.Context, signals []model.Signal) error {
	rows := make([][]any, 0, len(signals))
	for i := range signals {
		sig := &signals[i]
		if sig.ID == "" {
			sig.ID = uuid.New().String()
		}
		rows = append(rows, []any{sig.ID, sig.ClientID, string(sig.Scope), sig.EntityID, sig.SignalType,
			sig.SignalStrength, sig.Evidence, sig.Source, sig.DetectedAt.UTC(), sig.ExpiresAt.UTC()})
	}
	_, err := db.CopyFrom(ctx, s.pool, "signals", signalCopyColumns, rows)
	return eris.Wrap(err, "postgres: insert signals")
}

// ActiveSignals returns unexpired signals for an entity, newest per type and source.
func (s *PostgresStore) ActiveSignals(ctx context.Context, scope model.SignalScope, entityID string, now time.Time) ([]model.Signal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+signalColumns+` FROM signals WHERE scope = $1 AND entity_id = $2 AND expires_at > $3 ORDER BY detected_at DESC`,
		string(scope), entityID, now.UTC())
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list signals")
	}
	defer rows.Close()

	var all []model.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan signal")
		}
		all = append(all, *sig)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list signals")
	}
	return model.ActiveSignals(all, now), nil
}

// --- Profiles ---

func (s *PostgresStore) SaveICP(ctx context.Context, icp *model.ICP) error {
	filters, err := marshalJSON(icp.Filters)
	if err != nil {
		return err
	}
	if icp.ID == "" {
		icp.ID = uuid.New().String()
	}
	if icp.CreatedAt.IsZero() {
		icp.CreatedAt = time.Now().UTC()
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO icps (id, client_id, name, filters, created_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, filters = EXCLUDED.filters`,
		icp.ID, icp.ClientID, icp.Name, filters, icp.CreatedAt)
	return eris.Wrapf(err, "postgres: save icp %s", icp.ID)
}

func (s *PostgresStore) GetICP(ctx context.Context, id string) (*model.ICP, error) {
	var (
		icp     model.ICP
		filters []byte
	)
	err := s.pool.QueryRow(ctx, `SELECT id, client_id, name, filters, created_at FROM icps WHERE id = $1`, id).
		Scan(&icp.ID, &icp.ClientID, &icp.Name, &filters, &icp.CreatedAt)
	if err != nil {
		return nil, pgNotFound(err, "icp", id)
	}
	if err := unmarshalJSON(filters, &icp.Filters); err != nil {
		return nil, err
	}
	return &icp, nil
}

func (s *PostgresStore) SavePersona(ctx context.Context, p *model.Persona) error {
	titles, err := marshalJSON(nonNil(p.Titles))
	if err != nil {
		return err
	}
	sen, err := marshalJSON(nonNil(p.Seniorities))
	if err != nil {
		return err
	}
	dep, err := marshalJSON(nonNil(p.Departments))
	if err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO personas (id, client_id, name, titles, seniorities, departments, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, titles = EXCLUDED.titles,
			seniorities = EXCLUDED.seniorities, departments = EXCLUDED.departments`,
		p.ID, p.ClientID, p.Name, titles, sen, dep, p.CreatedAt)
	return eris.Wrapf(err, "postgres: save persona %s", p.ID)
}

func (s *PostgresStore) GetPersona(ctx context.Context, id string) (*model.Persona, error) {
	var (
		p                model.Persona
		titles, sen, dep []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, client_id, name, titles, seniorities, departments, created_at FROM personas WHERE id = $1`, id).
		Scan(&p.ID, &p.ClientID, &p.Name, &titles, &sen, &dep, &p.CreatedAt)
	if err != nil {
		return nil, pgNotFound(err, "persona", id)
	}
	for _, f := range []struct {
		b   []byte
		dst *[]string
	}{{titles, &p.Titles}, {sen, &p.Seniorities}, {dep, &p.Departments}} {
		if err := unmarshalJSON(f.b, f.dst); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

// --- Lists ---

func (s *PostgresStore) CreateList(ctx context.Context, l *model.List) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	l.CreatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO lists (id, client_id, name, icp_id, persona_id, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		l.ID, l.ClientID, l.Name, l.ICPID, l.PersonaID, l.CreatedAt)
	return eris.Wrapf(err, "postgres: create list %s", l.Name)
}

func (s *PostgresStore) GetList(ctx context.Context, id string) (*model.List, error) {
	var l model.List
	err := s.pool.QueryRow(ctx, `SELECT id, client_id, name, icp_id, persona_id, created_at FROM lists WHERE id = $1`, id).
		Scan(&l.ID, &l.ClientID, &l.Name, &l.ICPID, &l.PersonaID, &l.CreatedAt)
	if err != nil {
		return nil, pgNotFound(err, "list", id)
	}
	return &l, nil
}

var memberUpsert = db.UpsertSpec{
	Table: "list_members",
	Columns: []string{"id", "list_id", "company_id", "contact_id", "icp_fit_score", "signal_score",
		"originality_score", "intelligence_score", "added_reason", "added_at", "removed_at"},
	ConflictKeys: []string{"list_id", "company_id", "contact_id"},
	UpdateCols: []string{"icp_fit_score", "signal_score", "originality_score", "intelligence_score",
		"added_reason", "removed_at"},
}

// UpsertListMembers inserts members or refreshes their scores, clearing any
// soft delete. Absent ids are stored as empty strings.
func (s *PostgresStore) UpsertListMembers(ctx context.Context, members []model.ListMember) error {
	rows := make([][]any, 0, len(members))
	now := time.Now().UTC()
	for i := range members {
		m := &members[i]
		if m.ID == "" {
			m.ID = uuid.New().String()
		}
		if m.AddedAt.IsZero() {
			m.AddedAt = now
		}
		m.RemovedAt = nil
		rows = append(rows, []any{m.ID, m.ListID, m.CompanyID, m.ContactID, m.ICPFitScore, m.SignalScore,
			m.OriginalityScore, m.IntelligenceScore, m.AddedReason, m.AddedAt, nil})
	}
	_, err := db.BulkUpsert(ctx, s.pool, memberUpsert, rows)
	return eris.Wrap(err, "postgres: upsert list members")
}

func (s *PostgresStore) ListMembers(ctx context.Context, listID string, includeRemoved bool) ([]model.ListMember, error) {
	query := `SELECT ` + memberColumns + ` FROM list_members WHERE list_id = $1`
	if !includeRemoved {
		query += ` AND removed_at IS NULL`
	}
	query += ` ORDER BY intelligence_score DESC, id`

	rows, err := s.pool.Query(ctx, query, listID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list members")
	}
	defer rows.Close()

	var out []model.ListMember
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan member")
		}
		out = append(out, *m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list members")
}

func (s *PostgresStore) RemoveListMembers(ctx context.Context, listID string, companyIDs []string, at time.Time) (int64, error) {
	if len(companyIDs) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE list_members SET removed_at = $1 WHERE list_id = $2 AND company_id = ANY($3) AND removed_at IS NULL`,
		at.UTC(), listID, companyIDs)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: remove members from %s", listID)
	}
	return tag.RowsAffected(), nil
}

// --- Strategy cache ---

func (s *PostgresStore) GetStrategy(ctx context.Context, contextHash string, now time.Time) (*model.Strategy, error) {
	st, err := scanStrategy(s.pool.QueryRow(ctx,
		`SELECT context_hash, client_id, icp_id, persona_id, provider_plan, signal_priorities, scoring_weights,
		        max_budget::text, rationale, created_at, expires_at
		 FROM strategies WHERE context_hash = $1 AND expires_at > $2`,
		contextHash, now.UTC()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get strategy")
	}
	return st, nil
}

// PutStrategy inserts a strategy unless an unexpired one already holds the
// key. It reports whether the row was written.
func (s *PostgresStore) PutStrategy(ctx context.Context, st *model.Strategy) (bool, error) {
	plan, err := marshalJSON(st.ProviderPlan)
	if err != nil {
		return false, err
	}
	prio, err := marshalJSON(st.SignalPriorities)
	if err != nil {
		return false, err
	}
	weights, err := marshalJSON(st.ScoringWeights)
	if err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO strategies (context_hash, client_id, icp_id, persona_id, provider_plan, signal_priorities,
			scoring_weights, max_budget, rationale, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10, $11)
		 ON CONFLICT (context_hash) DO UPDATE SET
			provider_plan = EXCLUDED.provider_plan, signal_priorities = EXCLUDED.signal_priorities,
			scoring_weights = EXCLUDED.scoring_weights, max_budget = EXCLUDED.max_budget,
			rationale = EXCLUDED.rationale, created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at
		 WHERE strategies.expires_at <= EXCLUDED.created_at`,
		st.ContextHash, st.ClientID, st.ICPID, st.PersonaID, plan, prio, weights,
		st.MaxBudgetPerCompany.String(), st.Rationale, st.CreatedAt.UTC(), st.ExpiresAt.UTC())
	if err != nil {
		return false, eris.Wrap(err, "postgres: put strategy")
	}
	return tag.RowsAffected() == 1, nil
}

// --- Provider performance ---

func (s *PostgresStore) RecordProviderCall(ctx context.Context, call ProviderCall) error {
	success := 0
	if call.Success {
		success = 1
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO provider_stats (client_id, provider, calls, successes, avg_quality, avg_fields, credits_spent, updated_at)
		 VALUES ($1, $2, 1, $3, $4, $5, $6::numeric, $7)
		 ON CONFLICT (client_id, provider) DO UPDATE SET
			calls = provider_stats.calls + 1,
			successes = provider_stats.successes + $3,
			avg_quality = CASE WHEN $3 = 1
				THEN (provider_stats.avg_quality * provider_stats.successes + $4) / (provider_stats.successes + 1)
				ELSE provider_stats.avg_quality END,
			avg_fields = CASE WHEN $3 = 1
				THEN (provider_stats.avg_fields * provider_stats.successes + $5) / (provider_stats.successes + 1)
				ELSE provider_stats.avg_fields END,
			credits_spent = provider_stats.credits_spent + $6::numeric,
			updated_at = $7`,
		call.ClientID, call.Provider, success, successOnly(call.Success, call.Quality),
		successOnly(call.Success, float64(call.Fields)), call.Credits.String(), time.Now().UTC())
	return eris.Wrapf(err, "postgres: record provider call %s", call.Provider)
}

func successOnly(ok bool, v float64) float64 {
	if ok {
		return v
	}
	return 0
}

func (s *PostgresStore) ListProviderStats(ctx context.Context, clientID string) ([]model.ProviderStat, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT client_id, provider, calls, successes, avg_quality, avg_fields, credits_spent::text, updated_at
		 FROM provider_stats WHERE client_id = $1 ORDER BY provider`, clientID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list provider stats")
	}
	defer rows.Close()

	var out []model.ProviderStat
	for rows.Next() {
		p, err := scanProviderStat(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan provider stat")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list provider stats")
}

// --- Jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, j *model.EnrichmentJob) error {
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if j.StartedAt.IsZero() {
		j.StartedAt = time.Now().UTC()
	}
	if j.Status == "" {
		j.Status = model.JobRunning
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO enrichment_jobs (id, client_id, kind, status, total, started_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		j.ID, j.ClientID, j.Kind, string(j.Status), j.Total, j.StartedAt)
	return eris.Wrapf(err, "postgres: create job %s", j.ID)
}

func (s *PostgresStore) UpdateJob(ctx context.Context, j *model.EnrichmentJob) error {
	errJSON, err := marshalJSON(nonNilItemErrors(j.Errors))
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE enrichment_jobs SET status = $1, total = $2, processed = $3, failed = $4, errors = $5,
			credits_charged = $6::numeric, completed_at = $7 WHERE id = $8`,
		string(j.Status), j.Total, j.Processed, j.Failed, errJSON, j.CreditsCharged.String(), j.CompletedAt, j.ID)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job %s", j.ID)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFound("job", j.ID)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.EnrichmentJob, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT id, client_id, kind, status, total, processed, failed, errors, credits_charged::text, started_at, completed_at
		 FROM enrichment_jobs WHERE id = $1`, id))
	if err != nil {
		return nil, pgNotFound(err, "job", id)
	}
	return j, nil
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func nonNilSources(v []model.SourceRecord) []model.SourceRecord {
	if v == nil {
		return []model.SourceRecord{}
	}
	return v
}

func nonNilItemErrors(v []model.ItemError) []model.ItemError {
	if v == nil {
		return []model.ItemError{}
	}
	return v
}
