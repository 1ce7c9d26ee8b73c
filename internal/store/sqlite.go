package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/prospect-engine/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It holds a single
// connection, so every write transaction is serialized.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS clients (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	description    TEXT NOT NULL DEFAULT '',
	industry       TEXT NOT NULL DEFAULT '',
	credit_balance TEXT NOT NULL DEFAULT '0',
	margin_percent TEXT NOT NULL DEFAULT '0',
	created_at     DATETIME NOT NULL,
	updated_at     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS credit_transactions (
	id            TEXT PRIMARY KEY,
	client_id     TEXT NOT NULL REFERENCES clients(id),
	type          TEXT NOT NULL,
	amount        TEXT NOT NULL,
	base_cost     TEXT,
	margin_amount TEXT,
	balance_after TEXT NOT NULL,
	source        TEXT NOT NULL DEFAULT '',
	operation     TEXT NOT NULL DEFAULT '',
	job_id        TEXT NOT NULL DEFAULT '',
	note          TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_credit_tx_client ON credit_transactions(client_id, id);

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
	revenue              REAL,
	tech_stack           TEXT NOT NULL DEFAULT '[]',
	funding_stage        TEXT NOT NULL DEFAULT '',
	founded_year         INTEGER,
	last_funding_at      DATETIME,
	headcount_growth_pct REAL,
	open_jobs            INTEGER,
	sources              TEXT NOT NULL DEFAULT '[]',
	pipeline_stage       TEXT NOT NULL DEFAULT 'tam',
	icp_fit_score        REAL NOT NULL DEFAULT 0,
	signal_score         REAL NOT NULL DEFAULT 0,
	originality_score    REAL NOT NULL DEFAULT 0,
	enrichment_score     REAL NOT NULL DEFAULT 0,
	intelligence_score   REAL NOT NULL DEFAULT 0,
	credits_spent        TEXT NOT NULL DEFAULT '0',
	created_at           DATETIME NOT NULL,
	updated_at           DATETIME NOT NULL,
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
	role_started_at   DATETIME,
	sources           TEXT NOT NULL DEFAULT '[]',
	persona_fit_score REAL NOT NULL DEFAULT 0,
	signal_score      REAL NOT NULL DEFAULT 0,
	enrichment_score  REAL NOT NULL DEFAULT 0,
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL,
	UNIQUE (client_id, dedupe_key)
);
CREATE INDEX IF NOT EXISTS idx_contacts_company ON contacts(company_id);

CREATE TABLE IF NOT EXISTS signals (
	id              TEXT PRIMARY KEY,
	client_id       TEXT NOT NULL,
	scope           TEXT NOT NULL,
	entity_id       TEXT NOT NULL,
	signal_type     TEXT NOT NULL,
	signal_strength REAL NOT NULL CHECK (signal_strength BETWEEN 0 AND 1),
	evidence        TEXT NOT NULL DEFAULT '',
	source          TEXT NOT NULL,
	detected_at     DATETIME NOT NULL,
	expires_at      DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signals_entity ON signals(scope, entity_id, expires_at);

CREATE TABLE IF NOT EXISTS icps (
	id         TEXT PRIMARY KEY,
	client_id  TEXT NOT NULL REFERENCES clients(id),
	name       TEXT NOT NULL,
	filters    TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS personas (
	id          TEXT PRIMARY KEY,
	client_id   TEXT NOT NULL REFERENCES clients(id),
	name        TEXT NOT NULL,
	titles      TEXT NOT NULL DEFAULT '[]',
	seniorities TEXT NOT NULL DEFAULT '[]',
	departments TEXT NOT NULL DEFAULT '[]',
	created_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS lists (
	id         TEXT PRIMARY KEY,
	client_id  TEXT NOT NULL REFERENCES clients(id),
	name       TEXT NOT NULL,
	icp_id     TEXT NOT NULL DEFAULT '',
	persona_id TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS list_members (
	id                 TEXT PRIMARY KEY,
	list_id            TEXT NOT NULL REFERENCES lists(id),
	company_id         TEXT NOT NULL DEFAULT '',
	contact_id         TEXT NOT NULL DEFAULT '',
	icp_fit_score      REAL NOT NULL DEFAULT 0,
	signal_score       REAL NOT NULL DEFAULT 0,
	originality_score  REAL NOT NULL DEFAULT 0,
	intelligence_score REAL NOT NULL DEFAULT 0,
	added_reason       TEXT NOT NULL DEFAULT '',
	added_at           DATETIME NOT NULL,
	removed_at         DATETIME,
	UNIQUE (list_id, company_id, contact_id)
);

CREATE TABLE IF NOT EXISTS strategies (
	context_hash      TEXT PRIMARY KEY,
	client_id         TEXT NOT NULL,
	icp_id            TEXT NOT NULL,
	persona_id        TEXT NOT NULL,
	provider_plan     TEXT NOT NULL,
	signal_priorities TEXT NOT NULL DEFAULT '{}',
	scoring_weights   TEXT NOT NULL,
	max_budget        TEXT NOT NULL DEFAULT '0',
	rationale         TEXT NOT NULL DEFAULT '',
	created_at        DATETIME NOT NULL,
	expires_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS provider_stats (
	client_id     TEXT NOT NULL,
	provider      TEXT NOT NULL,
	calls         INTEGER NOT NULL DEFAULT 0,
	successes     INTEGER NOT NULL DEFAULT 0,
	avg_quality   REAL NOT NULL DEFAULT 0,
	avg_fields    REAL NOT NULL DEFAULT 0,
	credits_spent TEXT NOT NULL DEFAULT '0',
	updated_at    DATETIME NOT NULL,
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
	errors          TEXT NOT NULL DEFAULT '[]',
	credits_charged TEXT NOT NULL DEFAULT '0',
	started_at      DATETIME NOT NULL,
	completed_at    DATETIME
);
`

// Migrate creates the schema. It is idempotent.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return model.NewNotFound(entity, id)
	}
	return nil
}

func sqliteNotFound(err error, entity, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return model.NewNotFound(entity, id)
	}
	return eris.Wrapf(err, "sqlite: get %s %s", entity, id)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs(vals []string) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = v
	}
	return out
}

// --- Clients and ledger ---

const sqliteClientSelect = `SELECT id, name, description, industry, credit_balance, margin_percent, created_at, updated_at FROM clients WHERE id = ?`

func (s *SQLiteStore) CreateClient(ctx context.Context, c *model.Client) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO clients (id, name, description, industry, credit_balance, margin_percent, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Description, c.Industry, c.CreditBalance.String(), c.MarginPercent.String(), now, now)
	return eris.Wrapf(err, "sqlite: create client %s", c.ID)
}

func (s *SQLiteStore) GetClient(ctx context.Context, id string) (*model.Client, error) {
	c, err := scanClient(s.db.QueryRowContext(ctx, sqliteClientSelect, id))
	if err != nil {
		return nil, sqliteNotFound(err, "client", id)
	}
	return c, nil
}

// ApplyCreditMutation reads the client, lets mutate compute the ledger row,
// then writes the balance and appends the row in one transaction. The single
// connection serializes concurrent mutations.
func (s *SQLiteStore) ApplyCreditMutation(ctx context.Context, clientID string, mutate CreditMutation) (*model.CreditTransaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: credit mutation: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	client, err := scanClient(tx.QueryRowContext(ctx, sqliteClientSelect, clientID))
	if err != nil {
		return nil, sqliteNotFound(err, "client", clientID)
	}

	t, err := mutate(*client)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE clients SET credit_balance = ?, updated_at = ? WHERE id = ?`,
		t.BalanceAfter.String(), now, clientID); err != nil {
		return nil, eris.Wrap(err, "sqlite: credit mutation: update balance")
	}

	t.ClientID = clientID
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO credit_transactions (id, client_id, type, amount, base_cost, margin_amount, balance_after, source, operation, job_id, note, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, clientID, string(t.Type), t.Amount.String(), optDecimal(t.BaseCost), optDecimal(t.MarginAmount),
		t.BalanceAfter.String(), t.Source, t.Operation, t.JobID, t.Note, t.CreatedAt); err != nil {
		return nil, eris.Wrap(err, "sqlite: credit mutation: insert transaction")
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: credit mutation: commit")
	}
	return t, nil
}

func (s *SQLiteStore) ListTransactions(ctx context.Context, clientID string, limit int) ([]model.CreditTransaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, client_id, type, amount, base_cost, margin_amount, balance_after, source, operation, job_id, note, created_at
		 FROM credit_transactions WHERE client_id = ? ORDER BY id DESC LIMIT ?`,
		clientID, limitOr(limit))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list transactions")
	}
	defer rows.Close()

	var out []model.CreditTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan transaction")
		}
		out = append(out, *t)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list transactions")
}

// --- Companies ---

var sqliteCompanySelect = `SELECT ` + fmt.Sprintf(companyColumns, "credits_spent") + ` FROM companies`

// UpsertCompany inserts or refreshes a company by (client, domain). On
// conflict the stored stage and fit scores are kept; c.ID is set to the
// stored id.
func (s *SQLiteStore) UpsertCompany(ctx context.Context, c *model.Company) error {
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

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO companies (id, client_id, domain, name, description, industry, employee_count, country, state, city,
			revenue, tech_stack, funding_stage, founded_year, last_funding_at, headcount_growth_pct, open_jobs,
			sources, pipeline_stage, enrichment_score, credits_spent, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (client_id, domain) DO UPDATE SET
			name = excluded.name, description = excluded.description, industry = excluded.industry,
			employee_count = excluded.employee_count, country = excluded.country, state = excluded.state,
			city = excluded.city, revenue = excluded.revenue, tech_stack = excluded.tech_stack,
			funding_stage = excluded.funding_stage, founded_year = excluded.founded_year,
			last_funding_at = excluded.last_funding_at, headcount_growth_pct = excluded.headcount_growth_pct,
			open_jobs = excluded.open_jobs, sources = excluded.sources,
			enrichment_score = excluded.enrichment_score, credits_spent = excluded.credits_spent,
			updated_at = excluded.updated_at`,
		c.ID, c.ClientID, c.Domain, c.Name, c.Description, c.Industry, c.EmployeeCount, c.Country, c.State, c.City,
		c.Revenue, string(techJSON), c.FundingStage, c.FoundedYear, utcPtr(c.LastFundingAt), c.HeadcountGrowthPct,
		c.OpenJobs, string(srcJSON), string(c.PipelineStage), c.EnrichmentScore, c.CreditsSpent.String(), now, now)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert company %s", c.Domain)
	}
	err = s.db.QueryRowContext(ctx, `SELECT id, created_at FROM companies WHERE client_id = ? AND domain = ?`, c.ClientID, c.Domain).
		Scan(&c.ID, &c.CreatedAt)
	return eris.Wrapf(err, "sqlite: reload company %s", c.Domain)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func (s *SQLiteStore) GetCompany(ctx context.Context, id string) (*model.Company, error) {
	c, err := scanCompany(s.db.QueryRowContext(ctx, sqliteCompanySelect+` WHERE id = ?`, id))
	if err != nil {
		return nil, sqliteNotFound(err, "company", id)
	}
	return c, nil
}

func (s *SQLiteStore) GetCompanyByDomain(ctx context.Context, clientID, domain string) (*model.Company, error) {
	domain = model.NormalizeDomain(domain)
	c, err := scanCompany(s.db.QueryRowContext(ctx, sqliteCompanySelect+` WHERE client_id = ? AND domain = ?`, clientID, domain))
	if err != nil {
		return nil, sqliteNotFound(err, "company", domain)
	}
	return c, nil
}

func (s *SQLiteStore) ListCompanies(ctx context.Context, f CompanyFilter) ([]model.Company, error) {
	query := sqliteCompanySelect + ` WHERE client_id = ?`
	args := []any{f.ClientID}
	if f.ListID != "" {
		query += ` AND id IN (SELECT company_id FROM list_members WHERE list_id = ? AND removed_at IS NULL)`
		args = append(args, f.ListID)
	}
	if f.Stage != "" {
		query += ` AND pipeline_stage = ?`
		args = append(args, string(f.Stage))
	}
	if len(f.IDs) > 0 {
		query += ` AND id IN (` + placeholders(len(f.IDs)) + `)`
		args = append(args, stringArgs(f.IDs)...)
	}
	query += ` ORDER BY domain LIMIT ?`
	args = append(args, limitOr(f.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list companies")
	}
	defer rows.Close()

	var out []model.Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan company")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list companies")
}

func (s *SQLiteStore) UpdateCompanyScores(ctx context.Context, id string, sc CompanyScores) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE companies SET icp_fit_score = ?, signal_score = ?, originality_score = ?, intelligence_score = ?, updated_at = ? WHERE id = ?`,
		sc.ICPFit, sc.Signal, sc.Originality, sc.Intelligence, time.Now().UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update company scores %s", id)
	}
	return checkRowsAffected(res, "company", id)
}

// TransitionStage moves a company from one stage to another only if it is
// still in from. It reports whether the row changed.
func (s *SQLiteStore) TransitionStage(ctx context.Context, id string, from, to model.PipelineStage) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE companies SET pipeline_stage = ?, updated_at = ? WHERE id = ? AND pipeline_stage = ?`,
		string(to), time.Now().UTC(), id, string(from))
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: transition %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

// --- Contacts ---

const sqliteContactSelect = `SELECT ` + contactColumns + ` FROM contacts`

func (s *SQLiteStore) UpsertContact(ctx context.Context, c *model.Contact) error {
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
	key := contactKey(c)

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO contacts (id, client_id, company_id, dedupe_key, full_name, first_name, last_name, title, seniority,
			department, linkedin_url, email, email_status, previous_title, role_started_at, sources, enrichment_score,
			created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (client_id, dedupe_key) DO UPDATE SET
			company_id = excluded.company_id, full_name = excluded.full_name, first_name = excluded.first_name,
			last_name = excluded.last_name, title = excluded.title, seniority = excluded.seniority,
			department = excluded.department, linkedin_url = excluded.linkedin_url, email = excluded.email,
			email_status = excluded.email_status, previous_title = excluded.previous_title,
			role_started_at = excluded.role_started_at, sources = excluded.sources,
			enrichment_score = excluded.enrichment_score, updated_at = excluded.updated_at`,
		c.ID, c.ClientID, c.CompanyID, key, c.FullName, c.FirstName, c.LastName, c.Title, c.Seniority,
		c.Department, c.LinkedInURL, c.Email, string(c.EmailStatus), c.PreviousTitle, utcPtr(c.RoleStartedAt),
		string(srcJSON), c.EnrichmentScore, now, now)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert contact %s", c.DisplayName())
	}
	err = s.db.QueryRowContext(ctx, `SELECT id, created_at FROM contacts WHERE client_id = ? AND dedupe_key = ?`, c.ClientID, key).
		Scan(&c.ID, &c.CreatedAt)
	return eris.Wrapf(err, "sqlite: reload contact %s", c.DisplayName())
}

func (s *SQLiteStore) GetContact(ctx context.Context, id string) (*model.Contact, error) {
	c, err := scanContact(s.db.QueryRowContext(ctx, sqliteContactSelect+` WHERE id = ?`, id))
	if err != nil {
		return nil, sqliteNotFound(err, "contact", id)
	}
	return c, nil
}

func (s *SQLiteStore) FindContact(ctx context.Context, clientID, dedupeKey string) (*model.Contact, error) {
	c, err := scanContact(s.db.QueryRowContext(ctx, sqliteContactSelect+` WHERE client_id = ? AND dedupe_key = ?`, clientID, dedupeKey))
	if err != nil {
		return nil, sqliteNotFound(err, "contact", dedupeKey)
	}
	return c, nil
}

func (s *SQLiteStore) ListContacts(ctx context.Context, f ContactFilter) ([]model.Contact, error) {
	query := sqliteContactSelect + ` WHERE client_id = ?`
	args := []any{f.ClientID}
	if f.CompanyID != "" {
		query += ` AND company_id = ?`
		args = append(args, f.CompanyID)
	}
	if f.ListID != "" {
		query += ` AND company_id IN (SELECT company_id FROM list_members WHERE list_id = ? AND removed_at IS NULL)`
		args = append(args, f.ListID)
	}
	query += ` ORDER BY id LIMIT ?`
	args = append(args, limitOr(f.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list contacts")
	}
	defer rows.Close()

	var out []model.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan contact")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list contacts")
}

func (s *SQLiteStore) UpdateContactScores(ctx context.Context, id string, personaFit, signal float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE contacts SET persona_fit_score = ?, signal_score = ?, updated_at = ? WHERE id = ?`,
		personaFit, signal, time.Now().UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update contact scores %s", id)
	}
	return checkRowsAffected(res, "contact", id)
}

// --- Signals ---

func (s *SQLiteStore) InsertSignals(ctx context.Context, signals []model.Signal) error {
	if len(signals) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert signals: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	for i := range signals {
		sig := &signals[i]
		if sig.ID == "" {
			sig.ID = uuid.New().String()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO signals (`+signalColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sig.ID, sig.ClientID, string(sig.Scope), sig.EntityID, sig.SignalType, sig.SignalStrength,
			sig.Evidence, sig.Source, sig.DetectedAt.UTC(), sig.ExpiresAt.UTC()); err != nil {
			return eris.Wrapf(err, "sqlite: insert signal %s", sig.SignalType)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: insert signals: commit")
}

// ActiveSignals returns unexpired signals for an entity, newest per type and source.
func (s *SQLiteStore) ActiveSignals(ctx context.Context, scope model.SignalScope, entityID string, now time.Time) ([]model.Signal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+signalColumns+` FROM signals WHERE scope = ? AND entity_id = ? ORDER BY detected_at DESC`,
		string(scope), entityID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list signals")
	}
	defer rows.Close()

	var all []model.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan signal")
		}
		all = append(all, *sig)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: list signals")
	}
	return model.ActiveSignals(all, now), nil
}

// --- Profiles ---

func (s *SQLiteStore) SaveICP(ctx context.Context, icp *model.ICP) error {
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
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO icps (id, client_id, name, filters, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name, filters = excluded.filters`,
		icp.ID, icp.ClientID, icp.Name, string(filters), icp.CreatedAt)
	return eris.Wrapf(err, "sqlite: save icp %s", icp.ID)
}

func (s *SQLiteStore) GetICP(ctx context.Context, id string) (*model.ICP, error) {
	var (
		icp     model.ICP
		filters []byte
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, client_id, name, filters, created_at FROM icps WHERE id = ?`, id).
		Scan(&icp.ID, &icp.ClientID, &icp.Name, &filters, &icp.CreatedAt)
	if err != nil {
		return nil, sqliteNotFound(err, "icp", id)
	}
	if err := unmarshalJSON(filters, &icp.Filters); err != nil {
		return nil, err
	}
	return &icp, nil
}

func (s *SQLiteStore) SavePersona(ctx context.Context, p *model.Persona) error {
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
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO personas (id, client_id, name, titles, seniorities, departments, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name, titles = excluded.titles,
			seniorities = excluded.seniorities, departments = excluded.departments`,
		p.ID, p.ClientID, p.Name, string(titles), string(sen), string(dep), p.CreatedAt)
	return eris.Wrapf(err, "sqlite: save persona %s", p.ID)
}

func (s *SQLiteStore) GetPersona(ctx context.Context, id string) (*model.Persona, error) {
	var (
		p                model.Persona
		titles, sen, dep []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, client_id, name, titles, seniorities, departments, created_at FROM personas WHERE id = ?`, id).
		Scan(&p.ID, &p.ClientID, &p.Name, &titles, &sen, &dep, &p.CreatedAt)
	if err != nil {
		return nil, sqliteNotFound(err, "persona", id)
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

func (s *SQLiteStore) CreateList(ctx context.Context, l *model.List) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	l.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lists (id, client_id, name, icp_id, persona_id, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		l.ID, l.ClientID, l.Name, l.ICPID, l.PersonaID, l.CreatedAt)
	return eris.Wrapf(err, "sqlite: create list %s", l.Name)
}

func (s *SQLiteStore) GetList(ctx context.Context, id string) (*model.List, error) {
	var l model.List
	err := s.db.QueryRowContext(ctx, `SELECT id, client_id, name, icp_id, persona_id, created_at FROM lists WHERE id = ?`, id).
		Scan(&l.ID, &l.ClientID, &l.Name, &l.ICPID, &l.PersonaID, &l.CreatedAt)
	if err != nil {
		return nil, sqliteNotFound(err, "list", id)
	}
	return &l, nil
}

// UpsertListMembers inserts members or refreshes their scores, clearing any
// soft delete. Absent ids are stored as empty strings.
func (s *SQLiteStore) UpsertListMembers(ctx context.Context, members []model.ListMember) error {
	if len(members) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: upsert members: begin")
	}
	defer tx.Rollback() //nolint:errcheck

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
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO list_members (`+memberColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
			 ON CONFLICT (list_id, company_id, contact_id) DO UPDATE SET
				icp_fit_score = excluded.icp_fit_score, signal_score = excluded.signal_score,
				originality_score = excluded.originality_score, intelligence_score = excluded.intelligence_score,
				added_reason = excluded.added_reason, removed_at = NULL`,
			m.ID, m.ListID, m.CompanyID, m.ContactID, m.ICPFitScore, m.SignalScore, m.OriginalityScore,
			m.IntelligenceScore, m.AddedReason, m.AddedAt.UTC()); err != nil {
			return eris.Wrapf(err, "sqlite: upsert member %s", m.CompanyID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: upsert members: commit")
}

func (s *SQLiteStore) ListMembers(ctx context.Context, listID string, includeRemoved bool) ([]model.ListMember, error) {
	query := `SELECT ` + memberColumns + ` FROM list_members WHERE list_id = ?`
	if !includeRemoved {
		query += ` AND removed_at IS NULL`
	}
	query += ` ORDER BY intelligence_score DESC, id`

	rows, err := s.db.QueryContext(ctx, query, listID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list members")
	}
	defer rows.Close()

	var out []model.ListMember
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan member")
		}
		out = append(out, *m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list members")
}

func (s *SQLiteStore) RemoveListMembers(ctx context.Context, listID string, companyIDs []string, at time.Time) (int64, error) {
	if len(companyIDs) == 0 {
		return 0, nil
	}
	args := append([]any{at.UTC(), listID}, stringArgs(companyIDs)...)
	res, err := s.db.ExecContext(ctx,
		`UPDATE list_members SET removed_at = ? WHERE list_id = ? AND company_id IN (`+placeholders(len(companyIDs))+`) AND removed_at IS NULL`,
		args...)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: remove members from %s", listID)
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

// --- Strategy cache ---

const sqliteStrategySelect = `SELECT context_hash, client_id, icp_id, persona_id, provider_plan, signal_priorities,
	scoring_weights, max_budget, rationale, created_at, expires_at FROM strategies WHERE context_hash = ?`

func (s *SQLiteStore) GetStrategy(ctx context.Context, contextHash string, now time.Time) (*model.Strategy, error) {
	st, err := scanStrategy(s.db.QueryRowContext(ctx, sqliteStrategySelect, contextHash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get strategy")
	}
	if !now.Before(st.ExpiresAt) {
		return nil, nil
	}
	return st, nil
}

// PutStrategy inserts a strategy unless an unexpired one already holds the
// key. It reports whether the row was written.
func (s *SQLiteStore) PutStrategy(ctx context.Context, st *model.Strategy) (bool, error) {
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: put strategy: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	existing, err := scanStrategy(tx.QueryRowContext(ctx, sqliteStrategySelect, st.ContextHash))
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return false, eris.Wrap(err, "sqlite: put strategy: read")
	case st.CreatedAt.Before(existing.ExpiresAt):
		return false, nil
	}

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO strategies (context_hash, client_id, icp_id, persona_id, provider_plan, signal_priorities,
			scoring_weights, max_budget, rationale, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ContextHash, st.ClientID, st.ICPID, st.PersonaID, string(plan), string(prio), string(weights),
		st.MaxBudgetPerCompany.String(), st.Rationale, st.CreatedAt.UTC(), st.ExpiresAt.UTC())
	if err != nil {
		return false, eris.Wrap(err, "sqlite: put strategy")
	}
	return true, eris.Wrap(tx.Commit(), "sqlite: put strategy: commit")
}

// --- Provider performance ---

func (s *SQLiteStore) RecordProviderCall(ctx context.Context, call ProviderCall) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: record provider call: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	stat, err := scanProviderStat(tx.QueryRowContext(ctx,
		`SELECT client_id, provider, calls, successes, avg_quality, avg_fields, credits_spent, updated_at
		 FROM provider_stats WHERE client_id = ? AND provider = ?`, call.ClientID, call.Provider))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		stat = &model.ProviderStat{ClientID: call.ClientID, Provider: call.Provider}
	case err != nil:
		return eris.Wrap(err, "sqlite: record provider call: read")
	}

	if call.Success {
		stat.AvgQuality = runningAvg(stat.AvgQuality, stat.Successes, call.Quality)
		stat.AvgFields = runningAvg(stat.AvgFields, stat.Successes, float64(call.Fields))
		stat.Successes++
	}
	stat.Calls++
	stat.CreditsSpent = stat.CreditsSpent.Add(call.Credits)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO provider_stats (client_id, provider, calls, successes, avg_quality, avg_fields, credits_spent, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (client_id, provider) DO UPDATE SET
			calls = excluded.calls, successes = excluded.successes, avg_quality = excluded.avg_quality,
			avg_fields = excluded.avg_fields, credits_spent = excluded.credits_spent, updated_at = excluded.updated_at`,
		stat.ClientID, stat.Provider, stat.Calls, stat.Successes, stat.AvgQuality, stat.AvgFields,
		stat.CreditsSpent.String(), time.Now().UTC())
	if err != nil {
		return eris.Wrapf(err, "sqlite: record provider call %s", call.Provider)
	}
	return eris.Wrap(tx.Commit(), "sqlite: record provider call: commit")
}

func (s *SQLiteStore) ListProviderStats(ctx context.Context, clientID string) ([]model.ProviderStat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT client_id, provider, calls, successes, avg_quality, avg_fields, credits_spent, updated_at
		 FROM provider_stats WHERE client_id = ? ORDER BY provider`, clientID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list provider stats")
	}
	defer rows.Close()

	var out []model.ProviderStat
	for rows.Next() {
		p, err := scanProviderStat(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan provider stat")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list provider stats")
}

// --- Jobs ---

func (s *SQLiteStore) CreateJob(ctx context.Context, j *model.EnrichmentJob) error {
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if j.StartedAt.IsZero() {
		j.StartedAt = time.Now().UTC()
	}
	if j.Status == "" {
		j.Status = model.JobRunning
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO enrichment_jobs (id, client_id, kind, status, total, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		j.ID, j.ClientID, j.Kind, string(j.Status), j.Total, j.StartedAt.UTC())
	return eris.Wrapf(err, "sqlite: create job %s", j.ID)
}

func (s *SQLiteStore) UpdateJob(ctx context.Context, j *model.EnrichmentJob) error {
	errJSON, err := marshalJSON(nonNilItemErrors(j.Errors))
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE enrichment_jobs SET status = ?, total = ?, processed = ?, failed = ?, errors = ?,
			credits_charged = ?, completed_at = ? WHERE id = ?`,
		string(j.Status), j.Total, j.Processed, j.Failed, string(errJSON), j.CreditsCharged.String(),
		utcPtr(j.CompletedAt), j.ID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job %s", j.ID)
	}
	return checkRowsAffected(res, "job", j.ID)
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.EnrichmentJob, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx,
		`SELECT id, client_id, kind, status, total, processed, failed, errors, credits_charged, started_at, completed_at
		 FROM enrichment_jobs WHERE id = ?`, id))
	if err != nil {
		return nil, sqliteNotFound(err, "job", id)
	}
	return j, nil
}
