package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/money"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

var clientCols = []string{"id", "name", "description", "industry", "credit_balance", "margin_percent", "created_at", "updated_at"}

func TestPostgresStore_GetClient_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, name, .* FROM clients WHERE id = \$1`).
		WithArgs("nonexistent").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetClient(context.Background(), "nonexistent")
	var nf *model.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "nonexistent", nf.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetClient_ParsesDecimals(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now()

	mock.ExpectQuery(`FROM clients WHERE id = \$1`).
		WithArgs("c1").
		WillReturnRows(pgxmock.NewRows(clientCols).AddRow("c1", "Acme", "", "saas", "12.3400", "30.0000", now, now))

	c, err := s.GetClient(context.Background(), "c1")
	require.NoError(t, err)
	assert.True(t, c.CreditBalance.Equal(money.MustParse("12.34")))
	assert.True(t, c.MarginPercent.Equal(money.MustParse("30")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ApplyCreditMutation_Commits(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM clients WHERE id = \$1 FOR UPDATE`).
		WithArgs("c1").
		WillReturnRows(pgxmock.NewRows(clientCols).AddRow("c1", "Acme", "", "", "10.0000", "30.0000", now, now))
	mock.ExpectExec(`UPDATE clients SET credit_balance = \$1::numeric`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "c1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO credit_transactions`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	tx, err := s.ApplyCreditMutation(context.Background(), "c1", func(c model.Client) (*model.CreditTransaction, error) {
		cost := money.MustParse("6.5")
		return &model.CreditTransaction{
			ID:           "tx1",
			Type:         model.TxUsage,
			Amount:       cost.Neg(),
			BalanceAfter: c.CreditBalance.Sub(cost),
		}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "c1", tx.ClientID)
	assert.True(t, tx.BalanceAfter.Equal(money.MustParse("3.5")))
	assert.False(t, tx.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ApplyCreditMutation_AbortRollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now()
	sentinel := errors.New("insufficient credits")

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs("c1").
		WillReturnRows(pgxmock.NewRows(clientCols).AddRow("c1", "Acme", "", "", "1.0000", "0.0000", now, now))
	mock.ExpectRollback()

	_, err := s.ApplyCreditMutation(context.Background(), "c1", func(model.Client) (*model.CreditTransaction, error) {
		return nil, sentinel
	})
	assert.Same(t, sentinel, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TransitionStage(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{name: "moved", affected: 1, want: true},
		{name: "stale from stage", affected: 0, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockPostgresStore(t)
			mock.ExpectExec(`UPDATE companies SET pipeline_stage = \$1`).
				WithArgs("qualified", pgxmock.AnyArg(), "co1", "active_segment").
				WillReturnResult(pgxmock.NewResult("UPDATE", tt.affected))

			ok, err := s.TransitionStage(context.Background(), "co1", model.StageActiveSegment, model.StageQualified)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStore_UpdateCompanyScores_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`UPDATE companies SET icp_fit_score`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateCompanyScores(context.Background(), "gone", CompanyScores{})
	var nf *model.NotFoundError
	assert.ErrorAs(t, err, &nf)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetStrategy_Miss(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectQuery(`FROM strategies WHERE context_hash = \$1 AND expires_at > \$2`).
		WithArgs("abc", pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)

	st, err := s.GetStrategy(context.Background(), "abc", time.Now())
	require.NoError(t, err)
	assert.Nil(t, st)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PutStrategy_KeepsUnexpired(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`(?s)INSERT INTO strategies .* WHERE strategies.expires_at <= EXCLUDED.created_at`).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	now := time.Now()
	written, err := s.PutStrategy(context.Background(), &model.Strategy{
		ContextHash: "abc",
		CreatedAt:   now,
		ExpiresAt:   now.Add(24 * time.Hour),
	})
	require.NoError(t, err)
	assert.False(t, written)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertSignals_UsesCopy(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectCopyFrom(pgx.Identifier{"signals"}, signalCopyColumns).
		WillReturnResult(2)

	now := time.Now()
	sigs := []model.Signal{
		{ClientID: "c1", Scope: model.ScopeCompany, EntityID: "co1", SignalType: model.SignalHiring, SignalStrength: 0.5, Source: "jobs", DetectedAt: now, ExpiresAt: now.Add(time.Hour)},
		{ClientID: "c1", Scope: model.ScopeCompany, EntityID: "co1", SignalType: model.SignalRecentFunding, SignalStrength: 0.9, Source: "crunchbase", DetectedAt: now, ExpiresAt: now.Add(time.Hour)},
	}
	require.NoError(t, s.InsertSignals(context.Background(), sigs))
	assert.NotEmpty(t, sigs[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertSignals_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	require.NoError(t, s.InsertSignals(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertListMembers_BulkUpsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_stage_list_members"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_stage_list_members"}, memberUpsert.Columns).
		WillReturnResult(2)
	mock.ExpectExec(`(?s)INSERT INTO "list_members" .* ON CONFLICT \("list_id", "company_id", "contact_id"\) DO UPDATE SET`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	removed := time.Now()
	members := []model.ListMember{
		{ListID: "l1", CompanyID: "co1", IntelligenceScore: 0.7},
		{ListID: "l1", CompanyID: "co2", IntelligenceScore: 0.4, RemovedAt: &removed},
	}
	require.NoError(t, s.UpsertListMembers(context.Background(), members))
	assert.Nil(t, members[1].RemovedAt, "upsert restores removed members")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordProviderCall(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`(?s)INSERT INTO provider_stats .* ON CONFLICT \(client_id, provider\) DO UPDATE`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.RecordProviderCall(context.Background(), ProviderCall{
		ClientID: "c1", Provider: "apollo", Success: true, Quality: 0.8, Fields: 9, Credits: money.MustParse("1"),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
