package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.Background(), nil, "signals", []string{"id"}, nil)
	assert.NoError(t, err)
	assert.Zero(t, n)
}

func TestCopyFrom(t *testing.T) {
	tests := []struct {
		name    string
		result  int64
		err     error
		wantErr string
	}{
		{name: "all rows", result: 2},
		{name: "short write", result: 1, wantErr: "wrote 1 of 2 rows"},
		{name: "copy error", err: fmt.Errorf("conn lost"), wantErr: "copy into signals"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			exp := mock.ExpectCopyFrom(pgx.Identifier{"signals"}, []string{"id", "signal_type"})
			if tt.err != nil {
				exp.WillReturnError(tt.err)
			} else {
				exp.WillReturnResult(tt.result)
			}

			rows := [][]any{{"s1", "hiring"}, {"s2", "recent_funding"}}
			n, err := CopyFrom(context.Background(), mock, "signals", []string{"id", "signal_type"}, rows)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, int64(2), n)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
