package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/mock"
)

// mockDB stands in for the pgx pool behind the DB interface.
type mockDB struct{ mock.Mock }

func (m *mockDB) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	return m.Called(ctx, sql, arguments).Get(0).(pgx.Row)
}

func (m *mockDB) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	rows, _ := args.Get(0).(pgx.Rows)
	return rows, args.Error(1)
}

// mockRow answers a single Scan with the given function.
type mockRow struct {
	scanFunc func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error { return r.scanFunc(dest...) }

// mockRows feeds Scan from a queue of per-row functions.
type mockRows struct {
	remaining []func(dest ...any) error
	failErr   error
}

func newMockRows(rows ...func(dest ...any) error) *mockRows {
	return &mockRows{remaining: rows}
}

func newEmptyMockRows() *mockRows { return &mockRows{} }

func (r *mockRows) Next() bool { return len(r.remaining) > 0 }

func (r *mockRows) Scan(dest ...any) error {
	if len(r.remaining) == 0 {
		return pgx.ErrNoRows
	}
	fn := r.remaining[0]
	r.remaining = r.remaining[1:]
	return fn(dest...)
}

func (r *mockRows) Err() error { return r.failErr }
func (r *mockRows) Close()     {}

// The rest of pgx.Rows is never exercised by the store.
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }
