package seeder

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vnmchuo/usage-governor/internal/auth"
	"github.com/vnmchuo/usage-governor/internal/plan"
)

type mockDB struct {
	args []any
	err  error
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	m.args = args
	return pgconn.NewCommandTag("INSERT 0 1"), m.err
}

type mockKeys struct {
	created *auth.APIKey
}

func (m *mockKeys) GetByKey(ctx context.Context, key string) (*auth.APIKey, error) {
	return nil, auth.ErrKeyNotFound
}

func (m *mockKeys) Create(ctx context.Context, k *auth.APIKey) error {
	m.created = k
	return nil
}

func (m *mockKeys) Revoke(ctx context.Context, id string) error { return nil }

func TestSeed(t *testing.T) {
	db := &mockDB{}
	keys := &mockKeys{}

	require.NoError(t, Seed(context.Background(), db, keys, plan.Standard, zap.NewNop()))

	assert.Equal(t, []any{TestTenantID, "standard"}, db.args)
	require.NotNil(t, keys.created)
	assert.Equal(t, TestTenantID, keys.created.TenantID)
	assert.Equal(t, auth.HashKey(TestAPIKey), keys.created.KeyHash)
	assert.True(t, keys.created.Active)
}

func TestSeed_TenantInsertFails(t *testing.T) {
	keys := &mockKeys{}
	err := Seed(context.Background(), &mockDB{err: errors.New("relation does not exist")}, keys, plan.Standard, zap.NewNop())
	require.Error(t, err)
	assert.Nil(t, keys.created)
}
