package settings

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	helpers "github.com/aristath/slimwatch/internal/testing"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, cleanup := helpers.NewTestDB(t, "settings")
	t.Cleanup(cleanup)
	require.NoError(t, InitSchema(db.Conn()))
	return NewRepository(db.Conn(), zerolog.Nop())
}

func TestGetMissingReturnsNilNil(t *testing.T) {
	repo := newTestRepo(t)

	value, err := repo.Get("no_such_key")
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestSetAndGet(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.Set("market_data_api_key", "abc123", nil))

	value, err := repo.Get("market_data_api_key")
	require.NoError(t, err)
	require.NotNil(t, value)
	assert.Equal(t, "abc123", *value)
}

func TestSetUpsertsExistingKey(t *testing.T) {
	repo := newTestRepo(t)

	desc := "Trailing stop distance"
	require.NoError(t, repo.Set("trail_pct", "0.15", &desc))
	require.NoError(t, repo.Set("trail_pct", "0.12", nil))

	got, err := repo.GetFloat("trail_pct", 0)
	require.NoError(t, err)
	assert.InDelta(t, 0.12, got, 1e-9)
}

func TestTypedGettersFallBackToDefaults(t *testing.T) {
	repo := newTestRepo(t)

	f, err := repo.GetFloat("missing_float", 0.15)
	require.NoError(t, err)
	assert.InDelta(t, 0.15, f, 1e-9)

	i, err := repo.GetInt("missing_int", 30)
	require.NoError(t, err)
	assert.Equal(t, 30, i)

	b, err := repo.GetBool("missing_bool", true)
	require.NoError(t, err)
	assert.True(t, b)

	s, err := repo.GetString("missing_string", "fallback")
	require.NoError(t, err)
	assert.Equal(t, "fallback", s)
}

func TestGetIntParsesFloatStrings(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.Set("watch_expiry_days", "60.0", nil))

	got, err := repo.GetInt("watch_expiry_days", 0)
	require.NoError(t, err)
	assert.Equal(t, 60, got)
}

func TestGetIntMalformedFallsBackToDefault(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.Set("watch_expiry_days", "sixty", nil))

	got, err := repo.GetInt("watch_expiry_days", 60)
	require.NoError(t, err)
	assert.Equal(t, 60, got)
}

func TestGetBoolTruthyValues(t *testing.T) {
	repo := newTestRepo(t)

	for _, v := range []string{"true", "1", "yes", "on"} {
		require.NoError(t, repo.Set("enable_stalling", v, nil))
		got, err := repo.GetBool("enable_stalling", false)
		require.NoError(t, err)
		assert.True(t, got, "value %q should be truthy", v)
	}

	require.NoError(t, repo.Set("enable_stalling", "off", nil))
	got, err := repo.GetBool("enable_stalling", true)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestDeleteAndGetAll(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.Set("a", "1", nil))
	require.NoError(t, repo.Set("b", "2", nil))

	all, err := repo.GetAll()
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, "1", all["a"])

	require.NoError(t, repo.Delete("a"))
	require.NoError(t, repo.Delete("a")) // idempotent

	all, err = repo.GetAll()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
