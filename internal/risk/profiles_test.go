package risk

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryBuiltinsOnly(t *testing.T) {
	r, err := NewRegistry("")
	require.NoError(t, err)

	assert.Equal(t, []string{"aggressive", "conservative", "moderate"}, r.Names())

	p, ok := r.Profile("moderate")
	require.True(t, ok)
	assert.Equal(t, 10.0, p.MaxTradePct)
	assert.Equal(t, 20.0, p.MaxPositionPct)
	assert.Equal(t, 5.0, p.DailyLossLimitPct)
	assert.Equal(t, 500.0, p.ConfirmAboveUSD)

	p, ok = r.Profile("Conservative")
	require.True(t, ok, "lookup is case-insensitive")
	assert.Equal(t, 2.0, p.DailyLossLimitPct)

	_, ok = r.Profile("reckless")
	assert.False(t, ok)
}

func TestRegistryFileOverridesBuiltins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "risk_profiles.yaml")
	content := `
profiles:
  moderate:
    max_trade_pct: 12
    max_position_pct: 25
    daily_loss_limit_pct: 4
    confirm_above_usd: 750
  custom:
    max_trade_pct: 3
    max_position_pct: 6
    daily_loss_limit_pct: 1
    confirm_above_usd: 50
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	r, err := NewRegistry(path)
	require.NoError(t, err)

	p, ok := r.Profile("moderate")
	require.True(t, ok)
	assert.Equal(t, 12.0, p.MaxTradePct)
	assert.Equal(t, 750.0, p.ConfirmAboveUSD)

	p, ok = r.Profile("custom")
	require.True(t, ok)
	assert.Equal(t, "custom", p.Name)
	assert.Equal(t, 3.0, p.MaxTradePct)

	// Untouched builtins survive alongside file entries.
	_, ok = r.Profile("aggressive")
	assert.True(t, ok)
}

func TestRegistryRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "risk_profiles.yaml")
	content := `
profiles:
  broken:
    max_trade_pct: -5
    max_position_pct: 10
    daily_loss_limit_pct: 2
    confirm_above_usd: 100
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := NewRegistry(path)
	require.Error(t, err, "negative percentages must fail schema validation")
}

func TestRegistrySnapshotIsACopy(t *testing.T) {
	r, err := NewRegistry("")
	require.NoError(t, err)

	snap := r.Snapshot()
	snap.Profiles["moderate"] = Profile{Name: "mutated"}

	p, ok := r.Profile("moderate")
	require.True(t, ok)
	assert.Equal(t, "moderate", p.Name, "mutating a snapshot must not leak into the registry")
}
