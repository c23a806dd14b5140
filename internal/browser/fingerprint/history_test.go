// internal/browser/fingerprint/history_test.go
package fingerprint

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/ghostwire/internal/clock"
	"github.com/xkilldash9x/ghostwire/internal/config"
)

func TestHistoryRecordsGeneratedProfiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "history")
	h, err := NewHistory(dir)
	require.NoError(t, err)

	clk := clock.NewFake(epoch)
	e, err := New(testConfig(), WithClock(clk), WithHistory(h))
	require.NoError(t, err)

	first, err := e.Generate(config.PolicyRandom)
	require.NoError(t, err)
	clk.Advance(time.Minute)
	second, err := e.Generate(config.PolicyConsistent)
	require.NoError(t, err)

	profiles, err := h.List()
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, first.ID, profiles[0].ID, "oldest first")
	assert.Equal(t, second.ID, profiles[1].ID)
	assert.Equal(t, first.UserAgent, profiles[0].UserAgent)
	assert.True(t, first.CreatedAt.Equal(profiles[0].CreatedAt))
}

func TestHistorySkipsUnreadableSnapshots(t *testing.T) {
	h, err := NewHistory(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(h.Dir(), "broken.json"), []byte("{"), 0o644))
	require.NoError(t, h.Record(Profile{ID: "ok", CreatedAt: epoch}))

	profiles, err := h.List()
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, "ok", profiles[0].ID)
}
