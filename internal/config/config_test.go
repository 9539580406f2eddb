package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amalg/bomberman-arena/internal/game"
	"github.com/amalg/bomberman-arena/internal/match"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load(nil, envMap(nil))
	require.NoError(t, err)
	assert.Equal(t, ":8080", c.Addr)
	assert.Equal(t, "bomberman.db", c.DSN)
	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, game.DefaultRules(), c.Rules)
	assert.Equal(t, 10*time.Second, c.TickTimeout)
	assert.True(t, c.Discovery)
	assert.Equal(t, 9998, c.DiscoveryPort)
}

func TestLoadEnvAndFlags(t *testing.T) {
	env := envMap(map[string]string{
		"BOMBERMAN_ADDR":         ":9000",
		"DATABASE_URL":           "postgres://localhost/bomberman",
		"LOG_FORMAT":             "json",
		"BOMBERMAN_TICK_TIMEOUT": "250ms",
		"BOMBERMAN_SEED":         "42",
		"BOMBERMAN_DISCOVERY":    "false",
	})
	c, err := Load([]string{"-addr", ":7000", "-width", "14", "-density", "0"}, env)
	require.NoError(t, err)

	assert.Equal(t, ":7000", c.Addr)
	assert.Equal(t, "postgres://localhost/bomberman", c.DSN)
	assert.Equal(t, "json", c.LogFormat)
	assert.Equal(t, 250*time.Millisecond, c.TickTimeout)
	assert.Equal(t, int64(42), c.Seed)
	assert.False(t, c.Discovery)
	assert.Equal(t, 15, c.Rules.Width, "even widths are rounded up")
	assert.Zero(t, c.Rules.DestructibleDensity)

	sc := c.Session()
	assert.Equal(t, c.Rules, sc.Rules)
	assert.Equal(t, 250*time.Millisecond, sc.TickTimeout)
	assert.Equal(t, int64(42), sc.Seed)
}

func TestLoadPrefersBombermanDB(t *testing.T) {
	c, err := Load(nil, envMap(map[string]string{
		"BOMBERMAN_DB": "memory",
		"DATABASE_URL": "postgres://elsewhere/db",
	}))
	require.NoError(t, err)
	assert.Equal(t, "memory", c.DSN)
}

func TestLoadRejectsBadValues(t *testing.T) {
	_, err := Load(nil, envMap(map[string]string{"BOMBERMAN_TICK_TIMEOUT": "soon"}))
	assert.ErrorContains(t, err, "BOMBERMAN_TICK_TIMEOUT")

	_, err = Load([]string{"-density", "1.5"}, envMap(nil))
	assert.ErrorContains(t, err, "density")

	_, err = Load([]string{"-bomb-radius", "0"}, envMap(nil))
	assert.Error(t, err)
}

func TestLoadLobbies(t *testing.T) {
	c, err := Load([]string{"-lobby", "3,4,5"}, envMap(map[string]string{
		"BOMBERMAN_LOBBIES": "1,2; 7",
	}))
	require.NoError(t, err)
	assert.Equal(t, [][]match.ParticipantID{{1, 2}, {7}, {3, 4, 5}}, c.Lobbies)

	for _, bad := range []string{"1,1", "1,x", "0", "1,2,3,4,5"} {
		_, err := Load([]string{"-lobby", bad}, envMap(nil))
		assert.Error(t, err, bad)
	}

	_, err = Load(nil, envMap(map[string]string{"BOMBERMAN_LOBBIES": "a"}))
	assert.Error(t, err)
}
