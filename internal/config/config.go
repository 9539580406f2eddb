// Package config loads the server configuration from flags, with defaults
// taken from the environment.
package config

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/amalg/bomberman-arena/internal/game"
	"github.com/amalg/bomberman-arena/internal/match"
	"github.com/amalg/bomberman-arena/internal/session"
)

// Config is everything cmd/server needs.
type Config struct {
	Addr      string
	DSN       string
	Name      string
	LogLevel  string
	LogFormat string
	LogFile   string

	Rules         game.Rules
	TickTimeout   time.Duration
	Seed          int64
	RetryAttempts int
	RetryBackoff  time.Duration
	RetryInterval time.Duration
	ReplayDir     string

	Discovery     bool
	DiscoveryPort int

	// Lobbies are created at startup, one per participant list.
	Lobbies [][]match.ParticipantID
}

// Session returns the coordinator settings.
func (c Config) Session() session.Config {
	cfg := session.DefaultConfig()
	cfg.Rules = c.Rules
	cfg.TickTimeout = c.TickTimeout
	cfg.Seed = c.Seed
	cfg.RetryAttempts = c.RetryAttempts
	cfg.RetryBackoff = c.RetryBackoff
	cfg.RetryInterval = c.RetryInterval
	cfg.ReplayDir = c.ReplayDir
	return cfg
}

// env reads defaults from getenv, remembering the first malformed value.
type env struct {
	getenv func(string) string
	err    error
}

func (e *env) str(key, def string) string {
	if v := e.getenv(key); v != "" {
		return v
	}
	return def
}

func (e *env) int(key string, def int) int {
	v := e.getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return n
}

func (e *env) int64(key string, def int64) int64 {
	v := e.getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return n
}

func (e *env) float(key string, def float64) float64 {
	v := e.getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return f
}

func (e *env) bool(key string, def bool) bool {
	v := e.getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return b
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v := e.getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return d
}

func (e *env) fail(key, value string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s=%q: %w", key, value, err)
	}
}

// lobbyFlag collects -lobby values. Each value is a comma-separated list of
// participant ids.
type lobbyFlag [][]match.ParticipantID

func (l *lobbyFlag) String() string {
	if l == nil {
		return ""
	}
	lists := make([]string, len(*l))
	for i, ids := range *l {
		parts := make([]string, len(ids))
		for j, id := range ids {
			parts[j] = id.String()
		}
		lists[i] = strings.Join(parts, ",")
	}
	return strings.Join(lists, ";")
}

func (l *lobbyFlag) Set(v string) error {
	ids, err := parseRoster(v)
	if err != nil {
		return err
	}
	*l = append(*l, ids)
	return nil
}

func parseRoster(v string) ([]match.ParticipantID, error) {
	fields := strings.Split(v, ",")
	if len(fields) > game.MaxPlayers {
		return nil, fmt.Errorf("lobby %q: at most %d players", v, game.MaxPlayers)
	}
	ids := make([]match.ParticipantID, 0, len(fields))
	seen := make(map[match.ParticipantID]bool)
	for _, f := range fields {
		n, err := strconv.ParseInt(strings.TrimSpace(f), 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("lobby %q: bad participant id %q", v, f)
		}
		id := match.ParticipantID(n)
		if seen[id] {
			return nil, fmt.Errorf("lobby %q: participant %d listed twice", v, n)
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

// Load parses args (without the program name). Flags override environment
// variables, which override built-in defaults.
func Load(args []string, getenv func(string) string) (Config, error) {
	e := &env{getenv: getenv}
	rules := game.DefaultRules()
	sess := session.DefaultConfig()

	var c Config
	fs := flag.NewFlagSet("bomberman-server", flag.ContinueOnError)
	fs.StringVar(&c.Addr, "addr", e.str("BOMBERMAN_ADDR", ":8080"), "HTTP listen address")
	fs.StringVar(&c.DSN, "db", e.str("BOMBERMAN_DB", e.str("DATABASE_URL", "bomberman.db")),
		`store: "memory", a postgres:// URL or a SQLite file path`)
	fs.StringVar(&c.Name, "name", e.str("BOMBERMAN_NAME", "Bomberman"), "server name advertised on the LAN")
	fs.StringVar(&c.LogLevel, "log-level", e.str("LOG_LEVEL", "info"), "log level")
	fs.StringVar(&c.LogFormat, "log-format", e.str("LOG_FORMAT", "text"), "log format: text or json")
	fs.StringVar(&c.LogFile, "log-file", e.str("BOMBERMAN_LOG_FILE", ""), "log file path (default stderr)")

	fs.IntVar(&c.Rules.Width, "width", e.int("BOMBERMAN_WIDTH", rules.Width), "board width (odd number)")
	fs.IntVar(&c.Rules.Height, "height", e.int("BOMBERMAN_HEIGHT", rules.Height), "board height (odd number)")
	fs.IntVar(&c.Rules.BombTimer, "bomb-timer", e.int("BOMBERMAN_BOMB_TIMER", rules.BombTimer), "ticks until a bomb explodes")
	fs.IntVar(&c.Rules.BombRadius, "bomb-radius", e.int("BOMBERMAN_BOMB_RADIUS", rules.BombRadius), "explosion radius")
	fs.IntVar(&c.Rules.FireTTL, "fire-ttl", e.int("BOMBERMAN_FIRE_TTL", rules.FireTTL), "ticks fire stays on a cell")
	fs.Float64Var(&c.Rules.DestructibleDensity, "density", e.float("BOMBERMAN_DENSITY", rules.DestructibleDensity), "destructible block density, 0 to 1")

	fs.DurationVar(&c.TickTimeout, "tick-timeout", e.duration("BOMBERMAN_TICK_TIMEOUT", sess.TickTimeout), "substitute STAY after this long (0 waits forever)")
	fs.Int64Var(&c.Seed, "seed", e.int64("BOMBERMAN_SEED", 0), "board seed (0 for random)")
	fs.IntVar(&c.RetryAttempts, "retry-attempts", e.int("BOMBERMAN_RETRY_ATTEMPTS", sess.RetryAttempts), "store call attempts")
	fs.DurationVar(&c.RetryBackoff, "retry-backoff", e.duration("BOMBERMAN_RETRY_BACKOFF", sess.RetryBackoff), "first pause between store attempts")
	fs.DurationVar(&c.RetryInterval, "retry-interval", e.duration("BOMBERMAN_RETRY_INTERVAL", sess.RetryInterval), "pause before re-running an aborted tick or finish")
	fs.StringVar(&c.ReplayDir, "replay-dir", e.str("BOMBERMAN_REPLAY_DIR", ""), "also write replays to this directory")

	fs.BoolVar(&c.Discovery, "discovery", e.bool("BOMBERMAN_DISCOVERY", true), "advertise the server on the LAN")
	fs.IntVar(&c.DiscoveryPort, "discovery-port", e.int("BOMBERMAN_DISCOVERY_PORT", 9998), "UDP port for LAN discovery")

	var lobbies lobbyFlag
	for _, v := range strings.Split(e.str("BOMBERMAN_LOBBIES", ""), ";") {
		if v = strings.TrimSpace(v); v == "" {
			continue
		}
		if err := lobbies.Set(v); err != nil && e.err == nil {
			e.err = fmt.Errorf("BOMBERMAN_LOBBIES: %w", err)
		}
	}
	fs.Var(&lobbies, "lobby", "create a lobby for these comma-separated participant ids (repeatable)")

	if e.err != nil {
		return Config{}, e.err
	}
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	// Ensure odd dimensions for proper wall grid
	if c.Rules.Width%2 == 0 {
		c.Rules.Width++
	}
	if c.Rules.Height%2 == 0 {
		c.Rules.Height++
	}
	c.Lobbies = lobbies
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) validate() error {
	switch {
	case c.Rules.Width < 5 || c.Rules.Height < 5:
		return fmt.Errorf("board %dx%d is smaller than 5x5", c.Rules.Width, c.Rules.Height)
	case c.Rules.BombTimer < 1:
		return fmt.Errorf("bomb timer must be positive, got %d", c.Rules.BombTimer)
	case c.Rules.BombRadius < 1:
		return fmt.Errorf("bomb radius must be positive, got %d", c.Rules.BombRadius)
	case c.Rules.FireTTL < 1:
		return fmt.Errorf("fire ttl must be positive, got %d", c.Rules.FireTTL)
	case c.Rules.DestructibleDensity < 0 || c.Rules.DestructibleDensity > 1:
		return fmt.Errorf("density must be within [0,1], got %g", c.Rules.DestructibleDensity)
	case c.TickTimeout < 0:
		return fmt.Errorf("tick timeout must not be negative")
	case c.RetryAttempts < 1:
		return fmt.Errorf("retry attempts must be at least 1, got %d", c.RetryAttempts)
	}
	return nil
}
