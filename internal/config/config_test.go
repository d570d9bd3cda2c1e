package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/Netflix/go-env"
	"github.com/ashureev/shsh-chat/internal/domain"
	"github.com/stretchr/testify/require"
)

var validKey = strings.Repeat("ab", 32)

func baseEnv() env.EnvSet {
	return env.EnvSet{
		"ENCRYPTION_KEY": validKey,
		"JWT_SECRET":     "secret",
	}
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(baseEnv())
	require.NoError(t, err)

	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, "9090", cfg.GRPCPort)
	require.Equal(t, "./data/chat.db", cfg.DBPath)
	require.Equal(t, 2*time.Second, cfg.PushTimeout)
	require.Equal(t, 64, cfg.SendQueueSize)
	require.InDelta(t, 20.0, cfg.EventsPerSecond, 0.001)
	require.Equal(t, 40, cfg.EventBurst)
	require.Equal(t, time.Minute, cfg.PresenceSweepInterval)
	require.Len(t, cfg.Key, 32)
	require.True(t, cfg.IsDevelopment())
	require.Equal(t, []string{"*"}, cfg.AllowedOrigins())

	level, err := cfg.SlogLevel()
	require.NoError(t, err)
	require.Equal(t, slog.LevelInfo, level)
}

func TestParseOverrides(t *testing.T) {
	es := baseEnv()
	es["FRONTEND_URL"] = "https://chat.example.com"
	es["PUSH_TIMEOUT"] = "500ms"
	es["LOG_LEVEL"] = "debug"
	// Extra characters after the first 64 hex digits are ignored.
	es["ENCRYPTION_KEY"] = validKey + "trailing"

	cfg, err := Parse(es)
	require.NoError(t, err)
	require.False(t, cfg.IsDevelopment())
	require.Equal(t, []string{"https://chat.example.com"}, cfg.AllowedOrigins())
	require.Equal(t, 500*time.Millisecond, cfg.PushTimeout)

	level, err := cfg.SlogLevel()
	require.NoError(t, err)
	require.Equal(t, slog.LevelDebug, level)
}

func TestParseErrors(t *testing.T) {
	tests := map[string]func(env.EnvSet){
		"missing key":      func(es env.EnvSet) { delete(es, "ENCRYPTION_KEY") },
		"short key":        func(es env.EnvSet) { es["ENCRYPTION_KEY"] = "abcd" },
		"non-hex key":      func(es env.EnvSet) { es["ENCRYPTION_KEY"] = strings.Repeat("zz", 32) },
		"missing secret":   func(es env.EnvSet) { delete(es, "JWT_SECRET") },
		"bad level":        func(es env.EnvSet) { es["LOG_LEVEL"] = "loud" },
		"zero queue":       func(es env.EnvSet) { es["SEND_QUEUE_SIZE"] = "0" },
		"negative timeout": func(es env.EnvSet) { es["PUSH_TIMEOUT"] = "-1s" },
	}

	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			es := baseEnv()
			mutate(es)
			_, err := Parse(es)
			require.ErrorIs(t, err, domain.ErrStartupConfig)
		})
	}
}
