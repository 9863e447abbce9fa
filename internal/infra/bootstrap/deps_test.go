package bootstrap

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"guild-rewards-bot/internal/adapters/memory"
	"guild-rewards-bot/internal/infra/config"
	"guild-rewards-bot/internal/infra/lock"
)

func TestOpenInMemory(t *testing.T) {
	var cfg config.AppConfig
	cfg.AppEnv = "dev"

	deps, err := Open(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer deps.Close()

	require.IsType(t, &memory.Store{}, deps.Store)
	require.IsType(t, &lock.Keyed{}, deps.Locker)
	require.Equal(t, deps.Store, deps.Deduper)
	require.Nil(t, deps.Signal)
	require.Nil(t, deps.Wakeups)
}
