package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "https://voila.ca", cfg.Voila.BaseURL)
	require.Equal(t, 15, cfg.HTTP.TimeoutSeconds)
	require.Equal(t, 4, cfg.Search.MaxWorkers)
	require.Equal(t, 400, cfg.Search.ChunkSize)
	require.Equal(t, "all", cfg.Search.DefaultLimit)
	require.Equal(t, "memory", cfg.Storage.Provider)
	require.Equal(t, "none", cfg.Events.Provider)
	require.True(t, cfg.Logging.Development)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	base := func() Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.Server.Port = 0
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Voila.BaseURL = ""
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Storage.Provider = "postgres"
	require.Error(t, cfg.Validate(), "postgres provider without DSN must fail")
	cfg.Storage.Postgres.DSN = "postgres://localhost/db"
	require.NoError(t, cfg.Validate())

	cfg = base()
	cfg.Storage.Provider = "cassandra"
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Events.Provider = "pubsub"
	require.Error(t, cfg.Validate(), "pubsub provider without project/topic must fail")
	cfg.Events.ProjectID = "proj"
	cfg.Events.Topic = "chunks"
	require.NoError(t, cfg.Validate())

	cfg = base()
	cfg.Archive.Enabled = true
	require.Error(t, cfg.Validate(), "archiving without a bucket must fail")

	cfg = base()
	cfg.Auth.Enabled = true
	require.Error(t, cfg.Validate(), "auth without api key must fail")

	cfg = base()
	cfg.Headless.Enabled = true
	cfg.Headless.MaxParallel = 0
	require.Error(t, cfg.Validate())
}

func TestRequestTimeout(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "15s", cfg.RequestTimeout().String())
}
