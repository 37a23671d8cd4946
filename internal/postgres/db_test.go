package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPoolConfig_Applies_Overrides(t *testing.T) {
	req := require.New(t)

	pc, err := poolConfig(Config{
		DSN:             "postgres://u:p@localhost:5432/chat",
		MaxConns:        8,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		SlowQuery:       100 * time.Millisecond,
	})
	req.NoError(err)
	req.Equal(int32(8), pc.MaxConns)
	req.Equal(int32(2), pc.MinConns)
	req.Equal(time.Hour, pc.MaxConnLifetime)
	req.Equal(defaultApplicationName, pc.ConnConfig.RuntimeParams["application_name"])
	req.IsType(&slowQueryTracer{}, pc.ConnConfig.Tracer)
}

func TestPoolConfig_Keeps_DSN_Application_Name(t *testing.T) {
	pc, err := poolConfig(Config{DSN: "postgres://u:p@localhost:5432/chat?application_name=from-dsn"})
	require.NoError(t, err)
	require.Equal(t, "from-dsn", pc.ConnConfig.RuntimeParams["application_name"])
	require.Nil(t, pc.ConnConfig.Tracer)

	pc, err = poolConfig(Config{DSN: "postgres://u:p@localhost:5432/chat?application_name=from-dsn", ApplicationName: "cfg"})
	require.NoError(t, err)
	require.Equal(t, "cfg", pc.ConnConfig.RuntimeParams["application_name"])
}

func TestPoolConfig_Bad_DSN(t *testing.T) {
	_, err := poolConfig(Config{DSN: "://nope"})
	require.Error(t, err)
}
