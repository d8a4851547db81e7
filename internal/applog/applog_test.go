package applog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestAccessLogsRequestFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	log := zap.New(core)

	Access(log, "GET", "/index.html", 200, 15*time.Millisecond, 1234, "127.0.0.1")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "GET", fields["method"])
	require.Equal(t, "/index.html", fields["path"])
	require.EqualValues(t, 200, fields["status"])
	require.EqualValues(t, 1234, fields["bytes"])
	require.Equal(t, "127.0.0.1", fields["remote_addr"])
}

func TestNewBuildsProductionAndDebugLoggers(t *testing.T) {
	prod, err := New(false)
	require.NoError(t, err)
	require.NotNil(t, prod)

	dev, err := New(true)
	require.NoError(t, err)
	require.NotNil(t, dev)
}
