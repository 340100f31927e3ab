package clickhouse

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

func setupTestDB(t *testing.T) *Conn {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "clickhouse/clickhouse-server:24.1-alpine",
			ExposedPorts: []string{"9000/tcp"},
			WaitingFor: wait.ForAll(
				wait.ForLog("Ready for connections").WithStartupTimeout(60*time.Second),
				wait.ForListeningPort("9000/tcp"),
			),
			Env: map[string]string{"CLICKHOUSE_DB": "updown"},
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	conn, err := NewConn(ctx, fmt.Sprintf("clickhouse://default@%s:%s/updown", host, port.Port()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.Migrate(ctx))
	return conn
}

func TestRecordMarkets(t *testing.T) {
	conn := setupTestDB(t)
	ctx := context.Background()
	s := NewSnapshotStore(conn)

	start := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	m := domain.MarketState{
		Info:             domain.WindowInfo{Window: domain.Window{Asset: "btc", Start: start}, ConditionID: "0xabc"},
		UpPrice:          0.55,
		DownPrice:        0.47,
		SecondsRemaining: 300,
	}
	require.NoError(t, s.RecordMarkets(ctx, start.Add(10*time.Minute), []domain.MarketState{m}, map[string]float64{"btc": 97000}))
	require.NoError(t, s.RecordMarkets(ctx, start.Add(10*time.Minute+2*time.Second), []domain.MarketState{m}, nil))
	require.NoError(t, s.RecordMarkets(ctx, start, nil, nil))

	rows, err := s.Recent(ctx, "btc", 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Zero(t, rows[0].ReferencePrice)
	assert.InDelta(t, 97000, rows[1].ReferencePrice, 1e-9)
	assert.InDelta(t, 0.55, rows[1].UpPrice, 1e-9)
}

func TestParseDSN(t *testing.T) {
	opts, err := parseDSN("clickhouse://user:pw@ch.local/analytics")
	require.NoError(t, err)
	assert.Equal(t, []string{"ch.local:9000"}, opts.Addr)
	assert.Equal(t, "user", opts.Auth.Username)
	assert.Equal(t, "pw", opts.Auth.Password)
	assert.Equal(t, "analytics", opts.Auth.Database)

	_, err = parseDSN("clickhouse:///nohost")
	assert.Error(t, err)
}
