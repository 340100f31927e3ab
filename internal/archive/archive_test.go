package archive

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/store/memory"
)

type memBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMemBlob() *memBlob {
	return &memBlob{objects: map[string][]byte{}, types: map[string]string{}}
}

func (b *memBlob) Put(_ context.Context, key string, body []byte, contentType string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = append([]byte(nil), body...)
	b.types[key] = contentType
	return nil
}

func (b *memBlob) Exists(_ context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[key]
	return ok, nil
}

func decodeLines(t *testing.T, body []byte) []domain.TradeRecord {
	t.Helper()
	var out []domain.TradeRecord
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		var r domain.TradeRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		out = append(out, r)
	}
	require.NoError(t, sc.Err())
	return out
}

func seed(t *testing.T, ledger *memory.TradeStore, recs ...domain.TradeRecord) {
	t.Helper()
	for _, r := range recs {
		_, err := ledger.InsertTrade(context.Background(), r)
		require.NoError(t, err)
	}
}

func TestArchiveDayWritesOldestFirst(t *testing.T) {
	ledger := memory.NewTradeStore()
	day := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	seed(t, ledger,
		domain.TradeRecord{Timestamp: day.Add(time.Hour), Asset: "btc", Action: domain.ActionBuy, Paper: true},
		domain.TradeRecord{Timestamp: day.Add(2 * time.Hour), Asset: "btc", Action: domain.ActionResolution, Paper: true},
		domain.TradeRecord{Timestamp: day.Add(25 * time.Hour), Asset: "btc", Action: domain.ActionBuy, Paper: true},
		domain.TradeRecord{Timestamp: day.Add(3 * time.Hour), Asset: "eth", Action: domain.ActionBuy, Paper: false},
	)
	blob := newMemBlob()
	a := New(ledger, blob, "ledger", 1, slog.New(slog.NewTextHandler(io.Discard, nil)))

	n, err := a.ArchiveDay(context.Background(), day.Add(5*time.Hour), true)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	key := "ledger/paper/2026/03/04.jsonl"
	require.Contains(t, blob.objects, key)
	assert.Equal(t, contentType, blob.types[key])
	lines := decodeLines(t, blob.objects[key])
	require.Len(t, lines, 2)
	assert.Equal(t, domain.ActionBuy, lines[0].Action)
	assert.Equal(t, domain.ActionResolution, lines[1].Action)
}

func TestRunOnceSkipsExistingAndEmptyDays(t *testing.T) {
	ledger := memory.NewTradeStore()
	now := time.Date(2026, 3, 6, 9, 0, 0, 0, time.UTC)
	seed(t, ledger,
		domain.TradeRecord{Timestamp: time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC), Asset: "btc", Paper: true},
		domain.TradeRecord{Timestamp: time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC), Asset: "btc", Paper: true},
		domain.TradeRecord{Timestamp: time.Date(2026, 3, 6, 8, 0, 0, 0, time.UTC), Asset: "btc", Paper: true},
	)
	blob := newMemBlob()
	a := New(ledger, blob, "ledger", 2, slog.New(slog.NewTextHandler(io.Discard, nil)))
	a.now = func() time.Time { return now }

	require.NoError(t, blob.Put(context.Background(), "ledger/paper/2026/03/04.jsonl", []byte("kept\n"), contentType))
	require.NoError(t, a.RunOnce(context.Background()))

	assert.Equal(t, []byte("kept\n"), blob.objects["ledger/paper/2026/03/04.jsonl"])
	assert.Contains(t, blob.objects, "ledger/paper/2026/03/05.jsonl")
	assert.NotContains(t, blob.objects, "ledger/paper/2026/03/06.jsonl")
	assert.NotContains(t, blob.objects, "ledger/live/2026/03/05.jsonl")
	assert.Len(t, blob.objects, 2)
}
