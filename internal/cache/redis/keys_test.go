package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

func TestKeysAreNamespaced(t *testing.T) {
	assert.Equal(t, "updown:lock:engine", lockKey("engine"))
	assert.Equal(t, "updown:ratelimit:gamma", rateLimitKey("gamma"))
	assert.Equal(t, "updown:price:btc", priceKey("btc"))
	assert.Equal(t, "updown:market:eth", marketKey("eth"))
}

func TestPriceEncoding(t *testing.T) {
	ts := time.Date(2026, 3, 4, 10, 0, 0, 123, time.UTC)
	enc := encodePrice(97123.45, ts)

	vals := make(map[string]string, len(enc))
	for k, v := range enc {
		vals[k] = v.(string)
	}
	price, got, err := decodePrice(vals)
	require.NoError(t, err)
	assert.InDelta(t, 97123.45, price, 1e-9)
	assert.True(t, got.Equal(ts))

	_, _, err = decodePrice(map[string]string{})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, _, err = decodePrice(map[string]string{"price": "x", "ts": "1"})
	assert.Error(t, err)
}

func TestHasPattern(t *testing.T) {
	assert.True(t, hasPattern("events.*"))
	assert.False(t, hasPattern("events.alert"))
}

func TestSlidingWindowScriptEmbedded(t *testing.T) {
	assert.Contains(t, slidingWindowLua, "ZREMRANGEBYSCORE")
}

func TestBackoffClamp(t *testing.T) {
	assert.Equal(t, minWait, backoff(0))
	assert.Equal(t, 250*time.Millisecond, backoff(250_000))
	assert.Equal(t, maxWait, backoff(int64(time.Minute/time.Microsecond)))
}
