package crypto

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestKeyFile_SealOpen(t *testing.T) {
	data, err := SealKeyFile("0x"+testKey, "hunter2")
	require.NoError(t, err)

	got, err := OpenKeyFile(data, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKey, got)

	_, err = OpenKeyFile(data, "wrong")
	assert.Error(t, err)
}

func TestLoadKey_PrefersRaw(t *testing.T) {
	k, err := LoadKey("0x"+testKey, "/does/not/exist", "")
	require.NoError(t, err)
	assert.Equal(t, testKey, k)

	_, err = LoadKey("", "", "")
	assert.Error(t, err)
}

func TestSigner_SignOrder(t *testing.T) {
	s, err := NewSigner(testKey, 137, "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E")
	require.NoError(t, err)

	o := &SignedOrder{
		Salt: "12345", Maker: s.Address(), Signer: s.Address(),
		Taker:   "0x0000000000000000000000000000000000000000",
		TokenID: "1234567890", MakerAmount: "4800000", TakerAmount: "10000000",
		Expiration: "0", Nonce: "0", FeeRateBps: "0", Side: OrderSideBuy,
	}
	require.NoError(t, s.SignOrder(o))
	assert.True(t, strings.HasPrefix(o.Signature, "0x"))
	assert.Len(t, o.Signature, 2+130)

	bad := *o
	bad.TokenID = "not-a-number"
	assert.Error(t, s.SignOrder(&bad))
}

func TestAPICreds_Apply(t *testing.T) {
	c := APICreds{Key: "k", Secret: "c2VjcmV0", Passphrase: "p"}
	h := http.Header{}
	c.Apply(h, "0xabc", http.MethodGet, "/data/order/1", "", time.Unix(1_700_000_000, 0))

	assert.Equal(t, "1700000000", h.Get("POLY_TIMESTAMP"))
	assert.Equal(t, "k", h.Get("POLY_API_KEY"))
	assert.NotEmpty(t, h.Get("POLY_SIGNATURE"))
}
