package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strconv"
	"time"
)

// APICreds are the L2 credentials derived from the wallet.
type APICreds struct {
	Key        string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// Apply sets the L2 HMAC headers for one request. The signature covers
// timestamp + method + path + body with the base64url-decoded secret.
func (c APICreds) Apply(h http.Header, address, method, path, body string, now time.Time) {
	ts := strconv.FormatInt(now.Unix(), 10)
	h.Set("POLY_ADDRESS", address)
	h.Set("POLY_API_KEY", c.Key)
	h.Set("POLY_PASSPHRASE", c.Passphrase)
	h.Set("POLY_TIMESTAMP", ts)
	h.Set("POLY_SIGNATURE", c.signature(ts+method+path+body))
}

func (c APICreds) signature(msg string) string {
	secret, err := base64.URLEncoding.DecodeString(c.Secret)
	if err != nil {
		secret = []byte(c.Secret)
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(msg))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil))
}
