package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"sort"
	"strings"

	"github.com/vietstay/payment-service/internal/domain"
)

// OrderRequest carries everything an adapter needs to register an order
// with its provider.
type OrderRequest struct {
	OrderID   string
	BookingID string
	Amount    int64 // VND
	OrderInfo string
	ReturnURL string
	CancelURL string
	ClientIP  string
}

// OrderResponse is the result of registering an order with a provider.
type OrderResponse struct {
	PayURL string
	// TransferCode is set by the banking adapter only.
	TransferCode string
	// ProviderOrderRef is the provider-side order reference when the
	// provider assigns one at creation time (ZaloPay app_trans_id).
	ProviderOrderRef string
}

// Provider is one payment network integration. CreateOrder registers an
// order and returns the redirect target; ParseCallback verifies a webhook
// delivery (signature and timestamp) and normalizes it. ParseCallback must
// fail closed: any verification failure returns an error and a nil outcome.
type Provider interface {
	Name() domain.Provider
	CreateOrder(ctx context.Context, req *OrderRequest) (*OrderResponse, error)
	ParseCallback(raw []byte) (*domain.NormalizedOutcome, error)
}

// signHMAC computes a lowercase hex HMAC digest of payload
func signHMAC(newHash func() hash.Hash, secret, payload string) string {
	mac := hmac.New(newHash, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignSHA256 returns the lowercase hex HMAC-SHA256 of payload (64 chars).
func SignSHA256(secret, payload string) string {
	return signHMAC(sha256.New, secret, payload)
}

// SignSHA512 returns the lowercase hex HMAC-SHA512 of payload (128 chars).
func SignSHA512(secret, payload string) string {
	return signHMAC(sha512.New, secret, payload)
}

// verifyHex recomputes the digest and compares it against the presented
// hex signature in constant time. Malformed hex never panics, it just
// fails verification.
func verifyHex(expected, presented string) bool {
	want, err := hex.DecodeString(strings.ToLower(expected))
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(presented)))
	if err != nil {
		return false
	}
	return hmac.Equal(want, got)
}

// VerifySHA256 checks a hex HMAC-SHA256 signature in constant time.
func VerifySHA256(secret, payload, signature string) bool {
	return verifyHex(SignSHA256(secret, payload), signature)
}

// VerifySHA512 checks a hex HMAC-SHA512 signature in constant time.
func VerifySHA512(secret, payload, signature string) bool {
	return verifyHex(SignSHA512(secret, payload), signature)
}

// canonicalQuery builds the "k=v&k=v" canonical string over params with keys
// sorted lexicographically. Empty values are skipped, matching VNPay's rule
// that absent optional params do not enter the signature.
func canonicalQuery(params map[string]string, encode func(string) string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		if encode != nil {
			b.WriteString(encode(params[k]))
		} else {
			b.WriteString(params[k])
		}
	}
	return b.String()
}
