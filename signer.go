package apisec

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	signaturePrefix        = "v1="
	webhookSignaturePrefix = "sha256="
)

// RequestSigner implements the HMAC-SHA256 signing protocol for inbound
// requests, outbound calls, and webhooks. It is stateless: signatures are
// recomputed per verification and never stored.
//
// Canonical string: METHOD "\n" PATH "\n" TIMESTAMP "\n" and, when the body
// is non-empty, the lowercase hex SHA-256 of the raw body bytes.
type RequestSigner struct {
	cfg     SigningConfig
	clock   clock.Clock
	metrics *Metrics
}

// NewRequestSigner creates a signer with the given configuration. Zero
// values fall back to defaults (300s tolerance, X-Signature/X-Timestamp).
func NewRequestSigner(cfg SigningConfig) *RequestSigner {
	return newRequestSigner(cfg, clock.New(), nil)
}

func newRequestSigner(cfg SigningConfig, clk clock.Clock, m *Metrics) *RequestSigner {
	def := defaultConfig().Signing
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = def.Tolerance
	}
	if cfg.SignatureHeader == "" {
		cfg.SignatureHeader = def.SignatureHeader
	}
	if cfg.TimestampHeader == "" {
		cfg.TimestampHeader = def.TimestampHeader
	}
	if clk == nil {
		clk = clock.New()
	}
	return &RequestSigner{cfg: cfg, clock: clk, metrics: m}
}

func canonicalString(method, path string, body []byte, timestamp int64) string {
	var b strings.Builder
	b.Grow(len(method) + len(path) + 24 + sha256.Size*2)
	b.WriteString(strings.ToUpper(method))
	b.WriteByte('\n')
	b.WriteString(path)
	b.WriteByte('\n')
	b.WriteString(strconv.FormatInt(timestamp, 10))
	b.WriteByte('\n')
	if len(body) > 0 {
		sum := sha256.Sum256(body)
		b.WriteString(hex.EncodeToString(sum[:]))
	}
	return b.String()
}

func (s *RequestSigner) mac(secret []byte, payload []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write(payload)
	return h.Sum(nil)
}

// Sign produces the deterministic `v1=<hex>` signature for the canonical
// string of the given request parameters.
func (s *RequestSigner) Sign(method, path string, body []byte, timestamp int64, secret []byte) string {
	sig := s.mac(secret, []byte(canonicalString(method, path, body, timestamp)))
	s.metrics.Inc(MetricSignaturesIssued)
	return signaturePrefix + hex.EncodeToString(sig)
}

// Verify checks a `v1=<hex>` signature. The timestamp is rejected first when
// outside the replay tolerance, then the signature is recomputed and
// compared in constant time. Both failure modes return the same uniform
// false; the caller can never learn which check failed.
func (s *RequestSigner) Verify(method, path string, body []byte, timestamp int64, signature string, secret []byte) bool {
	ok := s.verify(method, path, body, timestamp, signature, secret)
	if ok {
		s.metrics.Inc(MetricVerifySuccess)
	} else {
		s.metrics.Inc(MetricVerifyFailure)
	}
	return ok
}

func (s *RequestSigner) verify(method, path string, body []byte, timestamp int64, signature string, secret []byte) bool {
	now := s.clock.Now().Unix()
	skew := now - timestamp
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Second > s.cfg.Tolerance {
		return false
	}

	provided, ok := decodeSignature(signature, signaturePrefix)
	if !ok {
		return false
	}
	expected := s.mac(secret, []byte(canonicalString(method, path, body, timestamp)))
	return hmac.Equal(provided, expected)
}

// SignOutgoing produces the signature and timestamp headers for a call this
// system makes outward. The signed path includes the query string when the
// URL carries one.
func (s *RequestSigner) SignOutgoing(method, rawURL string, body []byte, secret []byte) (map[string]string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}

	ts := s.clock.Now().Unix()
	return map[string]string{
		s.cfg.SignatureHeader: s.Sign(method, path, body, ts, secret),
		s.cfg.TimestampHeader: strconv.FormatInt(ts, 10),
	}, nil
}

// WebhookSign produces `sha256=<hex>` over the raw payload bytes. No
// canonical string is involved; this matches the common provider
// convention for webhook signatures.
func (s *RequestSigner) WebhookSign(payload, secret []byte) string {
	return webhookSignaturePrefix + hex.EncodeToString(s.mac(secret, payload))
}

// WebhookVerify checks a webhook signature header. The header may carry
// several comma-separated candidates (key rotation on the sender's side);
// verification succeeds if any candidate matches in constant time.
func (s *RequestSigner) WebhookVerify(payload []byte, headerValue string, secret []byte) bool {
	expected := s.mac(secret, payload)

	matched := false
	for _, candidate := range strings.Split(headerValue, ",") {
		provided, ok := decodeSignature(strings.TrimSpace(candidate), webhookSignaturePrefix)
		if !ok {
			continue
		}
		// No early exit: every candidate is compared in constant time.
		if hmac.Equal(provided, expected) {
			matched = true
		}
	}

	if matched {
		s.metrics.Inc(MetricWebhookVerifySuccess)
	} else {
		s.metrics.Inc(MetricWebhookVerifyFailure)
	}
	return matched
}

func decodeSignature(signature, prefix string) ([]byte, bool) {
	if !strings.HasPrefix(signature, prefix) {
		return nil, false
	}
	raw, err := hex.DecodeString(signature[len(prefix):])
	if err != nil || len(raw) != sha256.Size {
		return nil, false
	}
	return raw, true
}
