package apisec

import (
	"crypto/rand"
	"encoding/hex"
	"net"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/blake2b"
)

const (
	pseudonymLen      = 16 // hex chars kept from the keyed digest
	pseudonymCacheCap = 4096
)

// anonymizer produces stable pseudonyms for user identifiers and masks
// network addresses. Pseudonyms are keyed one-way digests: the same input
// always maps to the same pseudonym, and nothing here can reverse one.
type anonymizer struct {
	secret []byte
	cache  *lru.Cache[string, string]
	uaMax  int
}

func newAnonymizer(secret []byte, uaMax int) (*anonymizer, error) {
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, err
		}
	}
	// blake2b keys are capped at 64 bytes.
	if len(secret) > 64 {
		sum := blake2b.Sum256(secret)
		secret = sum[:]
	}
	cache, err := lru.New[string, string](pseudonymCacheCap)
	if err != nil {
		return nil, err
	}
	return &anonymizer{secret: secret, cache: cache, uaMax: uaMax}, nil
}

// pseudonym maps an identifier to its stable truncated digest.
func (a *anonymizer) pseudonym(id string) string {
	if id == "" {
		return ""
	}
	if cached, ok := a.cache.Get(id); ok {
		return cached
	}

	h, err := blake2b.New256(a.secret)
	if err != nil {
		// Unreachable with a valid key length; degrade to redaction rather
		// than leaking the raw identifier.
		return "anon_unavailable"
	}
	h.Write([]byte(id))
	p := "anon_" + hex.EncodeToString(h.Sum(nil))[:pseudonymLen]

	a.cache.Add(id, p)
	return p
}

// maskIP zeroes the host portion of an address: the last octet for IPv4,
// the interface identifier (/64 tail) for IPv6. Unparseable input is
// dropped entirely.
func (a *anonymizer) maskIP(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}
	if v4 := parsed.To4(); v4 != nil {
		masked := v4.Mask(net.CIDRMask(24, 32))
		return masked.String()
	}
	masked := parsed.Mask(net.CIDRMask(64, 128))
	return masked.String()
}

// truncateUA length-bounds a user agent string.
func (a *anonymizer) truncateUA(ua string) string {
	if a.uaMax > 0 && len(ua) > a.uaMax {
		return ua[:a.uaMax]
	}
	return ua
}
