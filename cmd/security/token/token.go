package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"eduplay/cmd/security/consttime"
)

// MaxTokenLength bounds the input Verify is willing to decode.
const MaxTokenLength = 4096

var payloadEncoding = base64.RawURLEncoding

// Issue signs a token for subject that expires ttlSeconds after now.
// ttlSeconds below 1 is raised to 1; one that would push exp past the
// int64 range is ErrInvalidInput. extra may be nil.
func Issue(subject string, extra map[string]any, secret string, ttlSeconds int64, now time.Time) (Issued, error) {
	if subject == "" {
		return Issued{}, fmt.Errorf("%w: subject is required", ErrInvalidInput)
	}
	if secret == "" {
		return Issued{}, fmt.Errorf("%w: secret is required", ErrInvalidInput)
	}
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}
	if n := now.Unix(); n > 0 && ttlSeconds > math.MaxInt64-n {
		return Issued{}, fmt.Errorf("%w: ttl overflows expiry", ErrInvalidInput)
	}

	exp := now.Unix() + ttlSeconds

	claims := make(map[string]any, len(extra)+2)
	for k, v := range extra {
		if k == ClaimSubject || k == ClaimExpiresAt {
			return Issued{}, fmt.Errorf("%w: claim %q is reserved", ErrInvalidInput, k)
		}
		claims[k] = v
	}
	claims[ClaimSubject] = subject
	claims[ClaimExpiresAt] = exp

	// json.Marshal sorts map keys, so the encoding is canonical.
	raw, err := json.Marshal(claims)
	if err != nil {
		return Issued{}, fmt.Errorf("%w: claims: %v", ErrInvalidInput, err)
	}

	body := payloadEncoding.EncodeToString(raw)
	return Issued{
		Token:     body + "." + signHex(body, secret),
		ExpiresAt: exp,
	}, nil
}

// Verify checks tok against secret at time now and returns its claims.
// Any failure yields (Claims{}, false).
func Verify(tok, secret string, now time.Time) (Claims, bool) {
	if tok == "" || secret == "" || len(tok) > MaxTokenLength {
		return Claims{}, false
	}
	if strings.Count(tok, ".") != 1 {
		return Claims{}, false
	}
	body, sig, _ := strings.Cut(tok, ".")
	if body == "" || sig == "" {
		return Claims{}, false
	}

	if !consttime.EqualString(signHex(body, secret), sig) {
		return Claims{}, false
	}

	claims, ok := decodeClaims(body)
	if !ok {
		return Claims{}, false
	}
	if now.Unix() >= claims.ExpiresAt {
		return Claims{}, false
	}
	return claims, true
}

func decodeClaims(body string) (Claims, bool) {
	raw, err := payloadEncoding.DecodeString(body)
	if err != nil {
		return Claims{}, false
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return Claims{}, false
	}

	var out Claims

	subRaw, ok := fields[ClaimSubject]
	if !ok || json.Unmarshal(subRaw, &out.Subject) != nil || out.Subject == "" {
		return Claims{}, false
	}

	expRaw, ok := fields[ClaimExpiresAt]
	if !ok || string(expRaw) == "null" || json.Unmarshal(expRaw, &out.ExpiresAt) != nil {
		return Claims{}, false
	}

	for k, v := range fields {
		if k == ClaimSubject || k == ClaimExpiresAt {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return Claims{}, false
		}
		if out.Extra == nil {
			out.Extra = make(map[string]any, len(fields)-2)
		}
		out.Extra[k] = val
	}

	return out, true
}

// signHex returns the lowercase hex HMAC-SHA256 of body under secret.
func signHex(body, secret string) string {
	m := hmac.New(sha256.New, []byte(secret))
	_, _ = m.Write([]byte(body))
	return hex.EncodeToString(m.Sum(nil))
}
