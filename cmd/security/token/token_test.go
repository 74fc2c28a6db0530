package token

import (
	"encoding/base64"
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

var testSecret = strings.Repeat("x", 32)

func TestIssueVerify_ExpiryBoundary(t *testing.T) {
	t.Parallel()

	issued, err := Issue("u1", map[string]any{"role": "parent"}, testSecret, 60, time.Unix(1000, 0))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if issued.ExpiresAt != 1060 {
		t.Fatalf("ExpiresAt=%d want=1060", issued.ExpiresAt)
	}

	claims, ok := Verify(issued.Token, testSecret, time.Unix(1059, 0))
	if !ok {
		t.Fatalf("expected token to verify one second before expiry")
	}
	if claims.Subject != "u1" || claims.ExpiresAt != 1060 {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if role, _ := claims.GetString("role"); role != "parent" {
		t.Fatalf("role=%q want=parent", role)
	}
	if len(claims.Extra) != 1 {
		t.Fatalf("unexpected extra claims: %v", claims.Extra)
	}

	if _, ok := Verify(issued.Token, testSecret, time.Unix(1060, 0)); ok {
		t.Fatalf("expected token to be rejected at expiry")
	}
	if _, ok := Verify(issued.Token, testSecret, time.Unix(5000, 0)); ok {
		t.Fatalf("expected token to be rejected after expiry")
	}
}

func TestIssueVerify_RoundTripClaims(t *testing.T) {
	t.Parallel()

	now := time.Now()
	extra := map[string]any{
		"role":     "child",
		"username": "Lucía",
		"demo":     true,
		"level":    3,
	}

	issued, err := Issue("01J9Z3K8Q4M0000000000000AB", extra, testSecret, 3600, now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, ok := Verify(issued.Token, testSecret, now)
	if !ok {
		t.Fatalf("expected verify ok")
	}
	if claims.Subject != "01J9Z3K8Q4M0000000000000AB" {
		t.Fatalf("subject=%q", claims.Subject)
	}
	if claims.ExpiresAt != now.Unix()+3600 {
		t.Fatalf("exp=%d want=%d", claims.ExpiresAt, now.Unix()+3600)
	}
	if got, _ := claims.GetString("username"); got != "Lucía" {
		t.Fatalf("username=%q", got)
	}
	if got, _ := claims.Get("demo"); got != true {
		t.Fatalf("demo=%v", got)
	}
	// JSON numbers decode as float64.
	if got, _ := claims.Get("level"); got != float64(3) {
		t.Fatalf("level=%v", got)
	}
	if !claims.Expiry().Equal(issued.Expiry()) {
		t.Fatalf("expiry mismatch")
	}
}

func TestIssue_TokenShape(t *testing.T) {
	t.Parallel()

	issued, err := Issue("u1", nil, testSecret, 60, time.Unix(1000, 0))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	body, sig, ok := strings.Cut(issued.Token, ".")
	if !ok || strings.Contains(sig, ".") {
		t.Fatalf("expected exactly one separator: %q", issued.Token)
	}
	if len(sig) != 64 || strings.ToLower(sig) != sig {
		t.Fatalf("expected 64 lowercase hex chars, got %q", sig)
	}

	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		t.Fatalf("body is not base64url: %v", err)
	}
	if string(raw) != `{"exp":1060,"sub":"u1"}` {
		t.Fatalf("unexpected payload %s", raw)
	}
	if strings.ContainsAny(issued.Token, "+/=;, ") {
		t.Fatalf("token is not cookie-safe: %q", issued.Token)
	}
}

func TestIssue_TTLCoercedToOneSecond(t *testing.T) {
	t.Parallel()

	for _, ttl := range []int64{0, -10} {
		issued, err := Issue("u1", nil, testSecret, ttl, time.Unix(1000, 0))
		if err != nil {
			t.Fatalf("Issue(ttl=%d): %v", ttl, err)
		}
		if issued.ExpiresAt != 1001 {
			t.Fatalf("ttl=%d: ExpiresAt=%d want=1001", ttl, issued.ExpiresAt)
		}
		if _, ok := Verify(issued.Token, testSecret, time.Unix(1000, 0)); !ok {
			t.Fatalf("ttl=%d: expected valid at issuance", ttl)
		}
	}
}

func TestIssue_TTLOverflow(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	for _, ttl := range []int64{math.MaxInt64, math.MaxInt64 - 999} {
		if _, err := Issue("u1", nil, testSecret, ttl, now); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("ttl=%d: expected ErrInvalidInput, got %v", ttl, err)
		}
	}

	issued, err := Issue("u1", nil, testSecret, math.MaxInt64-1000, now)
	if err != nil {
		t.Fatalf("largest ttl: %v", err)
	}
	if issued.ExpiresAt != math.MaxInt64 {
		t.Fatalf("ExpiresAt=%d want MaxInt64", issued.ExpiresAt)
	}
	if _, ok := Verify(issued.Token, testSecret, now); !ok {
		t.Fatalf("expected far-future token to verify")
	}
}

func TestIssue_InvalidInput(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	cases := []struct {
		name    string
		subject string
		extra   map[string]any
		secret  string
	}{
		{name: "missing subject", subject: "", secret: testSecret},
		{name: "missing secret", subject: "u1", secret: ""},
		{name: "reserved sub", subject: "u1", secret: testSecret, extra: map[string]any{"sub": "admin"}},
		{name: "reserved exp", subject: "u1", secret: testSecret, extra: map[string]any{"exp": 1 << 40}},
		{name: "unencodable claim", subject: "u1", secret: testSecret, extra: map[string]any{"ch": make(chan int)}},
	}

	for _, tc := range cases {
		if _, err := Issue(tc.subject, tc.extra, tc.secret, 60, now); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%s: expected ErrInvalidInput, got %v", tc.name, err)
		}
	}
}

func TestVerify_Rejects(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	issued, err := Issue("u1", map[string]any{"role": "parent"}, testSecret, 60, now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	body, sig, _ := strings.Cut(issued.Token, ".")

	flipped := []byte(sig)
	if flipped[0] == '0' {
		flipped[0] = '1'
	} else {
		flipped[0] = '0'
	}

	forge := func(payload string) string {
		b := base64.RawURLEncoding.EncodeToString([]byte(payload))
		return b + "." + signHex(b, testSecret)
	}

	cases := []struct {
		name   string
		tok    string
		secret string
	}{
		{name: "empty token", tok: "", secret: testSecret},
		{name: "empty secret", tok: issued.Token, secret: ""},
		{name: "no separator", tok: body + sig, secret: testSecret},
		{name: "two separators", tok: body + "." + sig + ".", secret: testSecret},
		{name: "empty body", tok: "." + sig, secret: testSecret},
		{name: "empty signature", tok: body + ".", secret: testSecret},
		{name: "flipped signature", tok: body + "." + string(flipped), secret: testSecret},
		{name: "upper-case signature", tok: body + "." + strings.ToUpper(sig), secret: testSecret},
		{name: "truncated signature", tok: body + "." + sig[:63], secret: testSecret},
		{name: "different secret", tok: issued.Token, secret: strings.Repeat("y", 32)},
		{name: "tampered body", tok: strings.Replace(body, body[:4], "AAAA", 1) + "." + sig, secret: testSecret},
		{name: "oversize", tok: strings.Repeat("a", MaxTokenLength) + "." + sig, secret: testSecret},
		{name: "not base64", tok: "!!!." + signHex("!!!", testSecret), secret: testSecret},
		{name: "not json", tok: forge("not json"), secret: testSecret},
		{name: "json array", tok: forge(`[1,2]`), secret: testSecret},
		{name: "json null", tok: forge(`null`), secret: testSecret},
		{name: "missing exp", tok: forge(`{"sub":"u1"}`), secret: testSecret},
		{name: "null exp", tok: forge(`{"sub":"u1","exp":null}`), secret: testSecret},
		{name: "string exp", tok: forge(`{"sub":"u1","exp":"99999"}`), secret: testSecret},
		{name: "fractional exp", tok: forge(`{"sub":"u1","exp":99999.5}`), secret: testSecret},
		{name: "missing sub", tok: forge(`{"exp":99999}`), secret: testSecret},
		{name: "empty sub", tok: forge(`{"sub":"","exp":99999}`), secret: testSecret},
		{name: "numeric sub", tok: forge(`{"sub":7,"exp":99999}`), secret: testSecret},
	}

	for _, tc := range cases {
		claims, ok := Verify(tc.tok, tc.secret, now)
		if ok {
			t.Fatalf("%s: expected rejection, got %+v", tc.name, claims)
		}
		if claims.Subject != "" || claims.Extra != nil {
			t.Fatalf("%s: expected zero claims on rejection", tc.name)
		}
	}

	// A forged-but-signed well-formed payload is accepted: the secret is the only trust anchor.
	if _, ok := Verify(forge(`{"sub":"u1","exp":99999}`), testSecret, now); !ok {
		t.Fatalf("expected well-formed signed payload to verify")
	}
}

func TestVerify_NeverPanicsOnGarbage(t *testing.T) {
	t.Parallel()

	inputs := []string{
		".", "..", "a.b", "a.b.c", "\x00.\x00", "eyJ.", strings.Repeat(".", 100),
		"e30." + signHex("e30", testSecret), // {} signed
		"bnVsbA." + signHex("bnVsbA", testSecret),
	}
	for _, in := range inputs {
		if _, ok := Verify(in, testSecret, time.Unix(1000, 0)); ok {
			t.Fatalf("Verify(%q) expected false", in)
		}
	}
}
