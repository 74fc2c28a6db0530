package token

import (
	"strings"
	"testing"
)

func TestSecretFromEnv(t *testing.T) {
	cases := []struct {
		name    string
		val     string
		want    string
		wantErr error
	}{
		{name: "missing", val: "", wantErr: ErrSecretMissing},
		{name: "blank", val: "   ", wantErr: ErrSecretMissing},
		{name: "too short", val: strings.Repeat("k", 31), wantErr: ErrSecretTooShort},
		{name: "trimmed too short", val: "  " + strings.Repeat("k", 31) + "  ", wantErr: ErrSecretTooShort},
		{name: "ok", val: strings.Repeat("k", 32), want: strings.Repeat("k", 32)},
		{name: "ok trimmed", val: "\t" + strings.Repeat("k", 40) + "\n", want: strings.Repeat("k", 40)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(SecretEnvKey, tc.val)

			got, err := SecretFromEnv(MinSecretLength)
			if err != tc.wantErr {
				t.Fatalf("err=%v want=%v", err, tc.wantErr)
			}
			if got != tc.want {
				t.Fatalf("secret=%q want=%q", got, tc.want)
			}
		})
	}
}

func TestValidateSecret_CountsCharacters(t *testing.T) {
	t.Parallel()

	// 32 two-byte runes: 64 bytes, 32 characters.
	s := strings.Repeat("ñ", 32)
	if _, err := ValidateSecret(s, MinSecretLength); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if _, err := ValidateSecret(strings.Repeat("ñ", 31), MinSecretLength); err != ErrSecretTooShort {
		t.Fatalf("expected ErrSecretTooShort, got %v", err)
	}
}
