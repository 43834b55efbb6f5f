package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"
	"time"
)

func TestCredentials_SignRequest(t *testing.T) {
	creds := &Credentials{
		KeyID:      "test-key-id",
		Secret:     "test-secret",
		Passphrase: "test-pass",
		now:        func() time.Time { return time.UnixMilli(1700000000000) },
	}

	headers := creds.SignRequest("GET", "/api/v2/spot/account/assets?coin=USDT", nil)

	if headers[HeaderKey] != "test-key-id" {
		t.Errorf("%s = %q, want %q", HeaderKey, headers[HeaderKey], "test-key-id")
	}
	if headers[HeaderTimestamp] != "1700000000000" {
		t.Errorf("%s = %q, want %q", HeaderTimestamp, headers[HeaderTimestamp], "1700000000000")
	}
	if headers[HeaderPassphrase] != "test-pass" {
		t.Errorf("%s = %q, want %q", HeaderPassphrase, headers[HeaderPassphrase], "test-pass")
	}

	mac := hmac.New(sha256.New, []byte("test-secret"))
	mac.Write([]byte("1700000000000GET/api/v2/spot/account/assets?coin=USDT"))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if headers[HeaderSign] != want {
		t.Errorf("%s = %q, want %q", HeaderSign, headers[HeaderSign], want)
	}
}

func TestCredentials_SignatureDependsOnInputs(t *testing.T) {
	creds := &Credentials{Secret: "s"}

	base := creds.signature(1, "GET", "/a", nil)
	variants := map[string]string{
		"timestamp": creds.signature(2, "GET", "/a", nil),
		"method":    creds.signature(1, "POST", "/a", nil),
		"path":      creds.signature(1, "GET", "/b", nil),
		"body":      creds.signature(1, "GET", "/a", []byte("{}")),
	}

	for name, sig := range variants {
		if sig == base {
			t.Errorf("changing %s did not change the signature", name)
		}
	}
}

func TestLoadCredentials(t *testing.T) {
	tests := []struct {
		name                    string
		key, secret, passphrase string
		wantErr                 string
	}{
		{"missing key", "", "s", "p", "API key is required"},
		{"missing secret", "k", "", "p", "API secret is required"},
		{"missing passphrase", "k", "s", "", "API passphrase is required"},
		{"valid", "k", "s", "p", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			creds, err := LoadCredentials(tt.key, tt.secret, tt.passphrase)
			if tt.wantErr != "" {
				if err == nil || err.Error() != tt.wantErr {
					t.Fatalf("LoadCredentials() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadCredentials() unexpected error: %v", err)
			}
			if creds.KeyID != "k" || creds.Secret != "s" || creds.Passphrase != "p" {
				t.Errorf("unexpected credentials: %+v", creds)
			}
		})
	}
}
