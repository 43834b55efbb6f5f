// Package auth signs private exchange requests with HMAC-SHA256.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strconv"
	"time"
)

// Header names sent on signed requests.
const (
	HeaderKey        = "ACCESS-KEY"
	HeaderSign       = "ACCESS-SIGN"
	HeaderTimestamp  = "ACCESS-TIMESTAMP"
	HeaderPassphrase = "ACCESS-PASSPHRASE"
)

// Credentials holds the API key material for private routes.
type Credentials struct {
	KeyID      string // API key from the exchange dashboard
	Secret     string // Secret used as the HMAC key
	Passphrase string // Passphrase chosen when the key was created

	now func() time.Time
}

// LoadCredentials validates and returns credentials.
func LoadCredentials(keyID, secret, passphrase string) (*Credentials, error) {
	if keyID == "" {
		return nil, errors.New("API key is required")
	}
	if secret == "" {
		return nil, errors.New("API secret is required")
	}
	if passphrase == "" {
		return nil, errors.New("API passphrase is required")
	}

	return &Credentials{
		KeyID:      keyID,
		Secret:     secret,
		Passphrase: passphrase,
	}, nil
}

// SignRequest generates authentication headers for a request.
// requestPath includes the query string when there is one ("/path?a=1").
func (c *Credentials) SignRequest(method, requestPath string, body []byte) map[string]string {
	now := time.Now
	if c.now != nil {
		now = c.now
	}
	timestampMs := now().UnixMilli()

	return map[string]string{
		HeaderKey:        c.KeyID,
		HeaderSign:       c.signature(timestampMs, method, requestPath, body),
		HeaderTimestamp:  strconv.FormatInt(timestampMs, 10),
		HeaderPassphrase: c.Passphrase,
	}
}

// signature computes base64(HMAC-SHA256(secret, timestamp + method + path + body)).
func (c *Credentials) signature(timestampMs int64, method, requestPath string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(c.Secret))
	mac.Write([]byte(strconv.FormatInt(timestampMs, 10)))
	mac.Write([]byte(method))
	mac.Write([]byte(requestPath))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
