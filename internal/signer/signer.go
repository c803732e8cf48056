// Package signer produces the signed Authorization header required by the
// remote ERP endpoint. The signature scheme is HMAC-SHA256 over the request
// method, URL and sorted query parameters.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/url"
	"sort"
	"strings"
)

// ErrNoCredentials is returned before any network call when the consumer
// key or secret is absent. Callers must not fall back to unsigned requests.
var ErrNoCredentials = errors.New("signer: missing consumer credentials")

type Signer struct {
	key    string
	secret string
}

func New(key, secret string) *Signer {
	return &Signer{key: key, secret: secret}
}

// Check reports whether credentials are present. Used to fail fast at
// startup and before each request.
func (s *Signer) Check() error {
	if s.key == "" || s.secret == "" {
		return ErrNoCredentials
	}
	return nil
}

// Sign returns the Authorization header value for one request.
func (s *Signer) Sign(method, rawURL string, params url.Values) (string, error) {
	if err := s.Check(); err != nil {
		return "", err
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var base strings.Builder
	base.WriteString(strings.ToUpper(method))
	base.WriteString("\n")
	base.WriteString(rawURL)
	for _, name := range names {
		base.WriteString("\n")
		base.WriteString(name)
		base.WriteString("=")
		base.WriteString(params.Get(name))
	}

	mac := hmac.New(sha256.New, []byte(s.secret))
	_, _ = mac.Write([]byte(base.String()))
	signature := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	return "FS-HMAC-SHA256 key=" + s.key + ", signature=" + signature, nil
}
