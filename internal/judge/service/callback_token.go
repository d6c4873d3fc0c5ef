package service

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	appErr "ojcore/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

const callbackIssuer = "ojcore"

// CallbackSigner issues and verifies the tokens embedded in result callback URLs.
type CallbackSigner struct {
	baseURL string
	secret  []byte
	ttl     time.Duration
	now     func() time.Time
}

// NewCallbackSigner creates a signer for callbacks posted to baseURL.
func NewCallbackSigner(baseURL, secret string, ttl time.Duration) (*CallbackSigner, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("callback base url is required")
	}
	if secret == "" {
		return nil, fmt.Errorf("callback secret is required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CallbackSigner{baseURL: baseURL, secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Sign returns an HS256 token whose subject is submissionID.
func (s *CallbackSigner) Sign(submissionID string) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Issuer:    callbackIssuer,
		Subject:   submissionID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// URL returns the callback URL for submissionID.
func (s *CallbackSigner) URL(submissionID string) (string, error) {
	token, err := s.Sign(submissionID)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Verify checks the token and returns the submission id it was issued for.
func (s *CallbackSigner) Verify(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(callbackIssuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return "", appErr.New(appErr.CallbackTokenInvalid)
	}
	return claims.Subject, nil
}
