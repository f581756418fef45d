package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// expiryLeeway refreshes tokens slightly before they actually expire
const expiryLeeway = 30 * time.Second

// CredentialProvider supplies the bearer token for authenticated calls.
// Login itself is outside the sync engine.
type CredentialProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed bearer token
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", ErrNoCredentials
	}
	return string(t), nil
}

// PasswordLogin caches a token and exchanges the username and password for a
// new one when the cached token is missing or expired
type PasswordLogin struct {
	client   *Client
	username string
	password string
	onToken  func(string)

	mu    sync.Mutex
	token string
}

// NewPasswordLogin creates a provider seeded with a previously issued token.
// onToken, if set, is called with every newly issued token.
func NewPasswordLogin(client *Client, username, password, cached string, onToken func(string)) *PasswordLogin {
	return &PasswordLogin{
		client:   client,
		username: username,
		password: password,
		onToken:  onToken,
		token:    cached,
	}
}

func (p *PasswordLogin) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && !TokenExpired(p.token, time.Now()) {
		return p.token, nil
	}
	if p.username == "" || p.password == "" {
		if p.token != "" {
			return "", fmt.Errorf("token expired and no password configured: %w", ErrNoCredentials)
		}
		return "", ErrNoCredentials
	}

	detail, err := p.client.CreateToken(ctx, p.username, p.password)
	if err != nil {
		return "", err
	}
	p.token = detail.AccessToken
	if p.onToken != nil {
		p.onToken(p.token)
	}
	return p.token, nil
}

// TokenExpired reports whether a JWT's exp claim has passed. The signature is
// not checked; the server does that. Opaque tokens never expire locally.
func TokenExpired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return now.Add(expiryLeeway).After(exp.Time)
}
