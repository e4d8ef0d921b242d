package hub

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token kinds carried in the "typ" claim.
const (
	tokenAccess  = "access"
	tokenRefresh = "refresh"
)

// refreshLifetimeFactor scales the access token lifetime into the refresh
// token lifetime.
const refreshLifetimeFactor = 24

// clockSkew is tolerated when validating time claims.
const clockSkew = 30 * time.Second

var (
	errInvalidToken     = errors.New("hub: invalid token")
	errWrongTokenType   = errors.New("hub: wrong token type")
	errBadCredentials   = errors.New("hub: invalid username or password")
	errMissingWorkspace = errors.New("hub: token request without workspace scope")
)

// claims are the JWT claims issued by the token endpoint.
type claims struct {
	Workspace string `json:"ws"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// issuer signs and validates HS256 tokens.
type issuer struct {
	key      []byte
	lifetime time.Duration
	users    map[string]string
	timeFunc func() time.Time
}

// checkCredentials validates a password grant. With no configured users any
// non-empty username and password is accepted (development mode).
func (i *issuer) checkCredentials(user, password string) error {
	if user == "" || password == "" {
		return errBadCredentials
	}

	if len(i.users) == 0 {
		return nil
	}

	want, ok := i.users[user]
	if !ok || subtle.ConstantTimeCompare([]byte(want), []byte(password)) != 1 {
		return errBadCredentials
	}

	return nil
}

type tokenPair struct {
	access  string
	refresh string
	expires time.Duration
}

func (i *issuer) issue(user, workspace string) (tokenPair, error) {
	if workspace == "" {
		return tokenPair{}, errMissingWorkspace
	}

	access, err := i.sign(user, workspace, tokenAccess, i.lifetime)
	if err != nil {
		return tokenPair{}, err
	}

	refresh, err := i.sign(user, workspace, tokenRefresh, i.lifetime*refreshLifetimeFactor)
	if err != nil {
		return tokenPair{}, err
	}

	return tokenPair{access: access, refresh: refresh, expires: i.lifetime}, nil
}

func (i *issuer) sign(user, workspace, typ string, lifetime time.Duration) (string, error) {
	now := i.timeFunc()

	c := claims{
		Workspace: workspace,
		TokenType: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("hub: signing %s token: %w", typ, err)
	}

	return signed, nil
}

// validate parses a token and checks its signature, expiry and kind.
func (i *issuer) validate(raw, wantType string) (*claims, error) {
	tok, err := jwt.ParseWithClaims(raw, &claims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}

			return i.key, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithLeeway(clockSkew),
		jwt.WithTimeFunc(i.timeFunc),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidToken, err)
	}

	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid {
		return nil, errInvalidToken
	}

	if c.TokenType != wantType {
		return nil, errWrongTokenType
	}

	if c.Workspace == "" {
		return nil, errMissingWorkspace
	}

	return c, nil
}
