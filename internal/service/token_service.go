package service

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/opsdash-api/internal/models"
	appErrors "github.com/noah-isme/opsdash-api/pkg/errors"
)

// TokenVerifier validates access tokens minted by the site SSO.
type TokenVerifier struct {
	secret []byte
	issuer string
}

// NewTokenVerifier constructs a verifier for HS256 tokens. An empty issuer
// skips the issuer check.
func NewTokenVerifier(secret, issuer string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret), issuer: strings.TrimSpace(issuer)}
}

// Verify parses token and returns the session it carries.
func (v *TokenVerifier) Verify(token string) (models.Session, error) {
	if strings.TrimSpace(token) == "" {
		return models.Session{}, appErrors.Clone(appErrors.ErrUnauthorized, "missing token")
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &models.JWTClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return models.Session{}, appErrors.Clone(appErrors.ErrUnauthorized, "token expired")
		}
		return models.Session{}, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	if !parsed.Valid || claims.UserID <= 0 {
		return models.Session{}, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}

	session := claims.Session()
	if !session.Role.Valid() {
		return models.Session{}, appErrors.Clone(appErrors.ErrUnauthorized, "unknown role")
	}
	return session, nil
}
