package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"moneyrag.io/backend/internal/apperr"
)

// identityClaims are the access token claims issued by the identity provider
type identityClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256 access tokens locally with the identity provider's signing secret
type JWTVerifier struct {
	secret   []byte
	audience string
	leeway   time.Duration
}

var _ Verifier = (*JWTVerifier)(nil)

// NewJWTVerifier returns a verifier for tokens signed with secret. A non-empty audience is
// enforced when present.
func NewJWTVerifier(secret, audience string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), audience: audience, leeway: 30 * time.Second}
}

func (v *JWTVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, apperr.New(apperr.KindAuthentication, "missing bearer token")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	var claims identityClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Identity{}, apperr.Wrap(err, apperr.KindAuthentication, "invalid token")
	}
	if !parsed.Valid || claims.Subject == "" {
		return Identity{}, apperr.New(apperr.KindAuthentication, "invalid token")
	}
	return Identity{TenantID: claims.Subject, Email: claims.Email}, nil
}

// GenerateJWT issues a token the JWTVerifier accepts. Used by tests and local tooling; production
// tokens come from the identity provider.
func GenerateJWT(secret, userID, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := identityClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Audience:  jwt.ClaimStrings{"authenticated"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
