package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moneyrag.io/backend/internal/apperr"
)

const testSecret = "super-secret-jwt-token-with-at-least-32-characters"

func TestJWTVerifier_RoundTrip(t *testing.T) {
	token, err := GenerateJWT(testSecret, "u1", "u1@example.com", time.Hour)
	require.NoError(t, err)

	id, err := NewJWTVerifier(testSecret, "authenticated").Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, Identity{TenantID: "u1", Email: "u1@example.com"}, id)
}

func TestJWTVerifier_Rejects(t *testing.T) {
	ctx := context.Background()
	v := NewJWTVerifier(testSecret, "")

	expired, err := GenerateJWT(testSecret, "u1", "", -time.Hour)
	require.NoError(t, err)
	wrongKey, err := GenerateJWT("another-secret-another-secret-another", "u1", "", time.Hour)
	require.NoError(t, err)
	noSubject, err := GenerateJWT(testSecret, "", "", time.Hour)
	require.NoError(t, err)
	noneAlg, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "u1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"empty":      "",
		"garbage":    "not-a-jwt",
		"expired":    expired,
		"wrong key":  wrongKey,
		"no subject": noSubject,
		"alg none":   noneAlg,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(ctx, token)
			require.Error(t, err)
			assert.Equal(t, apperr.KindAuthentication, apperr.KindOf(err))
			assert.Equal(t, http.StatusUnauthorized, apperr.HTTPStatus(err))
		})
	}
}

func TestJWTVerifier_Audience(t *testing.T) {
	token, err := GenerateJWT(testSecret, "u1", "", time.Hour)
	require.NoError(t, err)

	_, err = NewJWTVerifier(testSecret, "service_role").Verify(context.Background(), token)
	assert.Error(t, err)
}

func TestRemoteVerifier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/user", r.URL.Path)
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))
		switch r.Header.Get("Authorization") {
		case "Bearer good":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"u1","email":"u1@example.com","role":"authenticated"}`))
		case "Bearer flaky":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"msg":"invalid JWT"}`))
		}
	}))
	defer srv.Close()

	v := NewRemoteVerifier(srv.URL+"/", "anon-key", srv.Client())
	ctx := context.Background()

	id, err := v.Verify(ctx, "good")
	require.NoError(t, err)
	assert.Equal(t, Identity{TenantID: "u1", Email: "u1@example.com"}, id)

	_, err = v.Verify(ctx, "bad")
	assert.Equal(t, apperr.KindAuthentication, apperr.KindOf(err))

	_, err = v.Verify(ctx, "flaky")
	assert.Equal(t, apperr.KindUnavailable, apperr.KindOf(err))

	_, err = v.Verify(ctx, "")
	assert.Equal(t, apperr.KindAuthentication, apperr.KindOf(err))
}

func TestBearerToken(t *testing.T) {
	tok, ok := BearerToken("Bearer abc.def")
	assert.True(t, ok)
	assert.Equal(t, "abc.def", tok)

	tok, ok = BearerToken("bearer   xyz ")
	assert.True(t, ok)
	assert.Equal(t, "xyz", tok)

	_, ok = BearerToken("Basic Zm9vOmJhcg==")
	assert.False(t, ok)
	_, ok = BearerToken("Bearer")
	assert.False(t, ok)
	_, ok = BearerToken("")
	assert.False(t, ok)
}

func TestIdentityContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := WithIdentity(context.Background(), Identity{TenantID: "u1"})
	id, ok := FromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "u1", id.TenantID)
}
