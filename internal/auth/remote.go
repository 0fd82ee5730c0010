package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"moneyrag.io/backend/internal/apperr"
)

// RemoteVerifier asks the identity provider who owns the token (GET /auth/v1/user)
type RemoteVerifier struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

var _ Verifier = (*RemoteVerifier)(nil)

func NewRemoteVerifier(baseURL, apiKey string, client *http.Client) *RemoteVerifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RemoteVerifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
	}
}

type remoteUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (v *RemoteVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, apperr.New(apperr.KindAuthentication, "missing bearer token")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return Identity{}, fmt.Errorf("failed to build identity request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("apikey", v.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return Identity{}, apperr.Wrap(err, apperr.KindUnavailable, "identity provider unreachable")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return Identity{}, apperr.New(apperr.KindAuthentication, "invalid token")
	case resp.StatusCode >= http.StatusInternalServerError:
		return Identity{}, apperr.Newf(apperr.KindUnavailable, "identity provider returned %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return Identity{}, apperr.Newf(apperr.KindAuthentication, "token validation failed with status %d", resp.StatusCode)
	}

	var u remoteUser
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&u); err != nil {
		return Identity{}, apperr.Wrap(err, apperr.KindAuthentication, "token validation failed")
	}
	if u.ID == "" {
		return Identity{}, apperr.New(apperr.KindAuthentication, "invalid token")
	}
	return Identity{TenantID: u.ID, Email: u.Email}, nil
}
