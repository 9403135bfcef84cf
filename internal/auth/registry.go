package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/routecodex/routecodex/config"
)

// DefaultRefreshers builds the FamilyRefresher registry for the OAuth
// families named in the spec's default token-file layout: qwen, iflow, and
// glm's coding-plan device flow. Dispatch-by-name here mirrors the
// teacher's factory.go switch-on-provider-name idiom, generalized to
// OAuth families instead of vendor providers.
func DefaultRefreshers(client *http.Client) map[string]FamilyRefresher {
	if client == nil {
		client = http.DefaultClient
	}
	return map[string]FamilyRefresher{
		"qwen":       &oauth2RefreshTokenRefresher{client: client, tokenURL: "https://chat.qwen.ai/api/v1/oauth2/token"},
		"iflow":      &oauth2RefreshTokenRefresher{client: client, tokenURL: "https://iflow.cn/oauth/token"},
		"glm-coding": &oauth2RefreshTokenRefresher{client: client, tokenURL: "https://open.bigmodel.cn/api/paas/v4/oauth/token"},
	}
}

// oauth2RefreshTokenRefresher performs a standard RFC 6749 §6 refresh-token
// grant. It is shared across families since each vendor's device-flow
// ecosystem converges on this shape once a refresh token is in hand.
type oauth2RefreshTokenRefresher struct {
	client   *http.Client
	tokenURL string
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
}

func (r *oauth2RefreshTokenRefresher) Refresh(ctx context.Context, current *TokenFile, desc config.NormalizedOAuth) (*TokenFile, error) {
	if current == nil || current.RefreshToken == "" {
		return nil, fmt.Errorf("no refresh token available for oauth family refresh")
	}

	form := map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": current.RefreshToken,
		"client_id":     desc.ClientID,
	}
	if desc.ClientSecret != "" {
		form["client_secret"] = desc.ClientSecret
	}
	body, err := json.Marshal(form)
	if err != nil {
		return nil, fmt.Errorf("encode refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.tokenURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oauth refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read refresh response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oauth refresh rejected: status %d: %s", resp.StatusCode, string(data))
	}

	var tr tokenResponse
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, fmt.Errorf("parse refresh response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("oauth refresh response missing access_token")
	}

	refreshToken := tr.RefreshToken
	if refreshToken == "" {
		refreshToken = current.RefreshToken // some vendors omit it when unchanged
	}
	expiresIn := tr.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}

	return &TokenFile{
		AccessToken:  tr.AccessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(expiresIn) * time.Second),
		Scopes:       current.Scopes,
	}, nil
}
