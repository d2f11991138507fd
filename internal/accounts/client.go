// Package accounts is the boundary to the external account service. The
// engine only needs one thing from it: a resolvable identity for a bearer
// credential. Guest identities are synthesized locally.
package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"cardclash/internal/game"
)

// ErrUnauthenticated covers missing, expired, or invalid credentials.
var ErrUnauthenticated = errors.New("unauthenticated")

// Resolver turns a bearer token into an identity.
type Resolver interface {
	Resolve(ctx context.Context, token string) (game.Identity, error)
}

// Client calls the account service over HTTP.
type Client struct {
	base string
	http *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: 5 * time.Second},
	}
}

// Resolve looks the token up via GET /api/me.
func (c *Client) Resolve(ctx context.Context, token string) (game.Identity, error) {
	if token == "" {
		return game.Identity{}, ErrUnauthenticated
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/me", nil)
	if err != nil {
		return game.Identity{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.http.Do(req)
	if err != nil {
		return game.Identity{}, fmt.Errorf("accounts: %w", err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return game.Identity{}, ErrUnauthenticated
	case resp.StatusCode != http.StatusOK:
		return game.Identity{}, fmt.Errorf("accounts: status %d", resp.StatusCode)
	}
	var body struct {
		ID          string `json:"id"`
		DisplayName string `json:"displayName"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return game.Identity{}, fmt.Errorf("accounts: decode: %w", err)
	}
	if body.ID == "" {
		return game.Identity{}, ErrUnauthenticated
	}
	if body.DisplayName == "" {
		body.DisplayName = "Anon"
	}
	return game.Identity{ID: body.ID, DisplayName: body.DisplayName}, nil
}

// Guest builds an ephemeral local identity; the account service is not
// involved.
func Guest(displayName string) game.Identity {
	if strings.TrimSpace(displayName) == "" {
		displayName = "Guest"
	}
	return game.Identity{
		ID:          "guest-" + uuid.NewString(),
		DisplayName: displayName,
		Guest:       true,
	}
}
