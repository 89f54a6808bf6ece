package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/Ning0612/dpsync/internal/domain"
)

// tokenFetchTimeout bounds a single token request
const tokenFetchTimeout = 30 * time.Second

// clientCredentialsSource fetches a fresh token on every call; caching is
// left to the oauth2.ReuseTokenSourceWithExpiry wrapper so that the
// expiry buffer is honored.
type clientCredentialsSource struct {
	cfg    clientcredentials.Config
	client *http.Client
}

func newClientCredentialsSource(client *http.Client, tokenURL, clientID, secret string) *clientCredentialsSource {
	return &clientCredentialsSource{
		cfg: clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: secret,
			TokenURL:     tokenURL,
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		client: client,
	}
}

// Token implements oauth2.TokenSource
func (s *clientCredentialsSource) Token() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), tokenFetchTimeout)
	defer cancel()

	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.client)
	return s.cfg.Token(ctx)
}

// basicTokenSource exchanges a username and password for a bearer token
type basicTokenSource struct {
	client   *http.Client
	url      string
	username string
	password string
}

// basicTokenResponse is the body of the basic-auth token endpoint
type basicTokenResponse struct {
	Token   string `json:"token"`
	Expires string `json:"expires"`
}

// Token implements oauth2.TokenSource
func (s *basicTokenSource) Token() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), tokenFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(s.username, s.password)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readAPIError(http.MethodPost, req.URL.Path, resp)
	}

	var body basicTokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode token: %w: %v", domain.ErrInvalidResponse, err)
	}
	if body.Token == "" {
		return nil, fmt.Errorf("decode token: %w: empty token", domain.ErrInvalidResponse)
	}

	expiry, err := time.Parse(time.RFC3339Nano, body.Expires)
	if err != nil {
		return nil, fmt.Errorf("decode token expiry %q: %w", body.Expires, domain.ErrInvalidResponse)
	}

	return &oauth2.Token{
		AccessToken: body.Token,
		TokenType:   "Bearer",
		Expiry:      expiry,
	}, nil
}
