// Manages GitHub authentication: personal access tokens and GitHub App
// installation tokens, both exposed as oauth2 token sources.

package githubapp

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// DefaultBaseURL is the public GitHub REST endpoint.
const DefaultBaseURL = "https://api.github.com"

// Installation tokens are refreshed this long before they expire.
const refreshMargin = 5 * time.Minute

// Client manages GitHub App authentication.
type Client struct {
	appID      int64
	privateKey *rsa.PrivateKey
	baseURL    string
	httpClient *http.Client

	mu     sync.Mutex
	tokens map[int64]cachedToken // installationID -> cached token
}

type cachedToken struct {
	Token     string
	ExpiresAt time.Time
}

// Repo represents a GitHub repository returned by the installation API.
type Repo struct {
	FullName      string `json:"full_name"`
	Owner         string `json:"owner"`
	Name          string `json:"name"`
	Private       bool   `json:"private"`
	DefaultBranch string `json:"default_branch"`
	HTMLURL       string `json:"html_url"`
}

// NewClient creates a new GitHub App client. An empty baseURL means
// DefaultBaseURL.
func NewClient(appID int64, privateKey *rsa.PrivateKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		appID:      appID,
		privateKey: privateKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		tokens:     make(map[int64]cachedToken),
	}
}

// LoadPrivateKey reads a PEM encoded RSA key as downloaded from the GitHub
// App settings page.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(b)
	if err != nil {
		return nil, fmt.Errorf("parse private key %s: %w", path, err)
	}
	return key, nil
}

// GenerateJWT creates a signed JWT for GitHub App authentication.
// The JWT is valid for 10 minutes per GitHub's requirements.
func (c *Client) GenerateJWT() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-60 * time.Second)), // 60s clock drift
		ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
		Issuer:    strconv.FormatInt(c.appID, 10),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(c.privateKey)
}

// GetInstallationToken returns a valid installation access token, using cache when possible.
func (c *Client) GetInstallationToken(ctx context.Context, installationID int64) (string, time.Time, error) {
	c.mu.Lock()
	if cached, ok := c.tokens[installationID]; ok {
		if time.Until(cached.ExpiresAt) > refreshMargin {
			c.mu.Unlock()
			return cached.Token, cached.ExpiresAt, nil
		}
	}
	c.mu.Unlock()

	jwtToken, err := c.GenerateJWT()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate JWT: %w", err)
	}

	url := fmt.Sprintf("%s/app/installations/%d/access_tokens", c.baseURL, installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, http.NoBody)
	if err != nil {
		return "", time.Time{}, err
	}
	req.Header.Set("Authorization", "Bearer "+jwtToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("request installation token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return "", time.Time{}, fmt.Errorf("GitHub API error %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", time.Time{}, fmt.Errorf("decode token response: %w", err)
	}

	c.mu.Lock()
	c.tokens[installationID] = cachedToken{Token: result.Token, ExpiresAt: result.ExpiresAt}
	c.mu.Unlock()

	return result.Token, result.ExpiresAt, nil
}

// TokenSource returns an oauth2.TokenSource minting installation tokens.
//
// Tokens are cached by the Client; the returned source does not cache on its
// own so that early refresh keeps working.
func (c *Client) TokenSource(ctx context.Context, installationID int64) oauth2.TokenSource {
	return &installationSource{ctx: ctx, c: c, id: installationID}
}

type installationSource struct {
	ctx context.Context
	c   *Client
	id  int64
}

func (s *installationSource) Token() (*oauth2.Token, error) {
	tok, exp, err := s.c.GetInstallationToken(s.ctx, s.id)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: tok, TokenType: "Bearer", Expiry: exp}, nil
}

// StaticTokenSource wraps a personal access token.
func StaticTokenSource(token string) (oauth2.TokenSource, error) {
	if token == "" {
		return nil, errors.New("empty personal access token")
	}
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}), nil
}

// HTTPClient returns an http.Client authenticating every request with ts.
//
// The http.Client stored in ctx under oauth2.HTTPClient, if any, is used as
// the underlying transport.
func HTTPClient(ctx context.Context, ts oauth2.TokenSource) *http.Client {
	return oauth2.NewClient(ctx, ts)
}

// ListInstallationRepos lists repositories accessible to an installation.
func (c *Client) ListInstallationRepos(ctx context.Context, installationID int64) ([]Repo, error) {
	hc := HTTPClient(context.WithValue(ctx, oauth2.HTTPClient, c.httpClient), c.TokenSource(ctx, installationID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/installation/repositories?per_page=100", http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list repos: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("GitHub API error %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Repositories []struct {
			FullName string `json:"full_name"`
			Owner    struct {
				Login string `json:"login"`
			} `json:"owner"`
			Name          string `json:"name"`
			Private       bool   `json:"private"`
			DefaultBranch string `json:"default_branch"`
			HTMLURL       string `json:"html_url"`
		} `json:"repositories"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode repos response: %w", err)
	}

	repos := make([]Repo, len(result.Repositories))
	for i, r := range result.Repositories {
		repos[i] = Repo{
			FullName:      r.FullName,
			Owner:         r.Owner.Login,
			Name:          r.Name,
			Private:       r.Private,
			DefaultBranch: r.DefaultBranch,
			HTMLURL:       r.HTMLURL,
		}
	}
	return repos, nil
}
