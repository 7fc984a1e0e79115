// Package oauth is the client side of the identity provider's
// authorization-code flow with PKCE.
package oauth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"news/internal/session"
)

const (
	authorizePath = "/auth/oauth2/authorize"
	tokenPath     = "/auth/oauth2/token"
	userInfoPath  = "/auth/oauth2/userinfo"

	// CallbackPath is where the provider sends the browser back to.
	CallbackPath = "/api/auth/callback"

	scope = "openid profile email"

	// DefaultStateTTL matches the lifetime of the PKCE verifier cookie.
	DefaultStateTTL = 10 * time.Minute

	maxResponseBytes = 1 << 20
)

// ErrProvider is returned when the provider answers with a non-2xx status
// or an unusable payload.
var ErrProvider = errors.New("identity provider error")

type Config struct {
	ProviderURL string
	ClientID    string
	// PublicOrigin is this site's externally visible origin, used to build
	// the redirect URI.
	PublicOrigin string
	// StateSecret signs the state parameter.
	StateSecret []byte
	StateTTL    time.Duration
	HTTPClient  *http.Client
}

type Client struct {
	provider    *url.URL
	clientID    string
	redirectURI string
	secret      []byte
	stateTTL    time.Duration
	http        *http.Client
	now         func() time.Time
}

func New(cfg Config) (*Client, error) {
	provider, err := url.Parse(strings.TrimRight(cfg.ProviderURL, "/"))
	if err != nil || provider.Scheme == "" || provider.Host == "" {
		return nil, fmt.Errorf("oauth: invalid provider url %q", cfg.ProviderURL)
	}
	if cfg.ClientID == "" {
		return nil, errors.New("oauth: client id is required")
	}
	if len(cfg.StateSecret) < 16 {
		return nil, errors.New("oauth: state secret must be at least 16 bytes")
	}
	ttl := cfg.StateTTL
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		provider:    provider,
		clientID:    cfg.ClientID,
		redirectURI: strings.TrimRight(cfg.PublicOrigin, "/") + CallbackPath,
		secret:      cfg.StateSecret,
		stateTTL:    ttl,
		http:        hc,
		now:         time.Now,
	}, nil
}

// WithClock replaces the clock used to stamp and check state tokens.
func (c *Client) WithClock(now func() time.Time) *Client {
	c.now = now
	return c
}

func (c *Client) endpoint(path string) string {
	u := *c.provider
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String()
}

// NewVerifier returns a PKCE code verifier: 32 random bytes, base64url.
func NewVerifier() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("pkce verifier: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Challenge is the S256 code challenge for verifier.
func Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// SafeReturnTo keeps v only if it is a path on this site.
func SafeReturnTo(v string) string {
	if v == "" || v[0] != '/' || strings.HasPrefix(v, "//") || strings.HasPrefix(v, "/\\") {
		return "/"
	}
	u, err := url.Parse(v)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "/"
	}
	return v
}

type stateClaims struct {
	ReturnTo string `json:"returnTo"`
	jwt.RegisteredClaims
}

// Authorization is a prepared redirect to the provider. Verifier must be
// kept by the browser (in a short-lived cookie) until the callback.
type Authorization struct {
	URL      string
	Verifier string
}

// AuthorizationURL prepares the provider redirect for a sign-in that should
// land on returnTo afterwards.
func (c *Client) AuthorizationURL(returnTo string) (Authorization, error) {
	verifier, err := NewVerifier()
	if err != nil {
		return Authorization{}, err
	}
	now := c.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, stateClaims{
		ReturnTo: SafeReturnTo(returnTo),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.stateTTL)),
		},
	})
	state, err := token.SignedString(c.secret)
	if err != nil {
		return Authorization{}, fmt.Errorf("sign state: %w", err)
	}

	q := url.Values{}
	q.Set("client_id", c.clientID)
	q.Set("redirect_uri", c.redirectURI)
	q.Set("response_type", "code")
	q.Set("scope", scope)
	q.Set("state", state)
	q.Set("code_challenge", Challenge(verifier))
	q.Set("code_challenge_method", "S256")
	return Authorization{
		URL:      c.endpoint(authorizePath) + "?" + q.Encode(),
		Verifier: verifier,
	}, nil
}

// ParseState recovers returnTo from a state value. Anything that fails
// verification yields "/".
func (c *Client) ParseState(state string) string {
	if state == "" {
		return "/"
	}
	var claims stateClaims
	_, err := jwt.ParseWithClaims(state, &claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(c.now))
	if err != nil {
		return "/"
	}
	return SafeReturnTo(claims.ReturnTo)
}

// Token is the part of the token response this site uses.
type Token struct {
	AccessToken string `json:"access_token"`
	IDToken     string `json:"id_token,omitempty"`
	TokenType   string `json:"token_type,omitempty"`
}

// Exchange trades an authorization code for tokens.
func (c *Client) Exchange(ctx context.Context, code, verifier string) (*Token, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", c.redirectURI)
	form.Set("client_id", c.clientID)
	form.Set("code_verifier", verifier)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(tokenPath), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	var tok Token
	if err := c.do(req, &tok); err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("token exchange: no access token: %w", ErrProvider)
	}
	return &tok, nil
}

// UserInfo fetches the signed-in user's profile.
func (c *Client) UserInfo(ctx context.Context, accessToken string) (*session.UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(userInfoPath), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	var info session.UserInfo
	if err := c.do(req, &info); err != nil {
		return nil, fmt.Errorf("userinfo: %w", err)
	}
	if info.Sub == "" {
		return nil, fmt.Errorf("userinfo: missing sub: %w", ErrProvider)
	}
	return &info, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body := io.LimitReader(resp.Body, maxResponseBytes)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, body)
		return fmt.Errorf("status %d: %w", resp.StatusCode, ErrProvider)
	}
	if err := json.NewDecoder(body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %v: %w", err, ErrProvider)
	}
	return nil
}
