// Package oauth adapts external identity providers to a common profile shape.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	ProviderGoogle    = "google"
	ProviderMicrosoft = "microsoft"
	ProviderFacebook  = "facebook"
	ProviderApple     = "apple"
)

var (
	ErrInvalidState    = errors.New("oauth: invalid or expired state")
	ErrInvalidCode     = errors.New("oauth: invalid authorization code")
	ErrUnknownProvider = errors.New("oauth: unknown provider")
)

// Profile is what a provider asserts about the signed-in user.
type Profile struct {
	Provider       string
	ProviderUserID string
	Email          string
	EmailVerified  bool
	FullName       string
	FirstName      string
	LastName       string
}

// Provider drives one authorization-code flow.
type Provider interface {
	Name() string
	AuthURL(state string) string
	ResolveProfile(ctx context.Context, code string) (Profile, error)
}

// Config holds client credentials. Endpoint and ProfileURL default per provider.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	Endpoint     oauth2.Endpoint
	ProfileURL   string
	HTTPClient   *http.Client
}

func (c Config) oauth2Config(def oauth2.Endpoint, scopes []string) *oauth2.Config {
	ep := c.Endpoint
	if ep.AuthURL == "" {
		ep = def
	}
	if len(c.Scopes) > 0 {
		scopes = c.Scopes
	}
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		Scopes:       scopes,
		Endpoint:     ep,
	}
}

func (c Config) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// exchange trades the code for a token using the adapter's HTTP client.
func exchange(ctx context.Context, conf *oauth2.Config, client *http.Client, code string) (*oauth2.Token, error) {
	if strings.TrimSpace(code) == "" {
		return nil, ErrInvalidCode
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, client)
	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		return nil, errors.Join(ErrInvalidCode, err)
	}
	return tok, nil
}

// fetchJSON performs an authenticated GET and decodes the JSON body into v.
func fetchJSON(ctx context.Context, client *http.Client, url, accessToken string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("profile endpoint returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// Registry looks providers up by name.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		if p != nil {
			r.providers[p.Name()] = p
		}
	}
	return r
}

func (r *Registry) Get(name string) (Provider, error) {
	if r != nil {
		if p, ok := r.providers[strings.ToLower(name)]; ok {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
}

// Names returns the configured provider names in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
