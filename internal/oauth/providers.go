package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"
)

const (
	googleProfileURL    = "https://www.googleapis.com/oauth2/v2/userinfo"
	microsoftProfileURL = "https://graph.microsoft.com/v1.0/me"
	facebookProfileURL  = "https://graph.facebook.com/me?fields=id,name,email,first_name,last_name"
)

// AppleEndpoint is Sign in with Apple; x/oauth2 ships no constant for it.
var AppleEndpoint = oauth2.Endpoint{
	AuthURL:   "https://appleid.apple.com/auth/authorize",
	TokenURL:  "https://appleid.apple.com/auth/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

type googleProvider struct {
	conf       *oauth2.Config
	client     *http.Client
	profileURL string
}

func NewGoogle(cfg Config) Provider {
	return &googleProvider{
		conf:       cfg.oauth2Config(google.Endpoint, []string{"openid", "email", "profile"}),
		client:     cfg.httpClient(),
		profileURL: orDefault(cfg.ProfileURL, googleProfileURL),
	}
}

func (p *googleProvider) Name() string { return ProviderGoogle }

func (p *googleProvider) AuthURL(state string) string {
	return p.conf.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

func (p *googleProvider) ResolveProfile(ctx context.Context, code string) (Profile, error) {
	tok, err := exchange(ctx, p.conf, p.client, code)
	if err != nil {
		return Profile{}, err
	}
	var u struct {
		ID            string `json:"id"`
		Email         string `json:"email"`
		VerifiedEmail bool   `json:"verified_email"`
		Name          string `json:"name"`
		GivenName     string `json:"given_name"`
		FamilyName    string `json:"family_name"`
	}
	if err := fetchJSON(ctx, p.client, p.profileURL, tok.AccessToken, &u); err != nil {
		return Profile{}, fmt.Errorf("fetch google user: %w", err)
	}
	return Profile{
		Provider:       ProviderGoogle,
		ProviderUserID: u.ID,
		Email:          u.Email,
		EmailVerified:  u.VerifiedEmail,
		FullName:       u.Name,
		FirstName:      u.GivenName,
		LastName:       u.FamilyName,
	}, nil
}

type microsoftProvider struct {
	conf       *oauth2.Config
	client     *http.Client
	profileURL string
}

// NewMicrosoft builds an Azure AD adapter; tenant is "common" for any account.
func NewMicrosoft(cfg Config, tenant string) Provider {
	return &microsoftProvider{
		conf:       cfg.oauth2Config(microsoft.AzureADEndpoint(orDefault(tenant, "common")), []string{"openid", "email", "profile", "User.Read"}),
		client:     cfg.httpClient(),
		profileURL: orDefault(cfg.ProfileURL, microsoftProfileURL),
	}
}

func (p *microsoftProvider) Name() string { return ProviderMicrosoft }

func (p *microsoftProvider) AuthURL(state string) string {
	return p.conf.AuthCodeURL(state)
}

func (p *microsoftProvider) ResolveProfile(ctx context.Context, code string) (Profile, error) {
	tok, err := exchange(ctx, p.conf, p.client, code)
	if err != nil {
		return Profile{}, err
	}
	var u struct {
		ID                string `json:"id"`
		DisplayName       string `json:"displayName"`
		GivenName         string `json:"givenName"`
		Surname           string `json:"surname"`
		Mail              string `json:"mail"`
		UserPrincipalName string `json:"userPrincipalName"`
	}
	if err := fetchJSON(ctx, p.client, p.profileURL, tok.AccessToken, &u); err != nil {
		return Profile{}, fmt.Errorf("fetch microsoft user: %w", err)
	}
	email := u.Mail
	if email == "" && strings.Contains(u.UserPrincipalName, "@") {
		email = u.UserPrincipalName
	}
	return Profile{
		Provider:       ProviderMicrosoft,
		ProviderUserID: u.ID,
		Email:          email,
		EmailVerified:  email != "",
		FullName:       u.DisplayName,
		FirstName:      u.GivenName,
		LastName:       u.Surname,
	}, nil
}

type facebookProvider struct {
	conf       *oauth2.Config
	client     *http.Client
	profileURL string
}

func NewFacebook(cfg Config) Provider {
	return &facebookProvider{
		conf:       cfg.oauth2Config(facebook.Endpoint, []string{"email", "public_profile"}),
		client:     cfg.httpClient(),
		profileURL: orDefault(cfg.ProfileURL, facebookProfileURL),
	}
}

func (p *facebookProvider) Name() string { return ProviderFacebook }

func (p *facebookProvider) AuthURL(state string) string {
	return p.conf.AuthCodeURL(state)
}

func (p *facebookProvider) ResolveProfile(ctx context.Context, code string) (Profile, error) {
	tok, err := exchange(ctx, p.conf, p.client, code)
	if err != nil {
		return Profile{}, err
	}
	var u struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}
	if err := fetchJSON(ctx, p.client, p.profileURL, tok.AccessToken, &u); err != nil {
		return Profile{}, fmt.Errorf("fetch facebook user: %w", err)
	}
	return Profile{
		Provider:       ProviderFacebook,
		ProviderUserID: u.ID,
		Email:          u.Email,
		EmailVerified:  u.Email != "",
		FullName:       u.Name,
		FirstName:      u.FirstName,
		LastName:       u.LastName,
	}, nil
}

type appleProvider struct {
	conf   *oauth2.Config
	client *http.Client
}

// NewApple builds a Sign in with Apple adapter. ClientSecret is the signed
// client-secret JWT generated from the team key.
func NewApple(cfg Config) Provider {
	return &appleProvider{
		conf:   cfg.oauth2Config(AppleEndpoint, []string{"name", "email"}),
		client: cfg.httpClient(),
	}
}

func (p *appleProvider) Name() string { return ProviderApple }

func (p *appleProvider) AuthURL(state string) string {
	return p.conf.AuthCodeURL(state, oauth2.SetAuthURLParam("response_mode", "form_post"))
}

type appleClaims struct {
	Email         string `json:"email"`
	EmailVerified any    `json:"email_verified"`
	jwt.RegisteredClaims
}

// ResolveProfile reads identity claims from the id_token returned by the token
// endpoint over TLS; Apple supplies no userinfo endpoint.
func (p *appleProvider) ResolveProfile(ctx context.Context, code string) (Profile, error) {
	tok, err := exchange(ctx, p.conf, p.client, code)
	if err != nil {
		return Profile{}, err
	}
	raw, _ := tok.Extra("id_token").(string)
	if raw == "" {
		return Profile{}, errors.New("apple: token response has no id_token")
	}
	var claims appleClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return Profile{}, fmt.Errorf("apple: decode id_token: %w", err)
	}
	if !audienceContains(claims.Audience, p.conf.ClientID) {
		return Profile{}, errors.New("apple: id_token audience mismatch")
	}
	return Profile{
		Provider:       ProviderApple,
		ProviderUserID: claims.Subject,
		Email:          claims.Email,
		EmailVerified:  truthy(claims.EmailVerified),
	}, nil
}

// AppleUserName extracts the name Apple posts once, on first consent, in the
// "user" form field.
func AppleUserName(form url.Values) (first, last string) {
	raw := form.Get("user")
	if raw == "" {
		return "", ""
	}
	var u struct {
		Name struct {
			FirstName string `json:"firstName"`
			LastName  string `json:"lastName"`
		} `json:"name"`
	}
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return "", ""
	}
	return u.Name.FirstName, u.Name.LastName
}

func audienceContains(aud jwt.ClaimStrings, clientID string) bool {
	for _, a := range aud {
		if a == clientID {
			return true
		}
	}
	return false
}

// truthy accepts Apple's boolean-or-string email_verified.
func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t == "true"
	}
	return false
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
