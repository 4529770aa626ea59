package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"tenantgate.io/internal/auth"
	"tenantgate.io/internal/oauth"
)

// handleOAuthStart stores a fresh state token and redirects to the provider.
func (a *API) handleOAuthStart(w http.ResponseWriter, r *http.Request) {
	provider, err := a.oauth.Get(chi.URLParam(r, "provider"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	state, err := oauth.NewState()
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if err := a.states.Save(r.Context(), state, provider.Name(), a.stateTTL); err != nil {
		respondErr(w, r, err)
		return
	}
	http.Redirect(w, r, provider.AuthURL(state), http.StatusFound)
}

// handleOAuthCallback serves both the query-string callback and Apple's form_post.
func (a *API) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	provider, err := a.oauth.Get(chi.URLParam(r, "provider"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, r, http.StatusBadRequest, "malformed callback")
		return
	}
	if e := r.Form.Get("error"); e != "" {
		msg := strings.TrimSpace(e + ": " + r.Form.Get("error_description"))
		writeError(w, r, http.StatusBadRequest, strings.TrimSuffix(msg, ":"))
		return
	}

	issuedFor, err := a.states.Consume(r.Context(), r.Form.Get("state"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if issuedFor != provider.Name() {
		respondErr(w, r, fmt.Errorf("%w: issued for %s", oauth.ErrInvalidState, issuedFor))
		return
	}
	code := strings.TrimSpace(r.Form.Get("code"))
	if code == "" {
		respondErr(w, r, fmt.Errorf("%w: code is missing", oauth.ErrInvalidCode))
		return
	}

	profile, err := provider.ResolveProfile(r.Context(), code)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if provider.Name() == oauth.ProviderApple && profile.FirstName == "" && profile.LastName == "" {
		profile.FirstName, profile.LastName = oauth.AppleUserName(r.Form)
	}

	res, err := a.auth.OAuthCallback(r.Context(), auth.ExternalProfile{
		Provider:       profile.Provider,
		ProviderUserID: profile.ProviderUserID,
		Email:          profile.Email,
		EmailVerified:  profile.EmailVerified,
		FullName:       profile.FullName,
		FirstName:      profile.FirstName,
		LastName:       profile.LastName,
	}, clientIP(r))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
