package strava

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const DefaultAuthBaseURL = "https://www.strava.com"

// OAuth drives Strava's authorization-code flow.
type OAuth struct {
	ClientID     string
	ClientSecret string
	AuthBaseURL  string
	RedirectURL  string
	HTTPClient   *http.Client
}

type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	// Athlete is only populated by Exchange.
	Athlete Athlete
}

func (o *OAuth) authBase() string {
	if o.AuthBaseURL == "" {
		return DefaultAuthBaseURL
	}
	return strings.TrimRight(o.AuthBaseURL, "/")
}

func (o *OAuth) config() *oauth2.Config {
	base := o.authBase()
	return &oauth2.Config{
		ClientID:     o.ClientID,
		ClientSecret: o.ClientSecret,
		RedirectURL:  o.RedirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:   base + "/oauth/authorize",
			TokenURL:  base + "/oauth/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func (o *OAuth) context(ctx context.Context) context.Context {
	if o.HTTPClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, o.HTTPClient)
	}
	return ctx
}

// AuthCodeURL builds the authorize redirect. Strava expects scopes comma-separated.
func (o *OAuth) AuthCodeURL(state string, scopes []string) string {
	opts := []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("approval_prompt", "auto")}
	if len(scopes) > 0 {
		opts = append(opts, oauth2.SetAuthURLParam("scope", strings.Join(scopes, ",")))
	}
	return o.config().AuthCodeURL(state, opts...)
}

func (o *OAuth) Exchange(ctx context.Context, code string) (Tokens, error) {
	if o.ClientID == "" || o.ClientSecret == "" {
		return Tokens{}, fmt.Errorf("missing strava client credentials")
	}
	if code == "" {
		return Tokens{}, fmt.Errorf("missing authorization code")
	}
	logRequest(http.MethodPost, o.authBase()+"/oauth/token")
	tok, err := o.config().Exchange(o.context(ctx), code)
	if err != nil {
		return Tokens{}, err
	}
	return fromOAuth2(tok)
}

func (o *OAuth) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	if refreshToken == "" {
		return Tokens{}, fmt.Errorf("missing refresh token")
	}
	logRequest(http.MethodPost, o.authBase()+"/oauth/token")
	src := o.config().TokenSource(o.context(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return Tokens{}, err
	}
	out, err := fromOAuth2(tok)
	if err != nil {
		return Tokens{}, err
	}
	if out.RefreshToken == "" {
		out.RefreshToken = refreshToken
	}
	return out, nil
}

// Deauthorize revokes the application's access for the token's athlete.
func (o *OAuth) Deauthorize(ctx context.Context, accessToken string) error {
	endpoint := o.authBase() + "/oauth/deauthorize?access_token=" + url.QueryEscape(accessToken)
	logRequest(http.MethodPost, endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return err
	}
	client := o.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newAPIError(resp, nil)
	}
	return nil
}

// IsAuthorizationError reports whether err came from Strava rejecting the
// code or refresh token rather than from transport.
func IsAuthorizationError(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	return errors.As(err, &retrieveErr)
}

func fromOAuth2(tok *oauth2.Token) (Tokens, error) {
	if tok.AccessToken == "" {
		return Tokens{}, fmt.Errorf("token response missing access_token")
	}
	out := Tokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	if raw, ok := tok.Extra("athlete").(map[string]any); ok {
		if id, ok := raw["id"].(float64); ok {
			out.Athlete.ID = int64(id)
		}
		out.Athlete.FirstName, _ = raw["firstname"].(string)
		out.Athlete.LastName, _ = raw["lastname"].(string)
	}
	return out, nil
}
