// Package spotify wraps the Spotify Web API for the activity sync service.
// Clients are built per tracked user from a pre-provisioned refresh token.
package spotify

import (
	"context"
	"errors"
	"fmt"

	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
)

// ErrCredentialRefresh is returned when the refresh token cannot be exchanged
// for an access token. This is fatal for the affected user only; other users
// in the same pass are unaffected.
var ErrCredentialRefresh = errors.New("refreshing access token")

// Credentials holds the application's Spotify API credentials.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// Client wraps the Spotify API client for one authenticated user.
type Client struct {
	api *spotify.Client
}

// New creates a Client for a user identified by a refresh token. The refresh
// token is exchanged for an access token immediately so that credential
// failures surface here rather than on the first read.
func New(ctx context.Context, creds Credentials, refreshToken string) (*Client, error) {
	cfg := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  spotifyauth.AuthURL,
			TokenURL: spotifyauth.TokenURL,
		},
	}

	source := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCredentialRefresh, err)
	}

	httpClient := oauth2.NewClient(ctx, oauth2.ReuseTokenSource(token, source))
	return &Client{api: spotify.New(httpClient, spotify.WithRetry(true))}, nil
}
