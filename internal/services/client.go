package services

import (
	"context"
	"net/http"
	"time"

	"github.com/desertthunder/mlsync/internal/shared"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// NewHTTPClient builds the transport for the media server. When OAuth2 client credentials are
// configured, requests carry a bearer token that refreshes itself.
func NewHTTPClient(ctx context.Context, cfg shared.ServerConfig) *http.Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	base := &http.Client{Timeout: timeout}

	if !cfg.OAuth2.Enabled() {
		return base
	}

	cc := clientcredentials.Config{
		ClientID:     cfg.OAuth2.ClientID,
		ClientSecret: cfg.OAuth2.ClientSecret,
		TokenURL:     cfg.OAuth2.TokenURL,
		Scopes:       cfg.OAuth2.Scopes,
	}
	client := cc.Client(context.WithValue(ctx, oauth2.HTTPClient, base))
	client.Timeout = timeout
	return client
}
