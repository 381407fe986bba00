package gcp

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// NewHTTPClient returns an authorized client for the given scopes. A service
// account key file is used when provided, otherwise application default
// credentials.
func NewHTTPClient(ctx context.Context, credentialsFile string, scopes ...string) (*http.Client, error) {
	if credentialsFile == "" {
		client, err := google.DefaultClient(ctx, scopes...)
		if err != nil {
			return nil, fmt.Errorf("unable to find default google credentials: %w", err)
		}
		return client, nil
	}

	jsonKey, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read service account key file: %w", err)
	}

	jwtConfig, err := google.JWTConfigFromJSON(jsonKey, scopes...)
	if err != nil {
		return nil, fmt.Errorf("unable to parse service account key: %w", err)
	}

	return oauth2.NewClient(ctx, jwtConfig.TokenSource(ctx)), nil
}
