package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/databricks/databricks-sdk-go"
	"github.com/databricks/databricks-sdk-go/apierr"
	"github.com/databricks/databricks-sdk-go/config"
	"github.com/rs/zerolog"
)

// ErrNotAuthorized is returned when the workspace rejects the credentials.
var ErrNotAuthorized = errors.New("databricks workspace rejected credentials")

// Verifier confirms that workspace credentials are valid before any query runs.
type Verifier interface {
	Verify(ctx context.Context) error
}

type workspaceVerifier struct {
	client *databricks.WorkspaceClient
}

func NewWorkspaceVerifier(cfg *config.Config) (Verifier, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	client, err := databricks.NewWorkspaceClient((*databricks.Config)(cfg))
	if err != nil {
		return nil, err
	}

	return &workspaceVerifier{client: client}, nil
}

func (v *workspaceVerifier) Verify(ctx context.Context) error {
	logger := zerolog.Ctx(ctx)

	me, err := v.client.CurrentUser.Me(ctx)
	if err != nil {
		if errors.Is(err, apierr.ErrUnauthenticated) || errors.Is(err, apierr.ErrPermissionDenied) {
			return fmt.Errorf("%w: %w", ErrNotAuthorized, err)
		}
		logger.Warn().Err(err).Msg("failed to verify workspace user")
		return err
	}

	logger.Info().Str("user", me.UserName).Msg("databricks credentials verified")
	return nil
}
