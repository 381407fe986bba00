package warehouse

import (
	"errors"
	"fmt"
	"strings"

	"github.com/de-tools/revenue-atlas/pkg/models/domain"
	"github.com/de-tools/revenue-atlas/pkg/retry"
	"github.com/go-sql-driver/mysql"
	"github.com/snowflakedb/gosnowflake"
	"google.golang.org/api/googleapi"
)

var authMarkers = []string{
	"unauthorized",
	"unauthenticated",
	"invalid access token",
	"invalid token",
	"authentication failed",
	"permission denied",
	"access denied",
	"status code 401",
	"status code 403",
}

var snowflakeAuthCodes = map[int]struct{}{
	390100: {}, // incorrect username or password
	390144: {}, // jwt token invalid
	390303: {}, // invalid oauth access token
	390318: {}, // oauth access token expired
}

func isAuthError(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1044 || myErr.Number == 1045
	}

	var sfErr *gosnowflake.SnowflakeError
	if errors.As(err, &sfErr) {
		_, ok := snowflakeAuthCodes[sfErr.Number]
		return ok
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		if gErr.Code == 401 {
			return true
		}
		if gErr.Code == 403 {
			for _, item := range gErr.Errors {
				if item.Reason == "rateLimitExceeded" || item.Reason == "quotaExceeded" {
					return false
				}
			}
			return true
		}
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range authMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// classify decides whether a failed query should be retried.
func classify(err error) error {
	if isAuthError(err) {
		return retry.Permanent(fmt.Errorf("%w: %w", domain.ErrUnauthorized, err))
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) && (gErr.Code == 400 || gErr.Code == 404) {
		return retry.Permanent(err)
	}
	return err
}
