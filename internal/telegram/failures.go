package telegram

import (
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
)

// FailureKind buckets platform errors into the categories the rest of the
// system acts on. Anything unrecognized is FailureTransient: transient errors
// must never tear down cached or persisted state.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureTransient
	FailureRateLimited
	FailurePermanent
	FailureMigrated
)

// permanentMarkers are the Bad Request variants that mean the peer is gone
// for good. Forbidden responses (kicked, blocked, deactivated) are matched by
// their 403 code instead.
var permanentMarkers = []string{
	"chat not found",
	"user not found",
	"user is deactivated",
	"group chat was deactivated",
	"the group chat was deleted",
	"not enough rights",
	"message to delete not found",
	"peer_id_invalid",
}

func Classify(err error) FailureKind {
	if err == nil {
		return FailureNone
	}

	var apiErr *api.Error
	if !errors.As(err, &apiErr) {
		return FailureTransient
	}

	switch {
	case apiErr.ResponseParameters.MigrateToChatID != 0:
		return FailureMigrated
	case apiErr.ResponseParameters.RetryAfter > 0 || apiErr.Code == 429:
		return FailureRateLimited
	case apiErr.Code == 403:
		return FailurePermanent
	case apiErr.Code == 400:
		msg := strings.ToLower(apiErr.Message)
		for _, marker := range permanentMarkers {
			if strings.Contains(msg, marker) {
				return FailurePermanent
			}
		}
		return FailureTransient
	default:
		return FailureTransient
	}
}

// RetryDelay reports the wait the platform demanded on a rate-limit error.
func RetryDelay(err error) time.Duration {
	var apiErr *api.Error
	if errors.As(err, &apiErr) && apiErr.ResponseParameters.RetryAfter > 0 {
		return time.Duration(apiErr.ResponseParameters.RetryAfter) * time.Second
	}
	return 0
}

// MigratedTo reports the successor chat id carried by a migration error, or 0.
func MigratedTo(err error) int64 {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		return apiErr.ResponseParameters.MigrateToChatID
	}
	return 0
}
