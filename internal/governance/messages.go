package governance

import (
	"errors"
	"net/http"

	"github.com/vnmchuo/usage-governor/internal/quota"
	"github.com/vnmchuo/usage-governor/internal/router"
	"github.com/vnmchuo/usage-governor/internal/subscription"
)

const (
	msgUnavailable = "AI generation is temporarily unavailable. Please try again in a few minutes."
	msgFailed      = "Generation failed. Please try again, or contact support if the problem persists."
	msgNoTenant    = "Account not found."
)

// UserMessage maps an engine error to an HTTP status and text that is safe to
// show the tenant. Provider and storage details never appear in the text.
func UserMessage(err error) (int, string) {
	var denied *subscription.AccessDeniedError
	if errors.As(err, &denied) {
		return http.StatusForbidden, denied.Message()
	}

	var exceeded *quota.ExceededError
	if errors.As(err, &exceeded) {
		return http.StatusPaymentRequired, exceeded.Decision.Reason
	}

	switch {
	case errors.Is(err, router.ErrAllProvidersExhausted):
		return http.StatusServiceUnavailable, msgUnavailable
	case errors.Is(err, subscription.ErrTenantNotFound):
		return http.StatusNotFound, msgNoTenant
	}

	return http.StatusBadGateway, msgFailed
}
