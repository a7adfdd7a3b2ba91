// Package classify maps upstream failures onto the small, fixed set of
// messages a caller may see in the relayed stream.
package classify

import (
	"errors"
	"log/slog"
	"regexp"

	"github.com/kalambet/chatrelay/internal/upstream"
)

// Caller-facing fragments.
const (
	MsgUnreachable        = "The server could not be reached"
	MsgRateLimited        = "You are being rate-limited (try again in a bit)"
	MsgBadRequestFallback = "An unknown error occurred"
	MsgUnknown            = "AN UNKNOWN ERROR OCCURRED"
)

// Category names the kind of upstream failure.
type Category string

const (
	CategoryConnection Category = "connection"
	CategoryRateLimit  Category = "rate_limit"
	CategoryBadRequest Category = "bad_request"
	CategoryUnknown    Category = "unknown"
)

// Result is the caller-facing outcome of classifying one failure.
type Result struct {
	Category Category
	Message  string
	// Extracted is set when Message came from the provider's error body.
	Extracted bool
}

// Classify selects exactly one caller-facing message for err. It never
// returns upstream internals other than the best-effort detail extracted
// from a malformed-request body.
func Classify(err error) Result {
	var (
		connErr *upstream.ConnectionError
		rateErr *upstream.RateLimitError
		badErr  *upstream.BadRequestError
	)

	var res Result
	switch {
	case errors.As(err, &connErr):
		res = Result{Category: CategoryConnection, Message: MsgUnreachable}
	case errors.As(err, &rateErr):
		res = Result{Category: CategoryRateLimit, Message: MsgRateLimited}
	case errors.As(err, &badErr):
		res = Result{Category: CategoryBadRequest, Message: MsgBadRequestFallback}
		if detail, ok := ExtractDetail(badErr.Error()); ok {
			res.Message = detail
			res.Extracted = true
		}
	default:
		res = Result{Category: CategoryUnknown, Message: MsgUnknown}
	}

	slog.Warn("upstream failure classified",
		"category", res.Category,
		"extracted", res.Extracted,
		"provider", providerOf(err),
		"error", truncate(redactSecrets(err.Error()), 512),
	)
	return res
}

func providerOf(err error) string {
	var (
		connErr   *upstream.ConnectionError
		rateErr   *upstream.RateLimitError
		badErr    *upstream.BadRequestError
		statusErr *upstream.StatusError
		streamErr *upstream.StreamError
	)
	switch {
	case errors.As(err, &connErr):
		return connErr.Provider
	case errors.As(err, &rateErr):
		return rateErr.Provider
	case errors.As(err, &badErr):
		return badErr.Provider
	case errors.As(err, &statusErr):
		return statusErr.Provider
	case errors.As(err, &streamErr):
		return streamErr.Provider
	}
	return ""
}

var secretParam = regexp.MustCompile(`(?i)([?&;](?:key|api_key|apikey|access_token)=)[^&\s"]*`)

// redactSecrets blanks credential query parameters in error text.
func redactSecrets(s string) string {
	return secretParam.ReplaceAllString(s, "${1}REDACTED")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
