// Package chat validates inbound chat payloads and translates them into the
// message sequence sent upstream.
package chat

import "fmt"

// Turn is one prior exchange supplied by the caller.
type Turn struct {
	Role    string `json:"role"`
	Message string `json:"message"`
}

// Request is a validated chat payload.
type Request struct {
	APIKey  string `json:"api_key"`
	Message string `json:"message"`
	History []Turn `json:"history"`
	ModelID string `json:"model_id,omitempty"`
}

// Reason is a stable code identifying why validation failed.
type Reason string

const (
	ReasonMalformedBody       Reason = "malformed_body"
	ReasonMissingField        Reason = "missing_field"
	ReasonInvalidType         Reason = "invalid_type"
	ReasonInvalidHistory      Reason = "invalid_history"
	ReasonInvalidHistoryEntry Reason = "invalid_history_entry"
	ReasonMissingHistoryField Reason = "missing_history_field"
	ReasonInvalidRole         Reason = "invalid_role"
	ReasonUnknownModel        Reason = "unknown_model"
)

// ValidationError is returned by Validate for any rejected payload.
type ValidationError struct {
	Reason  Reason
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid request data: %s: %s", e.Field, e.Message)
	}
	return "invalid request data: " + e.Message
}

func invalid(reason Reason, field, format string, args ...any) *ValidationError {
	return &ValidationError{Reason: reason, Field: field, Message: fmt.Sprintf(format, args...)}
}
