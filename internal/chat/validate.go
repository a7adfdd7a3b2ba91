package chat

import (
	"bytes"
	"encoding/json"

	"github.com/kalambet/chatrelay/internal/models"
	"github.com/kalambet/chatrelay/internal/upstream"
)

// Validator checks raw payloads against the chat request shape. It holds
// only the immutable model registry and is safe for concurrent use.
type Validator struct {
	models *models.Registry
}

// NewValidator returns a Validator. A nil or empty registry disables model
// selection and model_id is then ignored.
func NewValidator(reg *models.Registry) *Validator {
	if reg == nil {
		reg = models.Empty()
	}
	return &Validator{models: reg}
}

// Validate parses raw JSON and returns a well-typed Request, or a
// *ValidationError describing the first failed check.
func (v *Validator) Validate(raw []byte) (Request, error) {
	var fields map[string]json.RawMessage
	if kind(raw) != '{' {
		return Request{}, invalid(ReasonMalformedBody, "", "body must be a JSON object")
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Request{}, invalid(ReasonMalformedBody, "", "body is not valid JSON")
	}

	for _, name := range []string{"api_key", "message", "history"} {
		if _, ok := fields[name]; !ok {
			return Request{}, invalid(ReasonMissingField, name, "field is required")
		}
	}
	_, hasModel := fields["model_id"]
	def, hasDefault := v.models.Default()
	if v.models.Selectable() && !hasModel && !hasDefault {
		return Request{}, invalid(ReasonMissingField, "model_id", "field is required")
	}

	var req Request
	if !decodeString(fields["api_key"], &req.APIKey) {
		return Request{}, invalid(ReasonInvalidType, "api_key", "must be a string")
	}
	if !decodeString(fields["message"], &req.Message) {
		return Request{}, invalid(ReasonInvalidType, "message", "must be a string")
	}

	history, err := decodeHistory(fields["history"])
	if err != nil {
		return Request{}, err
	}
	req.History = history

	if !v.models.Selectable() {
		return req, nil
	}
	if !hasModel {
		req.ModelID = def.ID
		return req, nil
	}
	if !decodeString(fields["model_id"], &req.ModelID) {
		return Request{}, invalid(ReasonInvalidType, "model_id", "must be a string")
	}
	if _, ok := v.models.Lookup(req.ModelID); !ok {
		return Request{}, invalid(ReasonUnknownModel, "model_id", "unknown model %q", req.ModelID)
	}
	return req, nil
}

func decodeHistory(raw json.RawMessage) ([]Turn, error) {
	if kind(raw) != '[' {
		return nil, invalid(ReasonInvalidHistory, "history", "must be an array")
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, invalid(ReasonInvalidHistory, "history", "must be an array")
	}

	turns := make([]Turn, 0, len(entries))
	for i, entry := range entries {
		if kind(entry) != '{' {
			return nil, invalid(ReasonInvalidHistoryEntry, "history", "entry %d must be an object", i)
		}
		var m map[string]json.RawMessage
		if err := json.Unmarshal(entry, &m); err != nil {
			return nil, invalid(ReasonInvalidHistoryEntry, "history", "entry %d must be an object", i)
		}

		roleRaw, hasRole := m["role"]
		msgRaw, hasMsg := m["message"]
		if !hasRole || !hasMsg {
			return nil, invalid(ReasonMissingHistoryField, "history", "entry %d needs role and message", i)
		}

		var t Turn
		if !decodeString(roleRaw, &t.Role) || !decodeString(msgRaw, &t.Message) {
			return nil, invalid(ReasonInvalidHistoryEntry, "history", "entry %d role and message must be strings", i)
		}
		if t.Role != upstream.RoleUser && t.Role != upstream.RoleAssistant {
			return nil, invalid(ReasonInvalidRole, "history", "entry %d has role %q, want user or assistant", i, t.Role)
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// decodeString reports whether raw is a JSON string and stores it in dst.
// json.Unmarshal accepts null for strings, so the token kind is checked first.
func decodeString(raw json.RawMessage, dst *string) bool {
	if kind(raw) != '"' {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

// kind returns the first significant byte of a JSON value.
func kind(raw []byte) byte {
	raw = bytes.TrimLeft(raw, " \t\r\n")
	if len(raw) == 0 {
		return 0
	}
	return raw[0]
}
