package forms

import (
	"encoding/json"
	"fmt"
)

// EncodePayload serializes a typed payload to the JSON stored in the
// forms.payload_json column and in every form_versions snapshot.
func EncodePayload(formType FormType, payload any) (string, error) {
	switch formType {
	case TypeICS213:
		if _, ok := payload.(*ICS213); !ok {
			return "", fmt.Errorf("payload for %s must be *ICS213", formType)
		}
	case TypeICS214:
		if _, ok := payload.(*ICS214); !ok {
			return "", fmt.Errorf("payload for %s must be *ICS214", formType)
		}
	default:
		return "", fmt.Errorf("unknown form type %q", formType)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// DecodePayload parses stored payload JSON back into the typed struct for
// the form type. Unknown fields are dropped, never an error: older
// snapshots must stay readable after schema additions.
func DecodePayload(formType FormType, raw string) (any, error) {
	if raw == "" {
		raw = "{}"
	}
	switch formType {
	case TypeICS213:
		var p ICS213
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("decode ics213 payload: %w", err)
		}
		return &p, nil
	case TypeICS214:
		var p ICS214
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("decode ics214 payload: %w", err)
		}
		return &p, nil
	default:
		return nil, fmt.Errorf("unknown form type %q", formType)
	}
}
