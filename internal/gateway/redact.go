package gateway

import "encoding/json"

// sensitiveKeys are JSON fields that must never appear in logs or the audit
// trail. Card numbers are masked to their last four digits; everything else
// is replaced outright.
var sensitiveKeys = map[string]bool{
	"number":        true,
	"cvv":           true,
	"cvc":           true,
	"security_code": true,
	"token":         true,
	"pin":           true,
}

// RedactJSON returns a copy of the JSON document with sensitive payment
// fields masked. Non-JSON input is dropped entirely rather than risk leaking
// an unparseable card payload.
func RedactJSON(body []byte) string {
	if len(body) == 0 {
		return ""
	}

	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return "[unparseable body redacted]"
	}

	redacted, err := json.Marshal(redactValue(doc))
	if err != nil {
		return "[unparseable body redacted]"
	}
	return string(redacted)
}

func redactValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, inner := range val {
			if sensitiveKeys[k] {
				out[k] = maskField(k, inner)
				continue
			}
			out[k] = redactValue(inner)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, inner := range val {
			out[i] = redactValue(inner)
		}
		return out
	default:
		return v
	}
}

func maskField(key string, v interface{}) interface{} {
	if key == "number" {
		if s, ok := v.(string); ok && len(s) >= 4 {
			return "****" + s[len(s)-4:]
		}
	}
	return "[REDACTED]"
}
