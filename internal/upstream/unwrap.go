package upstream

import (
	"bytes"
	"encoding/json"
)

const maxUnwrap = 4

// UnwrapJSON strips layers of JSON string encoding from body. Billing and
// OCR sometimes answer with a JSON object serialized into a JSON string,
// occasionally twice. Anything that is not a JSON string is returned as is.
func UnwrapJSON(body []byte) []byte {
	for i := 0; i < maxUnwrap; i++ {
		trimmed := bytes.TrimSpace(body)
		if len(trimmed) == 0 || trimmed[0] != '"' {
			return trimmed
		}
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err != nil {
			return trimmed
		}
		body = []byte(inner)
	}
	return bytes.TrimSpace(body)
}

// Decode unwraps body and decodes it into v.
func Decode(body []byte, v any) error {
	body = UnwrapJSON(body)
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, v)
}
