package request

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ValidateKey is the input of a public validation call. Token and
// fingerprint may arrive as headers (X-API-Key, X-HWID) or body fields;
// headers win when both are present.
type ValidateKey struct {
	Key  string `json:"key"`
	HWID string `json:"hwid"`
}

// ParseValidateKey extracts the token and device fingerprint from a
// validation request. Both are required; their absence is a request error,
// not a validation rejection.
func ParseValidateKey(r *http.Request) (*ValidateKey, error) {
	var in ValidateKey
	if r.Body != nil {
		// A malformed or absent body is fine as long as the headers carry
		// the values.
		_ = json.NewDecoder(r.Body).Decode(&in)
	}

	if v := r.Header.Get("X-API-Key"); v != "" {
		in.Key = v
	}
	if v := r.Header.Get("X-HWID"); v != "" {
		in.HWID = v
	}

	if in.Key == "" {
		return nil, fmt.Errorf("missing key")
	}
	if in.HWID == "" {
		return nil, fmt.Errorf("missing HWID")
	}
	return &in, nil
}
