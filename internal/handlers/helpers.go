package handlers

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	uperr "github.com/sealbox/sealbox/internal/errors"
)

// errorBody is the JSON error payload for upload API failures.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeError renders an UploadError as a JSON response.
func writeError(w http.ResponseWriter, e *uperr.UploadError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPStatus)
	json.NewEncoder(w).Encode(errorBody{Error: e.Code, Message: e.Message})
}

// parseUploadMetadata parses the Upload-Metadata header: comma-separated
// "key base64value" pairs. A key with no value is accepted as empty; a key
// whose value is not valid base64 is ignored rather than failing the request.
func parseUploadMetadata(header string) map[string]string {
	meta := make(map[string]string)
	for _, element := range strings.Split(header, ",") {
		element = strings.TrimSpace(element)

		parts := strings.Split(element, " ")
		if len(parts) > 2 {
			continue
		}
		key := parts[0]
		if key == "" {
			continue
		}

		value := ""
		if len(parts) == 2 {
			dec, err := base64.StdEncoding.DecodeString(parts[1])
			if err != nil {
				// Ignore this element if the value is not valid base64.
				continue
			}
			value = string(dec)
		}
		meta[key] = value
	}
	return meta
}
