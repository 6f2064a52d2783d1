package anonymizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// APIError is a non-2xx response from the anonymization service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

// decodeAPIError reads an error response body into an APIError. The service
// reports errors as {"detail": "..."}; anything else is passed through raw.
func decodeAPIError(statusCode int, r io.Reader) *APIError {
	body, err := io.ReadAll(r)
	if err != nil {
		return &APIError{StatusCode: statusCode, Message: "(could not read error body)"}
	}

	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Detail != "" {
		return &APIError{StatusCode: statusCode, Message: payload.Detail}
	}

	message := strings.TrimSpace(string(body))
	if message == "" {
		message = http.StatusText(statusCode)
	}
	return &APIError{StatusCode: statusCode, Message: message}
}

// IsQuotaExhausted returns true if the error is a 429 response, the service's
// signal that the usage quota is spent.
func IsQuotaExhausted(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}
