package transform

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrMissingAPIKey = errors.New("fal api key is not configured")
	ErrFetchTimeout  = errors.New("timed out fetching result image")
)

// APIError is a non-2xx answer from the AI endpoint.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("ai endpoint returned %d: %s", e.StatusCode, e.Message)
	if e.StatusCode == http.StatusForbidden {
		msg += " (likely causes: the API key lacks permission for this model, the prompt or image was rejected by the provider's content policy, or access to the model is restricted for this account)"
	}

	return msg
}

// IsClientError reports whether retrying err cannot change the outcome.
func IsClientError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			return true
		}
		return false
	}

	return err != nil && strings.Contains(err.Error(), "Forbidden")
}

// MalformedResponseError means the endpoint answered but no image URL
// could be located in the payload.
type MalformedResponseError struct {
	Body string
}

func (e *MalformedResponseError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}

	return "no image url found in ai response: " + body
}

type fetchStatusError struct {
	url        string
	statusCode int
}

func (e *fetchStatusError) Error() string {
	return fmt.Sprintf("fetching %s returned %d", e.url, e.statusCode)
}
