package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"

	"github.com/desertthunder/witx/internal/shared"
)

var codePattern = regexp.MustCompile(`^\s*((?:TF|VS)\d{5,6})\s*:`)

// APIError is a non-2xx reply from the remote service.
type APIError struct {
	StatusCode int
	Code       string // vendor code such as TF400733, parsed from the message
	TypeKey    string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("work item API error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("work item API error (status %d): %s", e.StatusCode, e.Message)
}

func (e *APIError) ErrorCode() string { return e.Code }

func (e *APIError) HTTPStatus() int { return e.StatusCode }

// Is lets callers match remote failures against the shared sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case shared.ErrAPIRequest:
		return true
	case shared.ErrWorkItemNotFound:
		return e.StatusCode == http.StatusNotFound
	case shared.ErrServiceUnavailable:
		return e.StatusCode == http.StatusServiceUnavailable
	}
	return false
}

// decodeAPIError builds an [APIError] from a reply body. Both the plain and the wrapped
// ({"value": {...}}) exception shapes are recognized.
func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}

	var plain struct {
		Message string `json:"message"`
		TypeKey string `json:"typeKey"`
		Value   *struct {
			Message string `json:"message"`
			TypeKey string `json:"typeKey"`
		} `json:"value"`
	}
	if err := json.Unmarshal(body, &plain); err == nil {
		apiErr.Message, apiErr.TypeKey = plain.Message, plain.TypeKey
		if apiErr.Message == "" && plain.Value != nil {
			apiErr.Message, apiErr.TypeKey = plain.Value.Message, plain.Value.TypeKey
		}
	} else if len(body) > 0 && len(body) < 512 {
		apiErr.Message = string(body)
	}

	if m := codePattern.FindStringSubmatch(apiErr.Message); m != nil {
		apiErr.Code = m[1]
	}
	return apiErr
}

// IsNotFound reports whether err is a 404 from the remote service.
func IsNotFound(err error) bool {
	return errors.Is(err, shared.ErrWorkItemNotFound)
}
