package remote

import (
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server returned %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// NotFound reports whether the server said the resource does not exist.
func (e *APIError) NotFound() bool {
	return e.Status == http.StatusNotFound
}

// newAPIError decodes the {"error":{"code","message"}} body the server
// writes, falling back to the raw body or the status text.
func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}
	if gjson.ValidBytes(body) {
		parsed := gjson.ParseBytes(body)
		if e := parsed.Get("error"); e.IsObject() {
			apiErr.Code = e.Get("code").String()
			apiErr.Message = e.Get("message").String()
		} else if e.Type == gjson.String {
			apiErr.Message = e.String()
		} else if m := parsed.Get("message"); m.Exists() {
			apiErr.Message = m.String()
		}
	}
	if apiErr.Message == "" {
		if len(body) > 0 && len(body) < 512 {
			apiErr.Message = string(body)
		} else {
			apiErr.Message = http.StatusText(status)
		}
	}
	return apiErr
}
