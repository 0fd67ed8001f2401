package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// APIError is returned for transport failures, non-2xx responses and
// envelopes reporting success=false.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("backend %s %s: %v", e.Method, e.Path, e.Err)
	case e.Message != "":
		return fmt.Sprintf("backend %s %s: %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("backend %s %s: status %d", e.Method, e.Path, e.StatusCode)
}

func (e *APIError) Unwrap() error { return e.Err }

// envelope is the backend response wrapper {success, message, data}.
type envelope struct {
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func isNull(b json.RawMessage) bool {
	b = bytes.TrimSpace(b)
	return len(b) == 0 || bytes.Equal(b, []byte("null"))
}

// unwrap returns the payload of a response body. Both {data: X} and
// {data: {data: X}} are accepted; a body that is not an envelope is its own
// payload.
func unwrap(body []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] != '{' {
		return trimmed, nil
	}
	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, err
	}
	if env.Success != nil && !*env.Success {
		msg := env.Message
		if msg == "" {
			msg = env.Error
		}
		if msg == "" {
			msg = "request failed"
		}
		return nil, &APIError{Message: msg}
	}
	if env.Success == nil && isNull(env.Data) {
		return trimmed, nil
	}
	data := env.Data
	if isNull(data) {
		return nil, nil
	}
	if bytes.TrimSpace(data)[0] == '{' {
		var inner struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(data, &inner); err == nil && !isNull(inner.Data) {
			data = inner.Data
		}
	}
	return data, nil
}

func decodeData(body []byte, out interface{}) error {
	data, err := unwrap(body)
	if err != nil {
		return err
	}
	if out == nil || data == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

// errorMessage extracts a human message from an error response body.
func errorMessage(body []byte) string {
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil {
		if env.Message != "" {
			return env.Message
		}
		if env.Error != "" {
			return env.Error
		}
	}
	if len(body) > 256 {
		body = body[:256]
	}
	return string(bytes.TrimSpace(body))
}
