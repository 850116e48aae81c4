package autherrors

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

const maxErrorBody = 64 << 10

// FromResponse builds a StatusError from resp, reading and closing its body.
func FromResponse(resp *http.Response) *StatusError {
	e := &StatusError{StatusCode: resp.StatusCode}
	if resp.Request != nil {
		e.Method = resp.Request.Method
		if resp.Request.URL != nil {
			e.URL = resp.Request.URL.Redacted()
		}
	}
	if resp.Body == nil {
		return e
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	e.Body = body
	e.Message = messageFromBody(body)
	return e
}

// messageFromBody extracts a human readable message from the common error payloads.
func messageFromBody(body []byte) string {
	var payload struct {
		Message          string `json:"message"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	switch {
	case payload.Message != "":
		return payload.Message
	case payload.ErrorDescription != "":
		return payload.ErrorDescription
	default:
		return strings.TrimSpace(payload.Error)
	}
}
