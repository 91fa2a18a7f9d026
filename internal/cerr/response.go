// Package cerr renders JSON responses and the client-facing error envelope.
package cerr

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	apierr "github.com/victorgomez09/jobguard/internal/auth"
)

// RetryAfter is the header carrying the retry hint of rate limited responses.
const RetryAfter = "Retry-After"

// ErrorResponse represents the structure of error responses sent to clients
type ErrorResponse struct {
	Error      string   `json:"error"`
	Code       string   `json:"code"`
	Details    []string `json:"details,omitempty"`
	RetryAfter int      `json:"retry_after,omitempty"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// NewErrorResponse builds the envelope for err. Token failures collapse to a
// single code; unexpected errors never expose their cause.
func NewErrorResponse(err error) (int, ErrorResponse) {
	var e *apierr.Error
	if !errors.As(err, &e) {
		e = apierr.ErrInternal
	}

	status := apierr.HTTPStatus(e)
	resp := ErrorResponse{
		Error:   e.Message,
		Code:    string(e.Code),
		Details: e.Details,
	}

	switch {
	case apierr.IsTokenError(e):
		resp.Code = string(apierr.CodeInvalidToken)
		resp.Error = apierr.ErrInvalidToken.Message
		resp.Details = nil
	case e.Code == apierr.CodeInternal:
		resp.Error = apierr.ErrInternal.Message
		resp.Details = nil
	case e.Code == apierr.CodeRateLimited:
		resp.RetryAfter = retrySeconds(e)
	}
	return status, resp
}

// WriteError writes the error envelope for err.
func WriteError(w http.ResponseWriter, err error) {
	status, resp := NewErrorResponse(err)
	if resp.RetryAfter > 0 {
		w.Header().Set(RetryAfter, strconv.Itoa(resp.RetryAfter))
	}
	WriteJSON(w, status, resp)
}

func retrySeconds(e *apierr.Error) int {
	secs := int(math.Ceil(e.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
