package admin

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apierr "github.com/victorgomez09/jobguard/internal/auth"
)

const maxBodyBytes = 16 << 10

type ValidationError struct {
	Field string
	Error string
}

func (e ValidationError) String() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Error)
}

type Validator interface {
	Validate() []ValidationError
}

// StatusRequest is the body of PUT /admin/users/{id}/status.
type StatusRequest struct {
	Active *bool `json:"active"`
}

func (r StatusRequest) Validate() []ValidationError {
	var errors []ValidationError
	if r.Active == nil {
		errors = append(errors, ValidationError{"active", "required"})
	}
	return errors
}

// DecodeAndValidate decodes the JSON body into v and runs its checks.
// Failures are returned as a validation error listing every field.
func DecodeAndValidate(r *http.Request, v Validator) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v); err != nil {
		return apierr.Validation([]string{"invalid request payload"})
	}

	if errs := v.Validate(); len(errs) > 0 {
		details := make([]string, len(errs))
		for i, e := range errs {
			details[i] = e.String()
		}
		return apierr.Validation(details)
	}
	return nil
}
