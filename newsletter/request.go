package newsletter

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/openresearch/newsletter-backend/util"
)

// SubscribeRequest is a validated subscription form submission.
type SubscribeRequest struct {
	Email   string `json:"email" validate:"required,email,max=254"`
	Altcha  string `json:"altcha" validate:"required"`
	Privacy bool   `json:"privacy" validate:"eq=true"`
}

// subscribeBody is the wire format. Privacy stays raw so that only the JSON
// literal true counts as consent; 1, "true", null and friends do not.
type subscribeBody struct {
	Email   string          `json:"email"`
	Altcha  string          `json:"altcha"`
	Privacy json.RawMessage `json:"privacy"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func issueMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "max":
		return "is too long"
	case "eq":
		return "must be accepted"
	}
	return "is invalid"
}

// MaxBodyBytes is the largest subscription body accepted. A solved challenge
// is well under 1KB.
const MaxBodyBytes = 16 << 10

// ParseSubscribeRequest decodes and validates a subscription body. The
// returned email is normalized. Errors are always *ValidationError.
func ParseSubscribeRequest(body []byte) (SubscribeRequest, error) {
	if len(body) > MaxBodyBytes {
		return SubscribeRequest{}, &ValidationError{Issues: []Issue{{Field: "body", Message: "is too large"}}}
	}
	var raw subscribeBody
	if err := json.Unmarshal(body, &raw); err != nil {
		return SubscribeRequest{}, &ValidationError{Issues: []Issue{{Field: "body", Message: "must be a JSON object"}}}
	}
	req := SubscribeRequest{
		Email:   strings.TrimSpace(raw.Email),
		Altcha:  raw.Altcha,
		Privacy: bytes.Equal(bytes.TrimSpace(raw.Privacy), []byte("true")),
	}
	if err := validate.Struct(req); err != nil {
		verr := &ValidationError{}
		if fieldErrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range fieldErrs {
				verr.Issues = append(verr.Issues, Issue{Field: fe.Field(), Message: issueMessage(fe)})
			}
		} else {
			verr.Issues = []Issue{{Field: "body", Message: "is invalid"}}
		}
		return req, verr
	}
	email, err := util.NormalizeEmail(req.Email)
	if err != nil {
		return req, &ValidationError{Issues: []Issue{{Field: "email", Message: "must be a valid email address"}}}
	}
	req.Email = email
	return req, nil
}
