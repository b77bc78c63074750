package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failed API call
type Kind int

const (
	KindServer Kind = iota
	KindUnauthorized
	KindRateLimited
	KindValidation
	KindNotFound
	KindNetwork
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindRateLimited:
		return "rate_limited"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindNetwork:
		return "network"
	default:
		return "server"
	}
}

// ErrMissingLikeCount is returned when a like succeeds without reporting the new count.
var ErrMissingLikeCount = errors.New("api: like response has no likes_count")

// Error is the single error shape returned by the client. Status is 0 for KindNetwork.
type Error struct {
	Kind    Kind
	Status  int
	Message string              // server-supplied message, may be empty
	Fields  FieldErrors         // field-level validation errors, in server order
	Err     error               // transport error for KindNetwork
}

func (e *Error) Error() string {
	if e.Kind == KindNetwork {
		return fmt.Sprintf("network error: %v", e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("api %s (%d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("api %s (%d)", e.Kind, e.Status)
}

func (e *Error) Unwrap() error { return e.Err }

// FirstFieldError returns the first reported validation message.
func (e *Error) FirstFieldError() (string, bool) {
	for _, f := range e.Fields {
		if len(f.Messages) > 0 {
			return f.Messages[0], true
		}
	}
	return "", false
}

// FieldError holds the messages reported for one input.
type FieldError struct {
	Field    string
	Messages []string
}

// FieldErrors is the "errors" object of a validation response. It keeps the
// order the server wrote the fields in.
type FieldErrors []FieldError

// Get returns the messages for one field.
func (f FieldErrors) Get(field string) []string {
	for _, fe := range f {
		if fe.Field == field {
			return fe.Messages
		}
	}
	return nil
}

func (f *FieldErrors) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*f = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("field errors: expected object, got %v", tok)
	}

	var out FieldErrors
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}

		// a list per field; a bare string is accepted too
		var msgs []string
		if err := json.Unmarshal(raw, &msgs); err != nil {
			var single string
			if json.Unmarshal(raw, &single) != nil {
				continue
			}
			msgs = []string{single}
		}
		out = append(out, FieldError{Field: key, Messages: msgs})
	}

	*f = out
	return nil
}

// errorBody is the error payload the server sends alongside non-2xx statuses
type errorBody struct {
	Status  string              `json:"status"`
	Message string              `json:"message"`
	Errors  FieldErrors `json:"errors"`
}

// kindFromStatus maps an HTTP status to an error kind.
func kindFromStatus(status int, hasFields bool) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return KindUnauthorized
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusUnprocessableEntity || hasFields:
		return KindValidation
	case status == http.StatusNotFound:
		return KindNotFound
	default:
		return KindServer
	}
}

// KindOf returns the kind of an API error and false for any other error.
func KindOf(err error) (Kind, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind, true
	}
	return 0, false
}

// IsUnauthorized reports whether err is an API 401.
func IsUnauthorized(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindUnauthorized
}

// IsRateLimited reports whether err is an API 429.
func IsRateLimited(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindRateLimited
}

// IsNetwork reports whether err is a transport failure with no response.
func IsNetwork(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindNetwork
}

// Phrases holds the user-facing text for one call site. Empty fields fall back
// to the server message or Fallback.
type Phrases struct {
	Unauthorized string
	RateLimited  string
	Validation   string // overrides the first field error when set
	Fallback     string
	Network      string
}

var (
	// PostPhrases is used when submitting a message
	PostPhrases = Phrases{
		RateLimited: "Too many messages! Please wait a minute before posting again.",
		Fallback:    "Failed to post message.",
		Network:     "Network error. Please try again.",
	}

	// LoginPhrases is used for the admin login form
	LoginPhrases = Phrases{
		Unauthorized: "Invalid email or password.",
		RateLimited:  "Too many login attempts. Please wait a minute.",
		Validation:   "Please enter a valid email and password.",
		Fallback:     "Login failed.",
		Network:      "Network error. Is the backend running?",
	}

	// DeletePhrases is used for moderation deletes
	DeletePhrases = Phrases{
		Fallback: "Failed to delete message.",
		Network:  "Network error.",
	}

	// AnnouncementPhrases is used for announcement mutations
	AnnouncementPhrases = Phrases{
		Fallback: "Failed to save announcement.",
		Network:  "Network error.",
	}
)

// UserMessage renders err as text fit for an end user.
func UserMessage(err error, p Phrases) string {
	if err == nil {
		return ""
	}

	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return p.Fallback
	}

	switch apiErr.Kind {
	case KindNetwork:
		if p.Network != "" {
			return p.Network
		}
		return "Network error."
	case KindUnauthorized:
		if p.Unauthorized != "" {
			return p.Unauthorized
		}
	case KindRateLimited:
		if p.RateLimited != "" {
			return p.RateLimited
		}
		return "Too many requests. Please wait a minute."
	case KindValidation:
		if p.Validation != "" {
			return p.Validation
		}
		if msg, ok := apiErr.FirstFieldError(); ok {
			return msg
		}
		if apiErr.Message == "" {
			return "Validation error."
		}
	}

	if apiErr.Message != "" {
		return apiErr.Message
	}
	return p.Fallback
}
