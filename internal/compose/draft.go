// Package compose validates and submits new anonymous messages.
package compose

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf16"

	"github.com/renderinc/sonymous/internal/api"
)

// MaxContentLength is the longest message accepted, in UTF-16 code units as
// counted by the board form. Characters outside the BMP count twice.
const MaxContentLength = 3000

// ValidationError is a draft problem. Message is shown to the user as is.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "compose: " + e.Field + ": " + e.Message
}

var (
	ErrContentRequired = &ValidationError{Field: "content", Message: "Please write a message"}
	ErrContentTooLong  = &ValidationError{Field: "content", Message: fmt.Sprintf("Message must be %d characters or less", MaxContentLength)}
	ErrCampusRequired  = &ValidationError{Field: "campus", Message: "Please select a campus"}
	ErrUnknownCampus   = &ValidationError{Field: "campus", Message: "Unknown campus"}
	ErrUnknownCategory = &ValidationError{Field: "category", Message: "Unknown category"}
)

// UserMessage renders a Submit error for the user.
func UserMessage(err error) string {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Message
	}
	return api.UserMessage(err, api.PostPhrases)
}

// Draft is a message being written. An empty Category posts without one.
type Draft struct {
	Content  string
	Category string
	Campus   string
}

// Validate normalises the draft and checks it the way the board form does.
func (d Draft) Validate() (api.NewMessage, error) {
	content := strings.TrimSpace(d.Content)
	campus := strings.TrimSpace(d.Campus)
	category := strings.ToLower(strings.TrimSpace(d.Category))

	switch {
	case content == "":
		return api.NewMessage{}, ErrContentRequired
	case ContentLength(content) > MaxContentLength:
		return api.NewMessage{}, ErrContentTooLong
	case campus == "":
		return api.NewMessage{}, ErrCampusRequired
	case !api.IsCampus(campus):
		return api.NewMessage{}, ErrUnknownCampus
	case category != "" && !api.IsCategory(category):
		return api.NewMessage{}, ErrUnknownCategory
	}

	msg := api.NewMessage{Content: content, Campus: campus}
	if category != "" {
		msg.Category = &category
	}
	return msg, nil
}

// Remaining is the number of units left before the limit.
func (d Draft) Remaining() int {
	return MaxContentLength - ContentLength(strings.TrimSpace(d.Content))
}

// ContentLength measures s the way the limit does.
func ContentLength(s string) int {
	n := 0
	for _, r := range s {
		if l := utf16.RuneLen(r); l > 0 {
			n += l
		} else {
			n++
		}
	}
	return n
}

// Creator posts messages. *api.Client satisfies it.
type Creator interface {
	CreateMessage(ctx context.Context, msg api.NewMessage) (*api.Message, error)
}

// Submit validates and posts the draft. The draft is left to the caller on
// failure so it can be retried.
func Submit(ctx context.Context, creator Creator, d Draft) (*api.Message, error) {
	msg, err := d.Validate()
	if err != nil {
		return nil, err
	}

	created, err := creator.CreateMessage(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}
	if created.Campus == "" {
		created.Campus = msg.Campus
	}
	return created, nil
}
