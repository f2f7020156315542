// Package response builds the JSON envelope every API response is wrapped in.
package response

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ocornejot/api-jwt/internal/models"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"

	MessageInvalidData  = "The given data was invalid."
	MessageUnauthorized = "Unauthorized"
)

type Envelope struct {
	Status  string              `json:"status"`
	Data    any                 `json:"data,omitempty"`
	Message string              `json:"message,omitempty"`
	Code    int                 `json:"code,omitempty"`
	Errors  map[string][]string `json:"errors,omitempty"`

	HTTPStatus int `json:"-"`
}

// HTTPError is a failure that carries its own status code and client message.
type HTTPError struct {
	Code    int
	Message string
	Err     error
}

func NewHTTPError(code int, message string, err error) *HTTPError {
	return &HTTPError{Code: code, Message: message, Err: err}
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *HTTPError) Unwrap() error   { return e.Err }
func (e *HTTPError) StatusCode() int { return e.Code }

type statusCoder interface {
	StatusCode() int
}

type fieldErrors interface {
	FieldErrors() map[string][]string
}

type Formatter struct {
	log *slog.Logger
}

func NewFormatter(log *slog.Logger) *Formatter {
	return &Formatter{log: log}
}

// Success wraps data verbatim. A zero code means 200.
func (f *Formatter) Success(data any, code int) Envelope {
	if code == 0 {
		code = http.StatusOK
	}

	return Envelope{
		Status:     StatusSuccess,
		Data:       data,
		HTTPStatus: code,
	}
}

// Custom builds an envelope with a caller chosen code. Codes from 400 up are errors.
func (f *Formatter) Custom(code int, message string, fields map[string][]string) Envelope {
	if code < http.StatusBadRequest {
		return Envelope{
			Status:     StatusSuccess,
			Message:    message,
			HTTPStatus: code,
		}
	}

	if message == "" {
		message = http.StatusText(code)
	}

	return Envelope{
		Status:     StatusError,
		Message:    message,
		Code:       code,
		Errors:     fields,
		HTTPStatus: code,
	}
}

// Error classifies err and logs it. Unclassified failures become a bare 500;
// their details, together with attrs, only reach the log.
func (f *Formatter) Error(ctx context.Context, err error, attrs ...any) Envelope {
	var (
		fe fieldErrors
		sc statusCoder
	)

	log := f.log.With(attrs...).With(slog.Any("error", err))

	switch {
	case errors.As(err, &fe):
		log.DebugContext(ctx, "validation failed")
		return f.Custom(http.StatusUnprocessableEntity, MessageInvalidData, fe.FieldErrors())

	case errors.Is(err, models.ErrUserAlreadyExists):
		log.DebugContext(ctx, "duplicate user")
		return f.Custom(http.StatusUnprocessableEntity, MessageInvalidData, map[string][]string{
			"email": {"The email has already been taken."},
		})

	case errors.Is(err, models.ErrInvalidCredentials),
		errors.Is(err, models.ErrUnauthorized),
		errors.Is(err, models.ErrInvalidToken),
		errors.Is(err, models.ErrTokenNotFound),
		errors.Is(err, models.ErrTokenRevoked):
		log.DebugContext(ctx, "unauthorized")
		return f.Custom(http.StatusUnauthorized, MessageUnauthorized, nil)

	case errors.As(err, &sc) && sc.StatusCode() < http.StatusInternalServerError:
		log.DebugContext(ctx, "request rejected")
		var he *HTTPError
		if errors.As(err, &he) {
			return f.Custom(he.Code, he.Message, nil)
		}
		return f.Custom(sc.StatusCode(), "", nil)
	}

	log.ErrorContext(ctx, "request failed")

	code := http.StatusInternalServerError
	if errors.As(err, &sc) {
		code = sc.StatusCode()
	}

	return f.Custom(code, http.StatusText(code), nil)
}
