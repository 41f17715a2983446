package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Load-time failures. None of these are ever cached; every later request
// retries the load.
var (
	ErrNotFound    = errors.New("resource not found")
	ErrParse       = errors.New("invalid geojson")
	ErrIndex       = errors.New("indexer rejected resource")
	ErrLoadTimeout = errors.New("resource load timed out")
)

// ErrInvalidRequest marks malformed keys or coordinates. It is detected
// before the cache is consulted.
var ErrInvalidRequest = errors.New("invalid request")

// Error is an error with an HTTP status attached so the transport layer can
// pick a response code without inspecting the message.
type Error struct {
	err    error
	status int
}

type ErrorMessage struct {
	Message string `json:",omitempty"`
	Status  int    `json:",omitempty"`
}

var serverError []byte

func init() {
	// Make sure there is always an error to return in case encoding fails
	e := ErrorMessage{
		Message: http.StatusText(http.StatusInternalServerError),
	}

	eb, err := json.Marshal(&e)
	if err != nil {
		panic(err)
	}
	serverError = eb
}

func New(err error, status int) *Error {
	return &Error{
		err:    err,
		status: status,
	}
}

// Invalid wraps a formatted message with ErrInvalidRequest and a 400 status.
func Invalid(format string, args ...any) *Error {
	return New(fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...)), http.StatusBadRequest)
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	if e.status == 0 {
		return ""
	}
	if text := http.StatusText(e.status); text != "" {
		return fmt.Sprintf("%d %s", e.status, text)
	}
	return fmt.Sprintf("%d", e.status)
}

func (e *Error) Status() int {
	return e.status
}

func (e *Error) Unwrap() error {
	return e.err
}

// Kind returns the taxonomy sentinel err wraps, or nil when err belongs to
// none of them.
func Kind(err error) error {
	for _, kind := range []error{ErrInvalidRequest, ErrNotFound, ErrParse, ErrIndex, ErrLoadTimeout} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// StatusOf maps an error to the HTTP status the tile endpoint answers with.
// Every load failure is reported as 404: a broken source is treated as an
// unavailable one.
func StatusOf(err error) int {
	var apierr *Error
	if errors.As(err, &apierr) && apierr.Status() != 0 {
		return apierr.Status()
	}
	switch Kind(err) {
	case ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrNotFound, ErrParse, ErrIndex, ErrLoadTimeout:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func EncodeError(err error) []byte {
	if err == nil {
		return nil
	}

	e := ErrorMessage{
		Message: err.Error(),
		Status:  StatusOf(err),
	}

	data, err := json.Marshal(&e)
	if err != nil {
		return serverError
	}
	return data
}
