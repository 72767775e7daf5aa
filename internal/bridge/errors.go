package bridge

import (
	"context"
	"errors"
)

var (
	ErrBadRequest         = errors.New("bad request")
	ErrBrowserUnavailable = errors.New("browser unavailable")
	ErrNavigationTimeout  = errors.New("navigation timeout")
	ErrInputTimeout       = errors.New("input surface not found")
	ErrResponseTimeout    = errors.New("response timeout")
	ErrReadTimeout        = errors.New("response body read timeout")
	ErrDecode             = errors.New("stream record decode failed")
	ErrToolParse          = errors.New("tool call block malformed")
	ErrAbandoned          = errors.New("stream abandoned by consumer")
	ErrUpstream           = errors.New("site returned an error response")
)

// ErrorType categorizes bridge errors for status mapping and metrics labels.
type ErrorType string

const (
	ErrorTypeUnknown    ErrorType = "unknown"
	ErrorTypeBadRequest ErrorType = "bad_request"
	ErrorTypeBrowser    ErrorType = "browser_unavailable"
	ErrorTypeNavigation ErrorType = "navigation_timeout"
	ErrorTypeInput      ErrorType = "input_timeout"
	ErrorTypeResponse   ErrorType = "response_timeout"
	ErrorTypeRead       ErrorType = "read_timeout"
	ErrorTypeUpstream   ErrorType = "upstream_error"
	ErrorTypeDecode     ErrorType = "decode"
	ErrorTypeToolParse  ErrorType = "tool_parse"
	ErrorTypeCancelled  ErrorType = "cancelled"
	ErrorTypeAbandoned  ErrorType = "abandoned"
	ErrorTypeNone       ErrorType = "ok"
)

// ClassifyError determines the error type from an error chain.
func ClassifyError(err error) ErrorType {
	switch {
	case err == nil:
		return ErrorTypeNone
	case errors.Is(err, ErrBadRequest):
		return ErrorTypeBadRequest
	case errors.Is(err, ErrBrowserUnavailable):
		return ErrorTypeBrowser
	case errors.Is(err, ErrNavigationTimeout):
		return ErrorTypeNavigation
	case errors.Is(err, ErrInputTimeout):
		return ErrorTypeInput
	case errors.Is(err, ErrResponseTimeout):
		return ErrorTypeResponse
	case errors.Is(err, ErrReadTimeout):
		return ErrorTypeRead
	case errors.Is(err, ErrUpstream):
		return ErrorTypeUpstream
	case errors.Is(err, ErrDecode):
		return ErrorTypeDecode
	case errors.Is(err, ErrToolParse):
		return ErrorTypeToolParse
	case errors.Is(err, ErrAbandoned):
		return ErrorTypeAbandoned
	case errors.Is(err, context.Canceled):
		return ErrorTypeCancelled
	}
	return ErrorTypeUnknown
}

// IsTimeout reports whether err is one of the bridge's bounded waits expiring.
func IsTimeout(err error) bool {
	switch ClassifyError(err) {
	case ErrorTypeNavigation, ErrorTypeInput, ErrorTypeResponse, ErrorTypeRead:
		return true
	}
	return false
}
