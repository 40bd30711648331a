package ai

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind is the user-facing failure category of an AI operation
type Kind string

const (
	KindMissingCredential Kind = "missing_credential"
	KindAccessDenied      Kind = "access_denied"
	KindRateLimited       Kind = "rate_limited"
	KindConnectivity      Kind = "connectivity"
	KindMalformedResponse Kind = "malformed_response"
	KindEmptyUpstream     Kind = "empty_upstream"
)

var userMessages = map[Kind]string{
	KindMissingCredential: "No Gemini API key is configured. Send /key <your key> to add one.",
	KindAccessDenied:      "The Gemini API refused the request. Check that your API key is valid and has access to the model.",
	KindRateLimited:       "The Gemini API quota is exhausted or requests are too frequent. Please wait a minute and try again.",
	KindConnectivity:      "Couldn't reach the AI service. Please try again later.",
	KindMalformedResponse: "The AI returned a response I couldn't understand. Please try again.",
	KindEmptyUpstream:     "The AI returned an empty response. Please try again.",
}

// Error is a classified failure of an AI operation
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// UserMessage is the text shown to the user for this kind of failure
func (e *Error) UserMessage() string {
	if msg, ok := userMessages[e.Kind]; ok {
		return msg
	}
	return userMessages[KindConnectivity]
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the classified kind of err, or "" when err is nil or was
// never classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// UserMessage returns the user-facing message for any error.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.UserMessage()
	}
	return userMessages[KindConnectivity]
}

// Classify maps a raw failure to one of the user-facing kinds. Errors that
// are already classified keep their kind.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return newError(classifyKind(err), op, err)
}

func classifyKind(err error) Kind {
	if apiErr, ok := asAPIError(err); ok {
		switch {
		case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden,
			apiErr.Status == "PERMISSION_DENIED", apiErr.Status == "UNAUTHENTICATED":
			return KindAccessDenied
		case apiErr.Code == http.StatusTooManyRequests, apiErr.Status == "RESOURCE_EXHAUSTED":
			return KindRateLimited
		}
		// Gemini answers an invalid key with 400 INVALID_ARGUMENT.
		if kind := classifyText(apiErr.Message); kind != "" {
			return kind
		}
		return KindConnectivity
	}

	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.PermissionDenied, codes.Unauthenticated:
			return KindAccessDenied
		case codes.ResourceExhausted:
			return KindRateLimited
		}
	}

	if kind := classifyText(err.Error()); kind != "" {
		return kind
	}
	return KindConnectivity
}

func asAPIError(err error) (genai.APIError, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return *apiErrPtr, true
	}
	return genai.APIError{}, false
}

// classifyText is the last resort for errors that carry no structured status.
// Status codes only count next to a status word, so addresses and ports that
// happen to contain the digits do not match.
func classifyText(msg string) Kind {
	msg = strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "permission"),
		containsStatus(msg, 401),
		containsStatus(msg, 403),
		strings.Contains(msg, "forbidden"),
		strings.Contains(msg, "api key not valid"),
		strings.Contains(msg, "api_key_invalid"),
		strings.Contains(msg, "unauthenticated"):
		return KindAccessDenied
	case containsStatus(msg, 429),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "quota"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "resource_exhausted"):
		return KindRateLimited
	}
	return ""
}

func containsStatus(msg string, code int) bool {
	for _, prefix := range []string{"status %d", "status code %d", "status: %d", "code %d", "code: %d", "error %d", "http %d"} {
		if strings.Contains(msg, fmt.Sprintf(prefix, code)) {
			return true
		}
	}
	return false
}
