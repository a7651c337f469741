package gotrue

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// Text codes for errors raised by the client itself.
const (
	TextCodeNoSession      = "SESSION_MISSING"
	TextCodeInvalidToken   = "INVALID_TOKEN"
	TextCodeMissingToken   = "MISSING_TOKEN"
	TextCodeServerResponse = "UNEXPECTED_RESPONSE"
)

var (
	ErrNoSession = goerrors.New("Auth session missing!", goerrors.CategoryAuth).
			WithCode(goerrors.CodeUnauthorized).
			WithTextCode(TextCodeNoSession)

	ErrInvalidToken = goerrors.New("Token has expired or is invalid", goerrors.CategoryAuth).
			WithCode(goerrors.CodeUnauthorized).
			WithTextCode(TextCodeInvalidToken)

	ErrMissingToken = goerrors.New("Email link is invalid or has expired", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest).
			WithTextCode(TextCodeMissingToken)
)

// apiError is the error body of the auth server. Older servers send
// error/error_description, newer ones code/error_code/msg.
type apiError struct {
	Code        int    `json:"code"`
	ErrorCode   string `json:"error_code"`
	Msg         string `json:"msg"`
	Message     string `json:"message"`
	Err         string `json:"error"`
	Description string `json:"error_description"`
}

func (e apiError) message() string {
	for _, m := range []string{e.Msg, e.Description, e.Message, e.Err} {
		if m = strings.TrimSpace(m); m != "" {
			return m
		}
	}
	return ""
}

func (e apiError) textCode() string {
	code := e.ErrorCode
	if code == "" {
		code = e.Err
	}
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(code), " ", "_"))
}

// decodeError turns a non 2xx response into a rich error that keeps the
// server message and status.
func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var payload apiError
	_ = json.Unmarshal(body, &payload)

	message := payload.message()
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	err := goerrors.New(message, categoryFor(resp.StatusCode)).
		WithCode(resp.StatusCode).
		WithMetadata(map[string]any{
			"status": resp.StatusCode,
			"url":    resp.Request.URL.Path,
		})
	if code := payload.textCode(); code != "" {
		err = err.WithTextCode(code)
	}
	return err
}

func categoryFor(status int) goerrors.Category {
	switch {
	case status == http.StatusUnauthorized:
		return goerrors.CategoryAuth
	case status == http.StatusForbidden:
		return goerrors.CategoryAuthz
	case status == http.StatusNotFound:
		return goerrors.CategoryNotFound
	case status == http.StatusConflict:
		return goerrors.CategoryConflict
	case status == http.StatusUnprocessableEntity:
		return goerrors.CategoryValidation
	case status == http.StatusTooManyRequests:
		return goerrors.CategoryRateLimit
	case status >= 500:
		return goerrors.CategoryExternal
	default:
		return goerrors.CategoryBadInput
	}
}
