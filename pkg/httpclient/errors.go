package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/leasehub/tenantauth/pkg/errors"
)

// upstreamErrorBody matches error payloads shaped like {"error":{"code":..,"message":..}}.
// The code may be a string or a number.
type upstreamErrorBody struct {
	Error *struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
	} `json:"error"`
}

// ParseResponseError reads a non-2xx response and translates it into an
// AppError carrying the upstream code and message. The body is consumed and
// closed.
func ParseResponseError(resp *http.Response, upstream string) error {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s returned status %d (failed to read body: %w)", upstream, resp.StatusCode, err)
	}

	var parsed upstreamErrorBody
	if json.Unmarshal(body, &parsed) == nil && parsed.Error != nil {
		code := strings.Trim(string(parsed.Error.Code), `"`)
		return mapUpstreamError(resp.StatusCode, code, parsed.Error.Message, upstream)
	}

	return fmt.Errorf("%s returned status %d: %s", upstream, resp.StatusCode, strings.TrimSpace(string(body)))
}

func mapUpstreamError(status int, code, message, upstream string) error {
	msg := fmt.Sprintf("%s: %s", upstream, message)
	if code != "" {
		msg = fmt.Sprintf("%s: %s (code %s)", upstream, message, code)
	}

	switch {
	case status == http.StatusBadRequest:
		return apperrors.InvalidInput(msg)
	case status == http.StatusUnauthorized:
		return apperrors.Unauthorized(msg)
	case status == http.StatusForbidden:
		return apperrors.Forbidden(msg)
	case status == http.StatusNotFound:
		return apperrors.NotFound(upstream, message)
	case status == http.StatusConflict:
		return apperrors.Conflict(msg)
	case status == http.StatusTooManyRequests:
		return apperrors.TooManyRequests(msg)
	case status == http.StatusServiceUnavailable:
		return apperrors.ServiceUnavailable(msg)
	case status >= 500:
		return fmt.Errorf("%s server error (%d): %s", upstream, status, msg)
	default:
		return &apperrors.AppError{Code: "UPSTREAM_ERROR", Message: msg, Status: status}
	}
}

// IsClientError reports whether status is a 4xx.
func IsClientError(status int) bool {
	return status >= 400 && status < 500
}
