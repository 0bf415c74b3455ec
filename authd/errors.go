package authd

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-hostel"
)

// errorResponse matches the error body of GoTrue servers.
type errorResponse struct {
	Code      int            `json:"code"`
	ErrorCode string         `json:"error_code,omitempty"`
	Msg       string         `json:"msg"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	status, body := s.mapError(err)
	if status >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
	}
	return c.Status(status).JSON(body)
}

func (s *Server) mapError(err error) (int, errorResponse) {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fiberErr.Code, errorResponse{Code: fiberErr.Code, Msg: fiberErr.Message}
	}

	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return fiber.StatusInternalServerError, errorResponse{
			Code: fiber.StatusInternalServerError,
			Msg:  "internal server error",
		}
	}

	status := statusFor(richErr)
	body := errorResponse{
		Code:      status,
		ErrorCode: strings.ToLower(richErr.TextCode),
		Msg:       richErr.Message,
	}
	if status < fiber.StatusInternalServerError {
		body.Metadata = publicMetadata(richErr.Metadata)
	} else {
		body.Msg = "internal server error"
	}
	return status, body
}

func statusFor(err *goerrors.Error) int {
	switch err.TextCode {
	case hostel.TextCodeRateLimited:
		return fiber.StatusTooManyRequests
	case hostel.TextCodeSessionNotFound, "TOKEN_EXPIRED", "TOKEN_MALFORMED":
		return fiber.StatusUnauthorized
	case hostel.TextCodeAuthentication, hostel.TextCodeInvalidPayload:
		return fiber.StatusBadRequest
	}

	switch err.Category {
	case goerrors.CategoryRateLimit:
		return fiber.StatusTooManyRequests
	case goerrors.CategoryValidation, goerrors.CategoryBadInput:
		return fiber.StatusBadRequest
	case goerrors.CategoryAuth:
		return fiber.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return fiber.StatusForbidden
	case goerrors.CategoryNotFound:
		return fiber.StatusNotFound
	case goerrors.CategoryConflict:
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

// publicMetadata drops keys that may leak internals.
func publicMetadata(metadata map[string]any) map[string]any {
	if len(metadata) == 0 {
		return nil
	}
	out := make(map[string]any, len(metadata))
	for key, value := range metadata {
		if key == "error" || key == "subject" {
			continue
		}
		out[key] = value
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

var errNotAdmin = goerrors.New("administrator access required", goerrors.CategoryAuthz).
	WithTextCode("ADMIN_REQUIRED").
	WithCode(goerrors.CodeForbidden)

var errGrantType = goerrors.New("unsupported grant_type", goerrors.CategoryBadInput).
	WithTextCode("UNSUPPORTED_GRANT_TYPE").
	WithCode(goerrors.CodeBadRequest)

func missingToken() error {
	clone := hostel.ErrSessionNotFound.Clone()
	clone.Message = "missing or malformed JWT"
	return clone
}
