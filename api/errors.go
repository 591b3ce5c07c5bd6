package api

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-auth-rbac"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
)

const internalErrorMessage = "internal server error"

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ErrorHandler renders errors as ErrorResponse. Details of 500s are logged
// and never returned, token failures share one message.
func ErrorHandler(logger auth.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = nopLogger{}
	}

	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(ErrorResponse{
				Error: fe.Message,
				Code:  http.StatusText(fe.Code),
			})
		}

		var richErr *goerrors.Error
		if !goerrors.As(err, &richErr) {
			richErr = goerrors.Wrap(err, goerrors.CategoryInternal, "An unexpected server error occurred").
				WithCode(goerrors.CodeInternal)
		}

		status := auth.HTTPStatus(richErr)
		resp := ErrorResponse{Error: richErr.Message, Code: richErr.TextCode}

		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("request failed",
				"method", c.Method(),
				"path", c.OriginalURL(),
				"error", err,
				"category", richErr.Category,
				"details", print.MaybePrettyJSON(richErr.Metadata),
			)
			resp = ErrorResponse{Error: internalErrorMessage, Code: "INTERNAL_ERROR"}
		case auth.IsTokenStateError(richErr):
			logger.Debug("token rejected",
				"path", c.Path(),
				"reason", richErr.TextCode,
			)
			resp = ErrorResponse{Error: auth.TokenStateMessage, Code: auth.TextCodeTokenInvalid}
		}

		if resp.Code == "" {
			resp.Code = http.StatusText(status)
		}

		return c.Status(status).JSON(resp)
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
