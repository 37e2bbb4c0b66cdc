package server

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"

	"chatrelay/internal/catalog"
	"chatrelay/internal/llmerr"
	"chatrelay/internal/storage"
	"chatrelay/internal/translator"
)

const (
	codeInvalidRequest = "invalid_request"
	codeValidation     = "validation_error"
	codeNotFound       = "not_found"
	codeConfiguration  = "configuration_error"
	codeInternal       = "internal_error"
)

type requestError struct {
	Status  int
	Message string
	Code    string
}

func (e requestError) Error() string {
	return e.Message
}

func isValidationError(err error) bool {
	var ve *translator.ValidationError
	return errors.As(err, &ve)
}

func (s *Server) writeError(c echo.Context, status int, message, code string) error {
	return c.JSON(status, translator.NewError(message, code, s.now()))
}

func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var (
		reqErr  requestError
		valErr  *translator.ValidationError
		svcErr  *llmerr.ServiceError
		httpErr *echo.HTTPError
	)
	switch {
	case errors.As(err, &reqErr):
		_ = s.writeError(c, reqErr.Status, reqErr.Message, reqErr.Code)
	case errors.As(err, &valErr):
		_ = s.writeError(c, http.StatusUnprocessableEntity, valErr.Error(), codeValidation)
	case errors.As(err, &svcErr):
		_ = s.writeError(c, svcErr.Status, svcErr.Message, string(svcErr.Kind))
	case errors.As(err, &httpErr):
		_ = s.writeError(c, httpErr.Code, fmt.Sprint(httpErr.Message), codeInvalidRequest)
	default:
		s.logger.Error("unhandled error", "path", c.Path(), "error", llmerr.RedactError(err))
		_ = s.writeError(c, http.StatusInternalServerError, "internal server error", codeInternal)
	}
}

// storageError maps store failures onto request errors.
func storageError(err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return requestError{Status: http.StatusNotFound, Message: "conversation not found", Code: codeNotFound}
	case errors.Is(err, storage.ErrInvalidID):
		return requestError{Status: http.StatusBadRequest, Message: "invalid conversation id", Code: codeInvalidRequest}
	}
	return err
}

// configFailure answers a request that needs the model catalog when it did
// not load. Details are only attached in debug mode.
func (s *Server) configFailure(c echo.Context) error {
	s.logger.Error("model configuration unavailable", "error", llmerr.RedactError(s.configErr))

	body := translator.NewError(llmerr.KindGeneric.Message(), codeConfiguration, s.now())
	if s.cfg.Server.Debug {
		info := &translator.DebugInfo{
			Type:    fmt.Sprintf("%T", s.configErr),
			Message: llmerr.RedactError(s.configErr),
			Stack:   string(debug.Stack()),
		}
		var cfgErr *catalog.ConfigurationError
		if errors.As(s.configErr, &cfgErr) {
			info.Type = "ConfigurationError:" + string(cfgErr.Reason)
			info.Hint = cfgErr.Hint
		}
		body.Debug = info
	}
	return c.JSON(http.StatusServiceUnavailable, body)
}
