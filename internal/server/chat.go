package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"chatrelay/internal/catalog"
	"chatrelay/internal/llmerr"
	"chatrelay/internal/models"
	"chatrelay/internal/router"
	"chatrelay/internal/translator"
)

type healthResponse struct {
	Status    string   `json:"status"`
	Timestamp string   `json:"timestamp"`
	Providers []string `json:"providers"`
	Models    int      `json:"models"`
}

type modelsResponse struct {
	Models  []models.ModelDescriptor `json:"models"`
	Default string                   `json:"default"`
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := healthResponse{
		Status:    "healthy",
		Timestamp: translator.Timestamp(s.now()),
		Providers: []string{},
	}
	if s.configErr != nil {
		resp.Status = "degraded"
		return c.JSON(http.StatusOK, resp)
	}
	for _, p := range s.catalog.Providers() {
		resp.Providers = append(resp.Providers, p.ID)
	}
	resp.Models = len(s.catalog.Models())
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleModels(c echo.Context) error {
	if s.configErr != nil {
		return s.configFailure(c)
	}
	return c.JSON(http.StatusOK, modelsResponse{
		Models:  s.catalog.Models(),
		Default: s.catalog.Default().ID,
	})
}

func (s *Server) handleChat(c echo.Context) error {
	if s.configErr != nil {
		return s.configFailure(c)
	}

	var req translator.ChatRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	reply, err := s.router.Chat(c.Request().Context(), req.ToRouter())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, translator.FromReply(reply, s.now()))
}

// handleChatStream answers with Server-Sent Events. Request problems are
// reported with a status code; once the stream has started, failures arrive
// as a terminal error event on the 200 response.
func (s *Server) handleChatStream(c echo.Context) error {
	if s.configErr != nil {
		return s.configFailure(c)
	}

	var req translator.ChatRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}
	if _, err := s.catalog.Resolve(req.Model); err != nil {
		if errors.Is(err, catalog.ErrUnknownModel) {
			return llmerr.New(llmerr.KindBadRequest, "", err)
		}
		return err
	}

	writer := c.Response().Writer
	flusher, ok := writer.(http.Flusher)
	if !ok {
		s.logger.Error("http writer does not support flushing")
		return requestError{
			Status:  http.StatusInternalServerError,
			Message: "server does not support streaming responses",
			Code:    codeInternal,
		}
	}

	header := c.Response().Header()
	header.Set(echo.HeaderContentType, "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := c.Request().Context()
	for event := range s.router.Stream(ctx, req.ToRouter()) {
		if err := translator.WriteEvent(c.Response(), event); err != nil {
			s.logger.Debug("stream client went away", "error", err)
			return nil
		}
		flusher.Flush()
		if event.Type == router.EventError {
			s.logger.Info("stream ended with error", "message_id", event.MessageID, "code", event.Code)
		}
	}
	return nil
}
