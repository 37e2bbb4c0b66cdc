package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"chatrelay/internal/storage"
	"chatrelay/internal/translator"
)

type conversationListResponse struct {
	Conversations []storage.Summary `json:"conversations"`
}

func (s *Server) handleListConversations(c echo.Context) error {
	list, err := s.store.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, conversationListResponse{Conversations: list})
}

func (s *Server) handleCreateConversation(c echo.Context) error {
	var req translator.ConversationRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}
	conv, err := s.store.Save(c.Request().Context(), req.ToConversation(""))
	if err != nil {
		return storageError(err)
	}
	return c.JSON(http.StatusCreated, conv)
}

func (s *Server) handleGetConversation(c echo.Context) error {
	conv, err := s.store.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return storageError(err)
	}
	return c.JSON(http.StatusOK, conv)
}

func (s *Server) handleUpdateConversation(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	exists, err := s.store.Exists(ctx, id)
	if err != nil {
		return storageError(err)
	}
	if !exists {
		return storageError(storage.ErrNotFound)
	}

	var req translator.ConversationRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}
	conv, err := s.store.Save(ctx, req.ToConversation(id))
	if err != nil {
		return storageError(err)
	}
	return c.JSON(http.StatusOK, conv)
}

func (s *Server) handleDeleteConversation(c echo.Context) error {
	if err := s.store.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return storageError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
