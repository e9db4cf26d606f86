package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type sendMessageRequest struct {
	ReceiverID string `json:"receiverId"`
	Message    string `json:"message"`
}

// HandleSendMessage handles POST /api/fileshare/chat/send.
func (h *Handler) HandleSendMessage(c echo.Context) error {
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return err
	}

	msg, err := h.chat.SendMessage(c.Request().Context(), accountID(c), req.ReceiverID, req.Message)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, msg)
}

// HandleConversation handles GET /api/fileshare/chat/:userId.
// Listing marks the other party's messages as read.
func (h *Handler) HandleConversation(c echo.Context) error {
	msgs, err := h.chat.ListConversation(c.Request().Context(), accountID(c), c.Param("userId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"messages": msgs})
}

// HandleUnreadCount handles GET /api/fileshare/chat/unread-count.
func (h *Handler) HandleUnreadCount(c echo.Context) error {
	n, err := h.chat.UnreadCount(c.Request().Context(), accountID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"unreadCount": n})
}
