package api

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/elizkhv/quicktalk/internal/store"
)

type sendRequest struct {
	ToID string `json:"to_id"`
	Text string `json:"text"`
}

type messageResponse struct {
	ID        string `json:"id"`
	FromID    string `json:"from_id"`
	ToID      string `json:"to_id"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// sendMessage queues the send and returns immediately; the outbox dispatcher
// performs the fan-out off the request path and reports the outcome on the
// bus and in the outbox entry.
func (s *Server) sendMessage(c *fiber.Ctx) error {
	var req sendRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	if req.ToID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "to_id is required"})
	}

	fromID := callerUID(c)
	clientMsgID := uuid.NewString()
	if err := s.db.QueueOutbox(clientMsgID, fromID, req.ToID, req.Text); err != nil {
		s.logger.Error("queue send failed", zap.Error(err), zap.String("from", fromID))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "queue failed"})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"client_msg_id": clientMsgID,
		"status":        "queued",
	})
}

func (s *Server) outboxStatus(c *fiber.Ctx) error {
	entry, err := s.db.GetOutboxEntry(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lookup failed"})
	}
	if entry == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown client_msg_id"})
	}
	if entry.FromID != callerUID(c) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "not yours"})
	}
	return c.JSON(fiber.Map{
		"client_msg_id": entry.ClientMsgID,
		"status":        entry.Status,
		"error":         entry.ErrorMessage,
	})
}

// listMessages returns the caller's mailbox partition with the given peer,
// oldest first.
func (s *Server) listMessages(c *fiber.Ctx) error {
	owner := callerUID(c)
	peer := c.Params("peer")

	afterTs, _ := strconv.ParseInt(c.Query("after", "0"), 10, 64)
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	if limit <= 0 {
		// Same normalization the store applies, so has_more compares
		// against the limit actually used.
		limit = 50
	}

	msgs, err := s.db.ListMessages(owner, peer, afterTs, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "list failed"})
	}

	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(m))
	}
	return c.JSON(fiber.Map{
		"messages": out,
		"has_more": len(msgs) == limit,
	})
}

func toMessageResponse(m store.Message) messageResponse {
	return messageResponse{
		ID:        m.DocID,
		FromID:    m.FromID,
		ToID:      m.ToID,
		Text:      m.Body,
		Timestamp: m.Timestamp,
	}
}
