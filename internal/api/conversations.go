package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/elizkhv/quicktalk/internal/store"
)

// conversationResponse mirrors one recent-conversation row; the id is the
// counterpart's uid.
type conversationResponse struct {
	ID        string `json:"id"`
	FromID    string `json:"from_id"`
	ToID      string `json:"to_id"`
	Text      string `json:"text"`
	Avatar    string `json:"avatar"`
	Email     string `json:"email"`
	Timestamp int64  `json:"timestamp"`
}

type conversationsPayload struct {
	Type          string                 `json:"type"`
	Conversations []conversationResponse `json:"conversations"`
}

// listConversations returns a one-shot snapshot of the caller's recent
// conversations, newest-touched first, via a short-lived projection.
func (s *Server) listConversations(c *fiber.Ctx) error {
	sub, err := s.proj.Subscribe(callerUID(c))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "subscribe failed"})
	}
	snapshot := sub.Snapshot()
	sub.Cancel()

	return c.JSON(conversationsPayload{
		Type:          "conversations",
		Conversations: toConversationResponses(snapshot),
	})
}

// conversationsWS streams the live view: the current snapshot on connect,
// then a fresh snapshot after every applied feed change. Closing the socket
// cancels the projection.
func (s *Server) conversationsWS(conn *websocket.Conn) {
	uid, _ := conn.Locals("uid").(string)

	sub, err := s.proj.Subscribe(uid)
	if err != nil {
		s.logger.Error("ws subscribe failed", zap.Error(err), zap.String("owner", uid))
		_ = conn.WriteJSON(fiber.Map{"type": "error", "error": "subscribe failed"})
		_ = conn.Close()
		return
	}
	defer sub.Cancel()

	// Reader goroutine: its only job is to notice the peer going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := conn.WriteJSON(conversationsPayload{
		Type:          "conversations",
		Conversations: toConversationResponses(sub.Snapshot()),
	}); err != nil {
		return
	}

	for {
		select {
		case snapshot := <-sub.Updates():
			if err := conn.WriteJSON(conversationsPayload{
				Type:          "conversations",
				Conversations: toConversationResponses(snapshot),
			}); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

func (s *Server) daemonStatus(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"state": string(s.machine.Current())})
}

func toConversationResponses(snapshot []store.ConversationSummary) []conversationResponse {
	out := make([]conversationResponse, 0, len(snapshot))
	for _, r := range snapshot {
		out = append(out, conversationResponse{
			ID:        r.CounterpartID,
			FromID:    r.FromID,
			ToID:      r.ToID,
			Text:      r.Body,
			Avatar:    r.Avatar,
			Email:     r.Email,
			Timestamp: r.Timestamp,
		})
	}
	return out
}
