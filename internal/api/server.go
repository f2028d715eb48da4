// Package api exposes the daemon to the rendering layer over HTTP and
// WebSocket.
package api

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/elizkhv/quicktalk/internal/bus"
	"github.com/elizkhv/quicktalk/internal/identity"
	"github.com/elizkhv/quicktalk/internal/projector"
	"github.com/elizkhv/quicktalk/internal/status"
	"github.com/elizkhv/quicktalk/internal/store"
)

// Server wires the HTTP surface over the store, projector and outbox.
type Server struct {
	db      *store.DB
	proj    *projector.Projector
	tokens  *identity.Manager
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger
	app     *fiber.App
}

// New builds the fiber application and its routes.
func New(db *store.DB, proj *projector.Projector, tokens *identity.Manager, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		db:      db,
		proj:    proj,
		tokens:  tokens,
		bus:     b,
		machine: machine,
		logger:  logger,
	}

	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"ok": true})
	})

	v1 := app.Group("/v1")
	v1.Post("/users", s.register)
	v1.Post("/login", s.login)

	authed := v1.Group("", s.requireAuth)
	authed.Get("/users", s.listUsers)
	authed.Post("/messages", s.sendMessage)
	authed.Get("/messages/outbox/:id", s.outboxStatus)
	authed.Get("/messages/:peer", s.listMessages)
	authed.Get("/conversations", s.listConversations)
	authed.Get("/conversations/ws", websocket.New(s.conversationsWS))
	authed.Get("/status", s.daemonStatus)

	s.app = app
	return s
}

// App returns the underlying fiber application (used by tests).
func (s *Server) App() *fiber.App { return s.app }

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// requireAuth resolves the caller's identity. It accepts a bearer header or,
// for WebSocket upgrades where the rendering layer cannot set headers, a
// token query parameter.
func (s *Server) requireAuth(c *fiber.Ctx) error {
	token := ""
	if h := c.Get("Authorization"); h != "" {
		const pref = "Bearer "
		if !strings.HasPrefix(h, pref) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid authorization header"})
		}
		token = h[len(pref):]
	} else {
		token = c.Query("token")
	}
	if token == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing token"})
	}

	claims, err := s.tokens.VerifyToken(token)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token"})
	}
	c.Locals("uid", claims.UID)
	return c.Next()
}

func callerUID(c *fiber.Ctx) string {
	uid, _ := c.Locals("uid").(string)
	return uid
}
