package api

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/elizkhv/quicktalk/internal/identity"
	"github.com/elizkhv/quicktalk/internal/store"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Avatar   string `json:"avatar"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	UID    string `json:"uid"`
	Email  string `json:"email"`
	Avatar string `json:"avatar"`
}

func (s *Server) register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "email and password are required"})
	}

	existing, err := s.db.GetUserByEmail(req.Email)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lookup failed"})
	}
	if existing != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "user already exists"})
	}

	hash, err := identity.HashPassword(req.Password)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "hash failed"})
	}

	u := &store.User{
		UID:          uuid.NewString(),
		Email:        req.Email,
		Avatar:       req.Avatar,
		PasswordHash: hash,
	}
	if err := s.db.CreateUser(u); err != nil {
		s.logger.Error("create user failed", zap.Error(err), zap.String("email", req.Email))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "create failed"})
	}

	s.logger.Info("user registered", zap.String("uid", u.UID))
	return c.Status(fiber.StatusCreated).JSON(userResponse{UID: u.UID, Email: u.Email, Avatar: u.Avatar})
}

func (s *Server) login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}

	u, err := s.db.GetUserByEmail(strings.TrimSpace(req.Email))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lookup failed"})
	}
	if u == nil || !identity.CheckPassword(req.Password, u.PasswordHash) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid credentials"})
	}

	token, expiresAt, err := s.tokens.GenerateToken(u.UID, u.Email)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "token failed"})
	}
	return c.JSON(fiber.Map{
		"token":      token,
		"expires_at": expiresAt.Unix(),
		"uid":        u.UID,
	})
}

func (s *Server) listUsers(c *fiber.Ctx) error {
	users, err := s.db.ListUsers()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "list failed"})
	}
	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, userResponse{UID: u.UID, Email: u.Email, Avatar: u.Avatar})
	}
	return c.JSON(fiber.Map{"users": out})
}
