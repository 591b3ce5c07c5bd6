package api

import (
	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-auth-rbac"
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

func (s *Server) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	resp, err := s.svc.Users.Register(c.UserContext(), auth.RegisterUserMessage{
		Username: req.Username,
		Email:    req.Email,
		Phone:    req.Phone,
		Password: req.Password,
	})
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(resp.User)
}

func (s *Server) Me(c *fiber.Ctx) error {
	claims, err := claimsFrom(c)
	if err != nil {
		return err
	}

	user, err := s.svc.Users.Get(c.UserContext(), claims.UserID())
	if err != nil {
		return err
	}
	return c.JSON(user)
}

func (s *Server) GetUser(c *fiber.Ctx) error {
	claims, err := claimsFrom(c)
	if err != nil {
		return err
	}

	id, err := idParam(c)
	if err != nil {
		return err
	}

	if err := s.svc.Guard.AuthorizeOwnerOrAdmin(claims, id); err != nil {
		return err
	}

	user, err := s.svc.Users.Get(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(user)
}

func (s *Server) UpdateUser(c *fiber.Ctx) error {
	claims, err := claimsFrom(c)
	if err != nil {
		return err
	}

	id, err := idParam(c)
	if err != nil {
		return err
	}

	var req auth.UpdateUserRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	user, err := s.svc.Users.Update(c.UserContext(), claims, id, req)
	if err != nil {
		return err
	}
	return c.JSON(user)
}

func (s *Server) DeleteUser(c *fiber.Ctx) error {
	claims, err := claimsFrom(c)
	if err != nil {
		return err
	}

	id, err := idParam(c)
	if err != nil {
		return err
	}

	if err := s.svc.Users.Delete(c.UserContext(), claims, id); err != nil {
		return err
	}

	if claims.UserID() == id {
		s.clearSessionCookie(c)
	}
	return c.JSON(messageResponse{Message: "user deleted"})
}

func (s *Server) UploadAvatar(c *fiber.Ctx) error {
	claims, err := claimsFrom(c)
	if err != nil {
		return err
	}

	header, err := c.FormFile("avatar")
	if err != nil {
		return auth.NewValidationError("avatar file is required", map[string]any{"avatar": "required"})
	}

	file, err := header.Open()
	if err != nil {
		return auth.NewValidationError("avatar file is unreadable", map[string]any{"avatar": err.Error()})
	}
	defer file.Close()

	user, err := s.svc.Users.UpdateAvatar(c.UserContext(), claims, auth.AvatarUpload{
		Filename:    header.Filename,
		ContentType: header.Header.Get(fiber.HeaderContentType),
		Size:        header.Size,
		Content:     file,
	})
	if err != nil {
		return err
	}
	return c.JSON(user)
}

func (s *Server) Stats(c *fiber.Ctx) error {
	claims, err := claimsFrom(c)
	if err != nil {
		return err
	}

	if err := s.svc.Guard.RequireAdmin(claims); err != nil {
		return err
	}

	stats, err := s.svc.Users.Stats(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(stats)
}

func (s *Server) AuditLogs(c *fiber.Ctx) error {
	claims, err := claimsFrom(c)
	if err != nil {
		return err
	}

	if err := s.svc.Guard.RequireAdmin(claims); err != nil {
		return err
	}

	logs, err := s.svc.Audit.List(c.UserContext(), c.QueryInt("limit", 50), c.QueryInt("offset", 0))
	if err != nil {
		return err
	}
	return c.JSON(logs)
}
