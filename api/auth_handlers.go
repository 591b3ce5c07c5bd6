package api

import (
	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-auth-rbac"
)

// forgotPasswordMessage is returned whether or not the account exists
const forgotPasswordMessage = "if the account exists, a reset link has been sent"

type loginRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

type loginResponse struct {
	User *auth.User `json:"user"`
	*auth.TokenPair
}

func (s *Server) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	user, pair, err := s.svc.Sessions.Authenticate(c.UserContext(), req.Username, req.Password)
	if err != nil {
		return err
	}

	s.setSessionCookie(c, pair)
	return c.JSON(loginResponse{User: user, TokenPair: pair})
}

func (s *Server) Logout(c *fiber.Ctx) error {
	s.clearSessionCookie(c)
	return c.JSON(messageResponse{Message: "logged out"})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) Refresh(c *fiber.Ctx) error {
	var req refreshRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	pair, err := s.svc.Sessions.Refresh().Rotate(c.UserContext(), req.RefreshToken)
	if err != nil {
		return err
	}

	s.setSessionCookie(c, pair)
	return c.JSON(pair)
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

// ForgotPassword answers with the same body for known and unknown emails,
// the token only travels through the notifier
func (s *Server) ForgotPassword(c *fiber.Ctx) error {
	var req forgotPasswordRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	msg := auth.InitializePasswordResetMessage{Email: req.Email}
	if err := s.svc.ResetInit.Execute(c.UserContext(), msg); err != nil {
		return err
	}

	return c.JSON(messageResponse{Message: forgotPasswordMessage})
}

func (s *Server) ResetPassword(c *fiber.Ctx) error {
	var msg auth.FinalizePasswordResetMessage
	if err := bind(c, &msg); err != nil {
		return err
	}

	if err := s.svc.ResetFinalize.Execute(c.UserContext(), msg); err != nil {
		return err
	}

	return c.JSON(messageResponse{Message: "password updated"})
}

func (s *Server) VerifyEmail(c *fiber.Ctx) error {
	token := c.Query("token")
	if token == "" {
		return auth.NewValidationError("token is required", map[string]any{"token": "required"})
	}

	if err := s.svc.VerifyEmail.Execute(c.UserContext(), auth.VerifyEmailMessage{Token: token}); err != nil {
		return err
	}

	return c.JSON(messageResponse{Message: "email verified"})
}

func (s *Server) SendVerification(c *fiber.Ctx) error {
	claims, err := claimsFrom(c)
	if err != nil {
		return err
	}

	alreadyVerified := false
	err = s.svc.VerifyRequest.Execute(c.UserContext(), auth.RequestEmailVerificationMessage{
		UserID: claims.UserID(),
		OnResponse: func(resp *auth.RequestEmailVerificationResponse) {
			alreadyVerified = resp.AlreadyVerified
		},
	})
	if err != nil {
		return err
	}

	if alreadyVerified {
		return c.JSON(messageResponse{Message: "email already verified"})
	}
	return c.JSON(messageResponse{Message: "verification email sent"})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (s *Server) ChangePassword(c *fiber.Ctx) error {
	claims, err := claimsFrom(c)
	if err != nil {
		return err
	}

	var req changePasswordRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	if err := s.svc.Users.ChangePassword(c.UserContext(), claims.UserID(), req.CurrentPassword, req.NewPassword); err != nil {
		return err
	}

	return c.JSON(messageResponse{Message: "password updated"})
}

func (s *Server) LogoutAll(c *fiber.Ctx) error {
	claims, err := claimsFrom(c)
	if err != nil {
		return err
	}

	if err := s.svc.Users.LogoutAll(c.UserContext(), claims.UserID()); err != nil {
		return err
	}

	s.clearSessionCookie(c)
	return c.JSON(messageResponse{Message: "logged out from all sessions"})
}
