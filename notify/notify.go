// Package notify delivers password reset and email verification links.
package notify

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/template/django/v3"
	auth "github.com/goliatone/go-auth-rbac"
	goerrors "github.com/goliatone/go-errors"
)

//go:embed templates
var templatesFS embed.FS

// Message is a rendered email
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender transports a rendered message
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type flow struct {
	template string
	subject  string
	path     string
	ttl      time.Duration
}

// Notifier renders a link for each one-time token and hands it to a Sender
type Notifier struct {
	engine  *django.Engine
	sender  Sender
	baseURL string
	flows   map[auth.TokenPurpose]flow
	logger  auth.Logger
}

var _ auth.Notifier = (*Notifier)(nil)

// New creates a notifier. baseURL is the frontend origin links point to,
// cfg supplies the TTL shown in the message.
func New(sender Sender, baseURL string, cfg auth.Config) (*Notifier, error) {
	sub, err := fs.Sub(templatesFS, "templates")
	if err != nil {
		return nil, err
	}

	engine := django.NewFileSystem(http.FS(sub), ".txt")
	if err := engine.Load(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load email templates")
	}

	resetTTL, verifyTTL := auth.DefaultPasswordResetTTL, auth.DefaultEmailVerificationTTL
	if cfg != nil {
		if cfg.GetPasswordResetTTL() > 0 {
			resetTTL = cfg.GetPasswordResetTTL()
		}
		if cfg.GetEmailVerificationTTL() > 0 {
			verifyTTL = cfg.GetEmailVerificationTTL()
		}
	}

	return &Notifier{
		engine:  engine,
		sender:  sender,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  noopLogger{},
		flows: map[auth.TokenPurpose]flow{
			auth.PurposePasswordReset: {
				template: "password_reset",
				subject:  "Reset your password",
				path:     "/reset-password",
				ttl:      resetTTL,
			},
			auth.PurposeEmailVerification: {
				template: "email_verification",
				subject:  "Confirm your email address",
				path:     "/verify-email",
				ttl:      verifyTTL,
			},
		},
	}, nil
}

// WithLogger overrides the logger used by the notifier.
func (n *Notifier) WithLogger(logger auth.Logger) *Notifier {
	if logger != nil {
		n.logger = logger
	}
	return n
}

// Link returns the frontend URL carrying token
func (n *Notifier) Link(purpose auth.TokenPurpose, token string) (string, error) {
	f, ok := n.flows[purpose]
	if !ok {
		return "", fmt.Errorf("notify: unknown purpose %q", purpose)
	}
	return n.baseURL + f.path + "?token=" + url.QueryEscape(token), nil
}

// Render builds the message for note without sending it
func (n *Notifier) Render(note auth.Notification) (Message, error) {
	f, ok := n.flows[note.Purpose]
	if !ok {
		return Message{}, fmt.Errorf("notify: unknown purpose %q", note.Purpose)
	}

	link, err := n.Link(note.Purpose, note.Token)
	if err != nil {
		return Message{}, err
	}

	var body bytes.Buffer
	err = n.engine.Render(&body, f.template, map[string]any{
		"username": note.Username,
		"link":     link,
		"ttl":      humanize(f.ttl),
	})
	if err != nil {
		return Message{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to render "+f.template)
	}

	return Message{To: note.Email, Subject: f.subject, Body: body.String()}, nil
}

// Notify implements auth.Notifier
func (n *Notifier) Notify(ctx context.Context, note auth.Notification) error {
	if note.Email == "" {
		return goerrors.New("notification has no recipient", goerrors.CategoryBadInput)
	}

	msg, err := n.Render(note)
	if err != nil {
		return err
	}

	if err := n.sender.Send(ctx, msg); err != nil {
		n.logger.Error("notification delivery failed", "purpose", note.Purpose, "to", note.Email, "error", err)
		return err
	}

	n.logger.Debug("notification sent", "purpose", note.Purpose, "to", note.Email)
	return nil
}

func humanize(d time.Duration) string {
	switch {
	case d%(24*time.Hour) == 0:
		return plural(int(d/(24*time.Hour)), "day")
	case d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	default:
		return d.String()
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
