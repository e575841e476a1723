// Package notify dispatches templated user and admin notifications.
//
// Dispatch is best-effort and fire-and-forget: the verification pipeline and
// the reconciliation webhook never wait on delivery, and a failed send only
// produces a log line.
package notify

import (
	"context"
	"log/slog"
	"time"
)

// Template identifies a rendered notification downstream.
type Template string

const (
	TemplateIdentityApproved     Template = "identity_approved"
	TemplateIdentityReview       Template = "identity_review"
	TemplateWWCCProvisional      Template = "wwcc_provisional"
	TemplateWWCCReview           Template = "wwcc_review"
	TemplateWWCCBarred           Template = "wwcc_barred"
	TemplateWWCCNotFound         Template = "wwcc_not_found"
	TemplateWWCCExpired          Template = "wwcc_expired"
	TemplateWWCCClosed           Template = "wwcc_closed"
	TemplateWWCCPendingAuthority Template = "wwcc_pending_authority"
	TemplateAdminBarredAlert     Template = "admin_barred_alert"
)

// Sender delivers one notification command. Implementations must be safe for
// concurrent use.
type Sender interface {
	Send(ctx context.Context, recipient string, template Template, data map[string]string) error
}

// Dispatcher fans notifications out asynchronously through a Sender.
type Dispatcher struct {
	sender  Sender
	logger  *slog.Logger
	timeout time.Duration
}

// NewDispatcher builds a dispatcher. A nil sender disables dispatch entirely,
// which keeps tests and local runs quiet.
func NewDispatcher(sender Sender, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{sender: sender, logger: logger, timeout: 10 * time.Second}
}

// Dispatch sends in a detached goroutine. Failures are logged, never returned:
// a notification must not change the outcome of the flow that triggered it.
func (d *Dispatcher) Dispatch(recipient string, template Template, data map[string]string) {
	if d == nil || d.sender == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.sender.Send(ctx, recipient, template, data); err != nil {
			d.logger.Error("notification dispatch failed",
				"recipient", recipient,
				"template", string(template),
				"error", err,
			)
		}
	}()
}
