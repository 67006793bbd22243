package authguard

import (
	"context"
	"io"
	"log/slog"

	"github.com/MrEthical07/authguard/internal/audit"
)

// AuditEvent is one security event delivered to an AuditSink.
type AuditEvent = audit.Event

// AuditSink receives audit events from the dispatcher goroutine.
type AuditSink = audit.Sink

// AuditStats counts delivered, dropped and panicked audit events.
type AuditStats = audit.Stats

// NoOpSink discards events.
type NoOpSink = audit.NoOpSink

// MultiSink fans every event out to each member sink.
type MultiSink = audit.MultiSink

// NewChannelSink returns a sink that writes events into a buffered channel.
func NewChannelSink(buffer int) *audit.ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink writing one JSON object per line to w.
func NewJSONWriterSink(w io.Writer) *audit.JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// NewSlogSink returns a sink that logs events through logger.
func NewSlogSink(logger *slog.Logger) *audit.SlogSink {
	return audit.NewSlogSink(logger)
}

const (
	auditEventPreCheckDenied = "precheck_denied"
	auditEventLoginSuccess   = "login_success"
	auditEventLoginFailure   = "login_failure"
	auditEventAccountLocked  = "account_locked"
	auditEventAccountUnlock  = "account_unlocked"
	auditEventIPBlocked      = "ip_blocked"
	auditEventRiskElevated   = "risk_elevated"
	auditEventRefreshSuccess = "refresh_success"
	auditEventRefreshInvalid = "refresh_invalid"
	auditEventRefreshReuse   = "refresh_reuse"
	auditEventLogout         = "logout"
	auditEventLogoutAll      = "logout_all"
	auditEventRateReset      = "rate_limit_reset"
)

func (c *Coordinator) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	accountID string,
	identifier string,
	ip string,
	reason string,
	metadataBuilder func() map[string]string,
) {
	if c == nil || c.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	c.audit.Emit(ctx, AuditEvent{
		Timestamp:  c.clock.Now().UTC(),
		EventType:  eventType,
		AccountID:  accountID,
		Identifier: identifier,
		IP:         ip,
		Success:    success,
		Reason:     reason,
		Metadata:   metadata,
	})
}
