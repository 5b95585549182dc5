package tabauth

import (
	"context"
	"io"
	"log/slog"

	"github.com/MrEthical07/tabauth/internal/audit"
)

// AuditEvent is one lifecycle record of a tab. It never carries passwords or
// tokens.
type AuditEvent = audit.Event

// AuditSink receives audit events from the tab's dispatcher goroutine.
type AuditSink = audit.Sink

type (
	NoOpSink       = audit.NoOpSink
	ChannelSink    = audit.ChannelSink
	JSONWriterSink = audit.JSONWriterSink
	LogSink        = audit.LogSink
)

// Audit event types.
const (
	AuditLoginSuccess              = audit.LoginSuccess
	AuditLoginFailure              = audit.LoginFailure
	AuditVerificationRequired      = audit.VerificationRequired
	AuditLogout                    = audit.Logout
	AuditRefreshSuccess            = audit.RefreshSuccess
	AuditRefreshFailure            = audit.RefreshFailure
	AuditSessionRestored           = audit.SessionRestored
	AuditVerificationPublished     = audit.VerificationPublished
	AuditAutoLoginSuccess          = audit.AutoLoginSuccess
	AuditAutoLoginFailure          = audit.AutoLoginFailure
	AuditAutoLoginAborted          = audit.AutoLoginAborted
	AuditAutoLoginClaimedElsewhere = audit.AutoLoginClaimedElsewhere
	AuditVerificationResent        = audit.VerificationResent
)

func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return audit.NewLogSink(logger)
}

func (c *Client) emitAudit(ctx context.Context, eventType string, success bool, userID, email string, err error, metadata map[string]string) {
	if c.audit == nil {
		return
	}
	ev := AuditEvent{
		EventType: eventType,
		TabID:     c.tabID,
		UserID:    userID,
		Email:     email,
		Success:   success,
		Metadata:  metadata,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	c.audit.Emit(ctx, ev)
}
