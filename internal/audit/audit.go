// Package audit records security-relevant identity events (challenges,
// verifications, role changes) as structured JSON lines on the shared logger.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"herbalyze.org/internal/auth"
	"herbalyze.org/internal/obs"
)

// Event names emitted by the identity subsystem.
const (
	EventChallengeIssued = "auth.challenge_issued"
	EventWalletVerified  = "auth.wallet_verified"
	EventWalletRejected  = "auth.wallet_rejected"
	EventWalletLinked    = "auth.wallet_linked"
	EventTokenIssued     = "auth.token_issued"
	EventDoctorRequested = "doctor.requested"
	EventDoctorApproved  = "doctor.approved"
	EventDoctorRejected  = "doctor.rejected"
	EventDoctorRevoked   = "doctor.revoked"
	EventAccountRegister = "account.registered"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit entry enriched with the request id and the
// authenticated caller from context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"type":  "audit",
		"event": event,
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if userID, ok := auth.UserIDFromContext(ctx); ok {
		entry["user_id"] = userID
	}
	if role, ok := auth.RoleFromContext(ctx); ok {
		entry["user_role"] = string(role)
	}
	if len(fields) > 0 {
		copyFields := make(map[string]any, len(fields))
		for k, v := range fields {
			copyFields[k] = v
		}
		entry["fields"] = copyFields
	} else {
		entry["fields"] = map[string]any{}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}
