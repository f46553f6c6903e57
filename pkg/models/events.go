package models

import "fmt"

// Audit event kinds. External log consumers key off these strings, so
// they are stable serialization tags, not display names.
const (
	EventRequestReceived  = "REQUEST_RECEIVED"
	EventRequestRejected  = "REQUEST_REJECTED"
	EventRequestRouted    = "REQUEST_ROUTED"
	EventResponseSent     = "RESPONSE_SENT"
	EventResponseRejected = "RESPONSE_REJECTED"
	EventSessionStarted   = "SESSION_STARTED"
	EventSessionEnded     = "SESSION_ENDED"
	EventSecurity         = "SECURITY_EVENT"
	EventProviderHealth   = "PROVIDER_HEALTH"
	EventRateLimitTrigger = "RATE_LIMIT_TRIGGERED"
	EventCustom           = "CUSTOM"
)

// AuditEvent is the closed set of things the gateway records. Type is the
// discriminator; the remaining fields are populated per variant by the
// constructors below and are omitted when empty.
type AuditEvent struct {
	Type      string                 `json:"type"`
	RequestID string                 `json:"request_id,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
	Provider  string                 `json:"provider,omitempty"`
	Entity    string                 `json:"entity,omitempty"`
	Layer     string                 `json:"layer,omitempty"`
	Reason    string                 `json:"reason,omitempty"`
	Tokens    int                    `json:"tokens,omitempty"`
	Healthy   *bool                  `json:"healthy,omitempty"`
	Name      string                 `json:"name,omitempty"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
}

func RequestReceived(requestID, sessionID string) AuditEvent {
	return AuditEvent{Type: EventRequestReceived, RequestID: requestID, SessionID: sessionID}
}

func RequestRejected(requestID, reason string) AuditEvent {
	return AuditEvent{Type: EventRequestRejected, RequestID: requestID, Reason: reason}
}

func RequestRouted(requestID, provider string) AuditEvent {
	return AuditEvent{Type: EventRequestRouted, RequestID: requestID, Provider: provider}
}

func ResponseSent(requestID, provider string, tokens int) AuditEvent {
	return AuditEvent{Type: EventResponseSent, RequestID: requestID, Provider: provider, Tokens: tokens}
}

func ResponseRejected(requestID, reason string) AuditEvent {
	return AuditEvent{Type: EventResponseRejected, RequestID: requestID, Reason: reason}
}

func SessionStarted(sessionID string) AuditEvent {
	return AuditEvent{Type: EventSessionStarted, SessionID: sessionID}
}

func SessionEnded(sessionID string) AuditEvent {
	return AuditEvent{Type: EventSessionEnded, SessionID: sessionID}
}

func SecurityEvent(entity, reason string) AuditEvent {
	return AuditEvent{Type: EventSecurity, Entity: entity, Reason: reason}
}

func ProviderHealth(provider string, healthy bool) AuditEvent {
	return AuditEvent{Type: EventProviderHealth, Provider: provider, Healthy: &healthy}
}

func RateLimitTriggered(layer, entity string) AuditEvent {
	return AuditEvent{Type: EventRateLimitTrigger, Layer: layer, Entity: entity}
}

func CustomEvent(name string, detail map[string]interface{}) AuditEvent {
	return AuditEvent{Type: EventCustom, Name: name, Detail: detail}
}

// Description renders the one-line form used by the pipe-delimited export.
func (e AuditEvent) Description() string {
	switch e.Type {
	case EventRequestReceived:
		return fmt.Sprintf("request %s received", e.RequestID)
	case EventRequestRejected:
		return fmt.Sprintf("request %s rejected: %s", e.RequestID, e.Reason)
	case EventRequestRouted:
		return fmt.Sprintf("request %s routed to %s", e.RequestID, e.Provider)
	case EventResponseSent:
		return fmt.Sprintf("response for %s sent via %s (%d tokens)", e.RequestID, e.Provider, e.Tokens)
	case EventResponseRejected:
		return fmt.Sprintf("response for %s rejected: %s", e.RequestID, e.Reason)
	case EventSessionStarted:
		return fmt.Sprintf("session %s started", e.SessionID)
	case EventSessionEnded:
		return fmt.Sprintf("session %s ended", e.SessionID)
	case EventSecurity:
		return fmt.Sprintf("security event for %s: %s", e.Entity, e.Reason)
	case EventProviderHealth:
		state := "unhealthy"
		if e.Healthy != nil && *e.Healthy {
			state = "healthy"
		}
		return fmt.Sprintf("provider %s %s", e.Provider, state)
	case EventRateLimitTrigger:
		return fmt.Sprintf("rate limit %s triggered for %s", e.Layer, e.Entity)
	case EventCustom:
		return fmt.Sprintf("custom event %s", e.Name)
	default:
		return fmt.Sprintf("unknown event %s", e.Type)
	}
}
