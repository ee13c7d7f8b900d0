package domain

import (
	"net/netip"
	"time"
)

const (
	MaxLineLength = 8192

	// UnknownField fills absent user and port fields in live records.
	UnknownField = "unknown"
)

type EventKind string

const (
	KindFailedLogin      EventKind = "failed_login"
	KindAcceptedLogin    EventKind = "accepted_login"
	KindInvalidUser      EventKind = "invalid_user"
	KindBreakInAttempt   EventKind = "break_in_attempt"
	KindDisconnected     EventKind = "disconnected"
	KindConnectionClosed EventKind = "connection_closed"
)

// EventKinds lists every kind in classification order.
var EventKinds = []EventKind{
	KindFailedLogin,
	KindAcceptedLogin,
	KindInvalidUser,
	KindBreakInAttempt,
	KindDisconnected,
	KindConnectionClosed,
}

func ParseEventKind(s string) (EventKind, bool) {
	for _, k := range EventKinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// Status returns the short status used by older live consumers.
func (k EventKind) Status() string {
	switch k {
	case KindFailedLogin:
		return "failed"
	case KindAcceptedLogin:
		return "accepted"
	case KindInvalidUser:
		return "invalid"
	default:
		return "other"
	}
}

// Event is one classified auth-log line. Empty User or Port means the
// pattern did not capture it.
type Event struct {
	Timestamp time.Time
	IP        netip.Addr
	Kind      EventKind
	User      string
	Port      string
	Raw       string
}

func (e Event) IPString() string {
	if !e.IP.IsValid() {
		return ""
	}
	return e.IP.String()
}

// EventRecord is the flat shape published to live subscribers.
type EventRecord struct {
	IP        string    `json:"ip"`
	Kind      EventKind `json:"kind"`
	Type      EventKind `json:"type"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	User      string    `json:"user"`
	Port      string    `json:"port"`
	Raw       string    `json:"raw"`
}

func (e Event) Record() EventRecord {
	return EventRecord{
		IP:        e.IPString(),
		Kind:      e.Kind,
		Type:      e.Kind,
		Status:    e.Kind.Status(),
		Timestamp: e.Timestamp,
		User:      orUnknown(e.User),
		Port:      orUnknown(e.Port),
		Raw:       e.Raw,
	}
}

func orUnknown(s string) string {
	if s == "" {
		return UnknownField
	}
	return s
}
