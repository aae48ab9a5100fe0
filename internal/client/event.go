package client

// EventKind identifies what an Event reports.
type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventDisconnected
	EventAuthenticationSuccess
	EventAuthenticationError
	EventMessageReceived
	EventInterlocutorConnected
	EventInterlocutorDisconnected
	EventInterlocutorOffline
	EventInterlocutorChanged
	EventInterlocutorChangeError
	EventConnectionError
)

var eventNames = map[EventKind]string{
	EventConnected:                "connected",
	EventDisconnected:             "disconnected",
	EventAuthenticationSuccess:    "authentication_success",
	EventAuthenticationError:      "authentication_error",
	EventMessageReceived:          "message_received",
	EventInterlocutorConnected:    "interlocutor_connected",
	EventInterlocutorDisconnected: "interlocutor_disconnected",
	EventInterlocutorOffline:      "interlocutor_offline",
	EventInterlocutorChanged:      "interlocutor_changed",
	EventInterlocutorChangeError:  "interlocutor_change_error",
	EventConnectionError:          "connection_error",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return "unknown"
}

// Event is one notification for the presentation layer. Only the fields
// relevant to Kind are set.
type Event struct {
	Kind EventKind

	// EventAuthenticationSuccess
	ClientName string

	// EventAuthenticationSuccess, EventInterlocutorConnected, EventInterlocutorChanged
	Interlocutor          string
	InterlocutorConnected bool

	// EventMessageReceived
	Sender    string
	Text      string
	Timestamp string

	// EventAuthenticationError, EventInterlocutorChangeError, EventConnectionError
	Reason string
}
