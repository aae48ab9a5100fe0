package client

import (
	"errors"

	"github.com/omochice/relay-chat/pkg/protocol"
)

// Local validation failures. The server repeats the registry checks; these
// only save a round trip.
var (
	ErrNotConnected             = errors.New("not connected to server")
	ErrNotAuthenticated         = errors.New("not authenticated")
	ErrEmptyName                = errors.New("client name and interlocutor name must not be empty")
	ErrSelfPairing              = errors.New("you cannot choose yourself as an interlocutor")
	ErrEmptyMessage             = errors.New("message must not be empty")
	ErrInterlocutorNotConnected = errors.New("cannot send message: interlocutor is not connected")
)

// State mirrors what the server has told this client about its session.
type State struct {
	Name                  string
	Interlocutor          string
	Authenticated         bool
	InterlocutorConnected bool
}

// ChatEnabled reports whether the chat controls should be usable.
func (s State) ChatEnabled() bool {
	return s.Authenticated
}

// SendEnabled reports whether a message can be sent right now.
func (s State) SendEnabled() bool {
	return s.Authenticated && s.InterlocutorConnected
}

// ValidateAuth checks an auth request before it is sent.
func ValidateAuth(clientName, interlocutorName string) error {
	if clientName == "" || interlocutorName == "" {
		return ErrEmptyName
	}
	if clientName == interlocutorName {
		return ErrSelfPairing
	}
	return nil
}

// ValidateMessage checks an outgoing chat message against the current state.
func (s State) ValidateMessage(text string) error {
	switch {
	case text == "":
		return ErrEmptyMessage
	case !s.Authenticated:
		return ErrNotAuthenticated
	case !s.InterlocutorConnected:
		return ErrInterlocutorNotConnected
	}
	return nil
}

// ValidateChange checks an interlocutor change against the current state.
func (s State) ValidateChange(newInterlocutor string) error {
	switch {
	case !s.Authenticated:
		return ErrNotAuthenticated
	case newInterlocutor == "":
		return ErrEmptyName
	case newInterlocutor == s.Name:
		return ErrSelfPairing
	}
	return nil
}

// Apply updates the state from a server message and returns the event to
// surface. Messages a server never sends report false.
func (s *State) Apply(msg protocol.Message) (Event, bool) {
	switch msg.Type {
	case protocol.TypeAuthSuccess:
		s.Authenticated = true
		if msg.ClientName != "" {
			s.Name = msg.ClientName
		}
		s.Interlocutor = msg.InterlocutorName
		s.InterlocutorConnected = msg.InterlocutorConnected
		return Event{
			Kind:                  EventAuthenticationSuccess,
			ClientName:            s.Name,
			Interlocutor:          msg.InterlocutorName,
			InterlocutorConnected: msg.InterlocutorConnected,
		}, true

	case protocol.TypeAuthError:
		s.Authenticated = false
		s.InterlocutorConnected = false
		return Event{Kind: EventAuthenticationError, Reason: msg.Notice}, true

	case protocol.TypeMessage:
		return Event{
			Kind:      EventMessageReceived,
			Sender:    msg.Sender,
			Text:      msg.Text,
			Timestamp: msg.Timestamp,
		}, true

	case protocol.TypeInterlocutorConnected:
		s.Interlocutor = msg.InterlocutorName
		s.InterlocutorConnected = true
		return Event{Kind: EventInterlocutorConnected, Interlocutor: msg.InterlocutorName, InterlocutorConnected: true}, true

	case protocol.TypeInterlocutorDisconnected:
		s.InterlocutorConnected = false
		return Event{Kind: EventInterlocutorDisconnected}, true

	case protocol.TypeInterlocutorOffline:
		s.InterlocutorConnected = false
		return Event{Kind: EventInterlocutorOffline}, true

	case protocol.TypeInterlocutorChanged:
		s.Interlocutor = msg.NewInterlocutor
		s.InterlocutorConnected = msg.InterlocutorConnected
		return Event{
			Kind:                  EventInterlocutorChanged,
			Interlocutor:          msg.NewInterlocutor,
			InterlocutorConnected: msg.InterlocutorConnected,
		}, true

	case protocol.TypeInterlocutorChangeError:
		return Event{Kind: EventInterlocutorChangeError, Reason: msg.Notice}, true
	}
	return Event{}, false
}

// Reset forgets the session after the connection is gone. The chosen names
// are kept so a reconnect can reuse them.
func (s *State) Reset() {
	s.Authenticated = false
	s.InterlocutorConnected = false
}
