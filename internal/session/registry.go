// Package session holds the server's authoritative view of named clients and
// their pairing state.
//
// A Registry is not safe for concurrent use. The chat hub owns it from a
// single goroutine, which is what keeps transitions from interleaving.
package session

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/omochice/relay-chat/pkg/protocol"
)

// SystemSender is the sender name of notices generated by the server itself.
const SystemSender = "Server"

// NoticeNotPaired is sent back to a client that writes before choosing an interlocutor.
const NoticeNotPaired = "Interlocutor not connected yet"

// TimestampLayout formats the server-side stamp of relayed messages.
const TimestampLayout = "15:04:05"

// Validation failures. Their text is sent to the client verbatim.
var (
	ErrEmptyName            = errors.New("client name and interlocutor name must not be empty")
	ErrSelfPairing          = errors.New("you cannot choose yourself as an interlocutor")
	ErrNameTaken            = errors.New("name is already taken")
	ErrInterlocutorWaiting  = errors.New("interlocutor is already waiting for another connection")
	ErrInterlocutorBusy     = errors.New("interlocutor is already chatting with someone else")
	ErrAlreadyAuthenticated = errors.New("connection is already authenticated")
)

// Session is one authenticated client.
type Session struct {
	Name          string
	Conn          uuid.UUID
	Interlocutor  string
	Authenticated bool
}

// Outbound is a message the registry wants written to a connection.
type Outbound struct {
	To      uuid.UUID
	Message protocol.Message

	// Close asks the transport to close the connection once Message is flushed.
	Close bool
}

// Info is a read-only view of a session.
type Info struct {
	Name         string `json:"name"`
	Interlocutor string `json:"interlocutor"`
	Paired       bool   `json:"paired"`
}

// Registry maps names to sessions and connections to names. Both indices are
// only ever changed together.
type Registry struct {
	sessions map[string]*Session
	names    map[uuid.UUID]string
	now      func() time.Time
	log      zerolog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock sets the clock used to stamp relayed messages.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithLogger sets the logger for dropped and rejected requests.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) {
		r.log = l
	}
}

// New creates an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		names:    make(map[uuid.UUID]string),
		now:      time.Now,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dispatch applies one decoded client message received on conn and returns
// the messages to deliver as a result. Types a client may not send are
// dropped.
func (r *Registry) Dispatch(conn uuid.UUID, msg protocol.Message) []Outbound {
	switch msg.Type {
	case protocol.TypeAuth:
		return r.auth(conn, msg.ClientName, msg.InterlocutorName)
	case protocol.TypeMessage:
		return r.message(conn, msg.Text)
	case protocol.TypeChangeInterlocutor:
		return r.changeInterlocutor(conn, msg.NewInterlocutor)
	default:
		r.log.Debug().Stringer("conn", conn).Str("type", msg.Type.String()).Msg("dropping message of unexpected type")
		return nil
	}
}

// Disconnect removes the session bound to conn, if any, and uncouples its
// interlocutor. It is the only way a session leaves the registry.
func (r *Registry) Disconnect(conn uuid.UUID) []Outbound {
	name, ok := r.names[conn]
	if !ok {
		return nil
	}

	s := r.sessions[name]
	delete(r.sessions, name)
	delete(r.names, conn)
	r.log.Info().Str("name", name).Msg("session removed")

	if peer := r.reciprocal(s.Interlocutor, name); peer != nil {
		peer.Interlocutor = ""
		return []Outbound{{To: peer.Conn, Message: protocol.NewInterlocutorDisconnected()}}
	}
	return nil
}

// ValidateAuth checks whether conn may register clientName targeting interlocutorName.
func (r *Registry) ValidateAuth(conn uuid.UUID, clientName, interlocutorName string) error {
	if _, ok := r.names[conn]; ok {
		return ErrAlreadyAuthenticated
	}
	if clientName == "" || interlocutorName == "" {
		return ErrEmptyName
	}
	if clientName == interlocutorName {
		return ErrSelfPairing
	}
	if _, ok := r.sessions[clientName]; ok {
		return fmt.Errorf("%w: %s", ErrNameTaken, clientName)
	}

	peer, ok := r.sessions[interlocutorName]
	if !ok {
		return nil
	}
	switch peer.Interlocutor {
	case clientName:
		return nil
	case "":
		// a waiting slot is reserved for whoever that client names next
		return fmt.Errorf("%w: %s", ErrInterlocutorWaiting, interlocutorName)
	default:
		return fmt.Errorf("%w: %s", ErrInterlocutorBusy, interlocutorName)
	}
}

// ValidateChange checks whether the session name may repoint to newInterlocutor.
func (r *Registry) ValidateChange(name, newInterlocutor string) error {
	if newInterlocutor == "" {
		return ErrEmptyName
	}
	if newInterlocutor == name {
		return ErrSelfPairing
	}

	peer, ok := r.sessions[newInterlocutor]
	if ok && peer.Interlocutor != "" && peer.Interlocutor != name {
		return fmt.Errorf("%w: %s", ErrInterlocutorBusy, newInterlocutor)
	}
	return nil
}

func (r *Registry) auth(conn uuid.UUID, clientName, interlocutorName string) []Outbound {
	if err := r.ValidateAuth(conn, clientName, interlocutorName); err != nil {
		r.log.Info().Stringer("conn", conn).Str("name", clientName).Err(err).Msg("auth rejected")
		return []Outbound{{To: conn, Message: protocol.NewAuthError(err.Error()), Close: true}}
	}

	r.sessions[clientName] = &Session{
		Name:          clientName,
		Conn:          conn,
		Interlocutor:  interlocutorName,
		Authenticated: true,
	}
	r.names[conn] = clientName

	peer, online := r.sessions[interlocutorName]
	r.log.Info().Stringer("conn", conn).Str("name", clientName).
		Str("interlocutor", interlocutorName).Bool("online", online).Msg("session registered")

	out := []Outbound{{To: conn, Message: protocol.NewAuthSuccess(clientName, interlocutorName, online)}}
	if online {
		peer.Interlocutor = clientName
		out = append(out,
			Outbound{To: conn, Message: protocol.NewInterlocutorConnected(interlocutorName)},
			Outbound{To: peer.Conn, Message: protocol.NewInterlocutorConnected(clientName)},
		)
	}
	return out
}

func (r *Registry) message(conn uuid.UUID, text string) []Outbound {
	s := r.authenticated(conn)
	if s == nil {
		r.log.Debug().Stringer("conn", conn).Msg("dropping message from unauthenticated connection")
		return nil
	}

	stamp := r.now().Format(TimestampLayout)
	if s.Interlocutor == "" {
		return []Outbound{{To: conn, Message: protocol.NewRelayed(SystemSender, NoticeNotPaired, stamp)}}
	}

	peer, ok := r.sessions[s.Interlocutor]
	if !ok {
		return []Outbound{{To: conn, Message: protocol.NewInterlocutorOffline()}}
	}
	if peer.Interlocutor != s.Name {
		r.log.Debug().Str("name", s.Name).Str("interlocutor", peer.Name).Msg("dropping message on stale pairing")
		return nil
	}

	return []Outbound{{To: peer.Conn, Message: protocol.NewRelayed(s.Name, text, stamp)}}
}

func (r *Registry) changeInterlocutor(conn uuid.UUID, newInterlocutor string) []Outbound {
	s := r.authenticated(conn)
	if s == nil {
		r.log.Debug().Stringer("conn", conn).Msg("dropping interlocutor change from unauthenticated connection")
		return nil
	}

	if err := r.ValidateChange(s.Name, newInterlocutor); err != nil {
		r.log.Info().Str("name", s.Name).Str("interlocutor", newInterlocutor).Err(err).Msg("interlocutor change rejected")
		return []Outbound{{To: conn, Message: protocol.NewInterlocutorChangeError(err.Error())}}
	}

	var out []Outbound
	if old := s.Interlocutor; old != newInterlocutor {
		if prev := r.reciprocal(old, s.Name); prev != nil {
			prev.Interlocutor = ""
			out = append(out, Outbound{To: prev.Conn, Message: protocol.NewInterlocutorDisconnected()})
		}
	}

	s.Interlocutor = newInterlocutor
	peer, online := r.sessions[newInterlocutor]
	r.log.Info().Str("name", s.Name).Str("interlocutor", newInterlocutor).Bool("online", online).Msg("interlocutor changed")

	out = append(out, Outbound{To: conn, Message: protocol.NewInterlocutorChanged(newInterlocutor, online)})
	if online {
		peer.Interlocutor = s.Name
		out = append(out, Outbound{To: peer.Conn, Message: protocol.NewInterlocutorConnected(s.Name)})
	}
	return out
}

// authenticated returns the session bound to conn, or nil.
func (r *Registry) authenticated(conn uuid.UUID) *Session {
	name, ok := r.names[conn]
	if !ok {
		return nil
	}
	s := r.sessions[name]
	if !s.Authenticated {
		return nil
	}
	return s
}

// reciprocal returns the registered session called peer if it points back at
// name. Uncoupling only touches such a peer: one that already moved on to
// someone else keeps its pairing.
func (r *Registry) reciprocal(peer, name string) *Session {
	s, ok := r.sessions[peer]
	if !ok || s.Interlocutor != name {
		return nil
	}
	return s
}

// Lookup returns a copy of the session registered under name.
func (r *Registry) Lookup(name string) (Session, bool) {
	s, ok := r.sessions[name]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// NameOf returns the name bound to conn.
func (r *Registry) NameOf(conn uuid.UUID) (string, bool) {
	name, ok := r.names[conn]
	return name, ok
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	return len(r.sessions)
}

// Paired reports whether a and b point at each other.
func (r *Registry) Paired(a, b string) bool {
	return r.reciprocal(a, b) != nil && r.reciprocal(b, a) != nil
}

// Snapshot lists all sessions ordered by name.
func (r *Registry) Snapshot() []Info {
	out := make([]Info, 0, len(r.sessions))
	for name, s := range r.sessions {
		out = append(out, Info{
			Name:         name,
			Interlocutor: s.Interlocutor,
			Paired:       s.Interlocutor != "" && r.Paired(name, s.Interlocutor),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
