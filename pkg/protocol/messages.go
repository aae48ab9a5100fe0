package protocol

// Default notice texts sent by the server.
const (
	NoticeAuthSuccess              = "Authentication successful"
	NoticeInterlocutorDisconnected = "Interlocutor disconnected"
	NoticeInterlocutorOffline      = "Interlocutor is offline, message not delivered"
)

// NewAuth builds the client's authentication request.
func NewAuth(clientName, interlocutorName string) Message {
	return Message{Type: TypeAuth, ClientName: clientName, InterlocutorName: interlocutorName}
}

// NewText builds a chat message as sent by a client.
func NewText(text string) Message {
	return Message{Type: TypeMessage, Text: text}
}

// NewChangeInterlocutor builds a repoint request.
func NewChangeInterlocutor(newInterlocutor string) Message {
	return Message{Type: TypeChangeInterlocutor, NewInterlocutor: newInterlocutor}
}

// NewAuthSuccess builds the reply to a successful auth.
func NewAuthSuccess(clientName, interlocutorName string, interlocutorConnected bool) Message {
	return Message{
		Type:                  TypeAuthSuccess,
		Notice:                NoticeAuthSuccess,
		ClientName:            clientName,
		InterlocutorName:      interlocutorName,
		InterlocutorConnected: interlocutorConnected,
	}
}

// NewAuthError builds the reply to a rejected auth.
func NewAuthError(reason string) Message {
	return Message{Type: TypeAuthError, Notice: reason}
}

// NewRelayed builds a chat message as forwarded by the server.
func NewRelayed(sender, text, timestamp string) Message {
	return Message{Type: TypeMessage, Sender: sender, Text: text, Timestamp: timestamp}
}

// NewInterlocutorConnected notifies a client that its interlocutor is online and paired.
func NewInterlocutorConnected(name string) Message {
	return Message{Type: TypeInterlocutorConnected, InterlocutorName: name}
}

// NewInterlocutorDisconnected notifies a client that its pairing was dissolved.
func NewInterlocutorDisconnected() Message {
	return Message{Type: TypeInterlocutorDisconnected, Notice: NoticeInterlocutorDisconnected}
}

// NewInterlocutorOffline tells a sender its message was not delivered.
func NewInterlocutorOffline() Message {
	return Message{Type: TypeInterlocutorOffline, Notice: NoticeInterlocutorOffline}
}

// NewInterlocutorChanged confirms a repoint.
func NewInterlocutorChanged(newInterlocutor string, interlocutorConnected bool) Message {
	return Message{
		Type:                  TypeInterlocutorChanged,
		NewInterlocutor:       newInterlocutor,
		InterlocutorConnected: interlocutorConnected,
	}
}

// NewInterlocutorChangeError rejects a repoint.
func NewInterlocutorChangeError(reason string) Message {
	return Message{Type: TypeInterlocutorChangeError, Notice: reason}
}
