package bot

import "context"

// RoomState is the bot's membership in the room an event belongs to.
type RoomState int

const (
	RoomUnknown RoomState = iota
	RoomInvited
	RoomJoined
	RoomLeft
)

func (s RoomState) String() string {
	switch s {
	case RoomInvited:
		return "invited"
	case RoomJoined:
		return "joined"
	case RoomLeft:
		return "left"
	default:
		return "unknown"
	}
}

// InvitationState tracks one invitation through its handling task.
type InvitationState int

const (
	InvitationPending InvitationState = iota
	InvitationAccepted
	InvitationAbandoned
)

func (s InvitationState) String() string {
	switch s {
	case InvitationAccepted:
		return "accepted"
	case InvitationAbandoned:
		return "abandoned"
	default:
		return "pending"
	}
}

// Invitation is a membership change that may invite the bot into a room.
type Invitation struct {
	RoomID    string
	Target    string // invitee; only invitations for the bot's own identity are handled
	Sender    string
	RoomState RoomState
	State     InvitationState
}

// MessageKind separates plain text from everything else (emotes, media, notices).
type MessageKind int

const (
	KindText MessageKind = iota
	KindOther
)

func (k MessageKind) String() string {
	if k == KindText {
		return "text"
	}
	return "other"
}

// Message is a single chat message as delivered by the transport.
type Message struct {
	ID        string
	RoomID    string
	Sender    string
	RoomState RoomState
	Kind      MessageKind
	Body      string // set only for KindText
}

// EventKind selects the handler list an event is dispatched to.
type EventKind string

const (
	EventMembership EventKind = "membership"
	EventMessage    EventKind = "message"
)

// Event is one notification from the transport. Exactly one payload is set.
type Event struct {
	Kind       EventKind
	Invitation *Invitation
	Message    *Message
}

// MembershipEvent wraps an invitation.
func MembershipEvent(inv Invitation) Event {
	return Event{Kind: EventMembership, Invitation: &inv}
}

// MessageEvent wraps a message.
func MessageEvent(msg Message) Event {
	return Event{Kind: EventMessage, Message: &msg}
}

// DispatchFunc delivers an event to the registered handlers without blocking on them.
type DispatchFunc func(ctx context.Context, ev Event)

// Transport is the chat network as seen by the handlers.
type Transport interface {
	OwnIdentity() string
	AcceptInvitation(ctx context.Context, roomID string) error
	SendText(ctx context.Context, roomID, text string) error
}

// Conn is a Transport that also drives the receive loop. Sync blocks until
// ctx is done or the session fails, calling dispatch for every notification.
type Conn interface {
	Transport
	Sync(ctx context.Context, dispatch DispatchFunc) error
}
