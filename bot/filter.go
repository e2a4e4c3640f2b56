package bot

// Verdict is the outcome of filtering one message.
type Verdict int

const (
	Eligible Verdict = iota
	RejectNotJoined
	RejectNotText
	RejectSelf
)

func (v Verdict) String() string {
	switch v {
	case Eligible:
		return "eligible"
	case RejectNotJoined:
		return "not_joined"
	case RejectNotText:
		return "not_text"
	case RejectSelf:
		return "self"
	default:
		return "unknown"
	}
}

// Filter decides whether msg should be answered. Checks run in order: the bot
// must be joined to the room, the message must be text, and it must not be the
// bot's own message. Rejections are ordinary traffic and carry no error.
func Filter(msg Message, self string) Verdict {
	if msg.RoomState != RoomJoined {
		return RejectNotJoined
	}
	if msg.Kind != KindText {
		return RejectNotText
	}
	if msg.Sender == self {
		return RejectSelf
	}
	return Eligible
}
