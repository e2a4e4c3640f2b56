package matrix

import (
	"maunium.net/go/mautrix/event"

	"github.com/virto-network/reference-bot/bot"
)

// roomState derives the bot's membership from the sync section an event came from.
func roomState(src event.Source) bot.RoomState {
	switch {
	case src&event.SourceInvite != 0:
		return bot.RoomInvited
	case src&event.SourceJoin != 0:
		return bot.RoomJoined
	case src&event.SourceLeave != 0:
		return bot.RoomLeft
	default:
		return bot.RoomUnknown
	}
}

// membershipEvent maps an m.room.member invite. Other memberships are dropped.
func membershipEvent(evt *event.Event) (bot.Event, bool) {
	if evt == nil || evt.Type != event.StateMember {
		return bot.Event{}, false
	}
	if evt.Content.AsMember().Membership != event.MembershipInvite {
		return bot.Event{}, false
	}
	return bot.MembershipEvent(bot.Invitation{
		RoomID:    evt.RoomID.String(),
		Target:    evt.GetStateKey(),
		Sender:    evt.Sender.String(),
		RoomState: roomState(evt.Mautrix.EventSource),
	}), true
}

func messageEvent(evt *event.Event) (bot.Event, bool) {
	if evt == nil || evt.Type != event.EventMessage {
		return bot.Event{}, false
	}
	content := evt.Content.AsMessage()
	kind := bot.KindOther
	if content.MsgType == event.MsgText {
		kind = bot.KindText
	}
	return bot.MessageEvent(bot.Message{
		ID:        evt.ID.String(),
		RoomID:    evt.RoomID.String(),
		Sender:    evt.Sender.String(),
		RoomState: roomState(evt.Mautrix.EventSource),
		Kind:      kind,
		Body:      content.Body,
	}), true
}
