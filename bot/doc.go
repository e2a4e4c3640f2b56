// Package bot contains the event-driven message handling core.
//
// A transport (Matrix or Twitch) feeds Events into a Dispatcher, which fans
// each event out to every handler registered for its kind, one goroutine per
// handler. Two handlers do the real work:
//   - InvitationHandler accepts invitations addressed to the bot's own
//     identity, retrying the join with exponential backoff and giving up once
//     an hour of waiting would be exceeded.
//   - Pipeline filters incoming messages, wraps eligible text in the reference
//     document, asks the completion service for a reply and sends the first
//     choice back to the originating room. Replies are never retried.
//
// Errors are scoped to the event that produced them; the dispatcher logs them
// and keeps going.
package bot
