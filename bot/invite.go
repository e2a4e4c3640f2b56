package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/virto-network/reference-bot/backoff"
	"github.com/virto-network/reference-bot/telemetry"
)

const tracerName = "reference-bot/bot"

// InvitationHandler joins rooms the bot is invited to.
type InvitationHandler struct {
	Transport Transport
	Policy    backoff.Policy
	// Sleeper overrides the wait between join attempts (tests only).
	Sleeper backoff.Sleeper
}

// Handle is the HandlerFunc registered for EventMembership.
func (h *InvitationHandler) Handle(ctx context.Context, ev Event) error {
	if ev.Invitation == nil {
		return nil
	}
	_, err := h.Accept(ctx, *ev.Invitation)
	return err
}

// Accept joins the invited room, retrying under the handler's policy. Membership
// changes for other users or rooms not in the invited state are ignored and
// returned unchanged. Retries are silent to the room.
func (h *InvitationHandler) Accept(ctx context.Context, inv Invitation) (Invitation, error) {
	if inv.Target != h.Transport.OwnIdentity() || inv.RoomState != RoomInvited {
		return inv, nil
	}
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("room", inv.RoomID), slog.String("component", "invite"))
	logger.Info("autojoining room", slog.String("inviter", inv.Sender))

	ctx, span := telemetry.StartSpan(ctx, tracerName, "invitation.accept", attribute.String("room_id", inv.RoomID))
	defer span.End()

	opts := []backoff.Option{
		backoff.WithNotify(func(attempt int, err error, next time.Duration) {
			telemetry.Inc(telemetry.InviteRetries)
			logger.Warn("failed to join room, retrying",
				slog.Int("attempt", attempt),
				slog.Duration("retry_in", next),
				slog.Any("err", err))
		}),
	}
	if h.Sleeper != nil {
		opts = append(opts, backoff.WithSleeper(h.Sleeper))
	}
	err := backoff.Retry(ctx, h.Policy, func(ctx context.Context) error {
		telemetry.Inc(telemetry.InviteAttempts)
		return h.Transport.AcceptInvitation(ctx, inv.RoomID)
	}, opts...)
	if err != nil {
		inv.State = InvitationAbandoned
		outcome := "abandoned"
		if !errors.Is(err, backoff.ErrAbandoned) {
			outcome = "interrupted"
		}
		telemetry.CountInvitation(outcome)
		telemetry.RecordError(span, err)
		logger.Error("can't join room", slog.String("outcome", outcome), slog.Any("err", err))
		return inv, fmt.Errorf("join room %s: %w", inv.RoomID, err)
	}
	inv.State = InvitationAccepted
	telemetry.CountInvitation("accepted")
	telemetry.SetSpanSuccess(span)
	logger.Info("successfully joined room")
	return inv, nil
}
