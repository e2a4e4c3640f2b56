package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/virto-network/reference-bot/backoff"
)

type delayLog struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (l *delayLog) sleep(_ context.Context, d time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.delays = append(l.delays, d)
	return nil
}

func (l *delayLog) total() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	var sum time.Duration
	for _, d := range l.delays {
		sum += d
	}
	return sum
}

func invitation(room, target string) Invitation {
	return Invitation{RoomID: room, Target: target, Sender: "@alice:example.org", RoomState: RoomInvited}
}

func TestInvitationForOtherUserIsIgnored(t *testing.T) {
	conn := newFakeConn()
	h := &InvitationHandler{Transport: conn, Policy: backoff.InvitePolicy}

	got, err := h.Accept(context.Background(), invitation("!abc:example.org", "@someone:example.org"))
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	if got.State != InvitationPending {
		t.Errorf("State = %v, want pending", got.State)
	}
	if calls := conn.acceptCalls(); len(calls) != 0 {
		t.Errorf("expected no accept call, got %v", calls)
	}
}

func TestInvitationRequiresInvitedRoom(t *testing.T) {
	conn := newFakeConn()
	h := &InvitationHandler{Transport: conn, Policy: backoff.InvitePolicy}
	inv := invitation("!abc:example.org", botID)
	inv.RoomState = RoomJoined

	if _, err := h.Accept(context.Background(), inv); err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	if calls := conn.acceptCalls(); len(calls) != 0 {
		t.Errorf("expected no accept call, got %v", calls)
	}
}

func TestInvitationAcceptedFirstAttempt(t *testing.T) {
	conn := newFakeConn()
	log := &delayLog{}
	h := &InvitationHandler{Transport: conn, Policy: backoff.InvitePolicy, Sleeper: log.sleep}

	got, err := h.Accept(context.Background(), invitation("!abc:example.org", botID))
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	if got.State != InvitationAccepted {
		t.Errorf("State = %v, want accepted", got.State)
	}
	if log.total() != 0 {
		t.Errorf("expected no delay, waited %v", log.total())
	}
	if calls := conn.acceptCalls(); len(calls) != 1 || calls[0] != "!abc:example.org" {
		t.Errorf("accept calls = %v", calls)
	}
}

func TestInvitationRetriesThenSucceeds(t *testing.T) {
	conn := newFakeConn()
	conn.acceptErrs = []error{errTransport, errTransport}
	log := &delayLog{}
	h := &InvitationHandler{Transport: conn, Policy: backoff.InvitePolicy, Sleeper: log.sleep}

	got, err := h.Accept(context.Background(), invitation("!abc:example.org", botID))
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	if got.State != InvitationAccepted {
		t.Errorf("State = %v, want accepted", got.State)
	}
	if len(log.delays) != 2 || log.delays[0] != 2*time.Second || log.delays[1] != 4*time.Second {
		t.Errorf("delays = %v, want [2s 4s]", log.delays)
	}
	if log.total() != 6*time.Second {
		t.Errorf("total wait = %v, want 6s", log.total())
	}
	if n := len(conn.acceptCalls()); n != 3 {
		t.Errorf("accept calls = %d, want 3", n)
	}
	if n := len(conn.sentMessages()); n != 0 {
		t.Errorf("retries must be silent, got %d room messages", n)
	}
}

func TestInvitationAbandoned(t *testing.T) {
	conn := newFakeConn()
	for i := 0; i < 50; i++ {
		conn.acceptErrs = append(conn.acceptErrs, errTransport)
	}
	log := &delayLog{}
	h := &InvitationHandler{Transport: conn, Policy: backoff.InvitePolicy, Sleeper: log.sleep}

	got, err := h.Accept(context.Background(), invitation("!abc:example.org", botID))
	if !errors.Is(err, backoff.ErrAbandoned) {
		t.Fatalf("expected abandonment, got %v", err)
	}
	if !errors.Is(err, errTransport) {
		t.Errorf("abandonment should carry the last transport error, got %v", err)
	}
	if got.State != InvitationAbandoned {
		t.Errorf("State = %v, want abandoned", got.State)
	}
	if log.total() > time.Hour {
		t.Errorf("waited %v, beyond the ceiling", log.total())
	}
	if n := len(conn.acceptCalls()); n != len(log.delays)+1 {
		t.Errorf("accept calls = %d, want %d", n, len(log.delays)+1)
	}
}

func TestInvitationsAreIndependent(t *testing.T) {
	conn := newFakeConn()
	h := &InvitationHandler{Transport: conn, Policy: backoff.Policy{Initial: time.Millisecond, Factor: 2, Ceiling: 3 * time.Millisecond}}
	d := NewDispatcher()
	d.Register(EventMembership, "invitation", h.Handle)

	conn.acceptErrs = []error{errTransport, errTransport, errTransport}
	d.Dispatch(context.Background(), MembershipEvent(invitation("!bad:example.org", botID)))
	d.Wait()
	d.Dispatch(context.Background(), MembershipEvent(invitation("!good:example.org", botID)))
	d.Wait()

	calls := conn.acceptCalls()
	if calls[len(calls)-1] != "!good:example.org" {
		t.Errorf("second room not joined after first was abandoned: %v", calls)
	}
}
