package bot

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewValidation(t *testing.T) {
	conn := newFakeConn()
	comp := &fakeCompleter{}
	tests := []struct {
		name string
		opts Options
	}{
		{"missing transport", Options{Completer: comp, Model: "m"}},
		{"missing completer", Options{Conn: conn, Model: "m"}},
		{"missing model", Options{Conn: conn, Completer: comp}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNewRegistersHandlers(t *testing.T) {
	rt, err := New(Options{Conn: newFakeConn(), Completer: &fakeCompleter{}, Model: "m"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := rt.Dispatcher().Handlers(EventMembership); len(got) != 1 || got[0] != "invitation" {
		t.Errorf("membership handlers = %v", got)
	}
	if got := rt.Dispatcher().Handlers(EventMessage); len(got) != 2 || got[0] != "reply" || got[1] != "receipt-log" {
		t.Errorf("message handlers = %v", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRunJoinsAndReplies(t *testing.T) {
	conn := newFakeConn()
	conn.events = []Event{
		MembershipEvent(invitation("!new:example.org", botID)),
		MessageEvent(userMessage("What is Virto?")),
		MessageEvent(Message{RoomID: "!abc:example.org", Sender: botID, RoomState: RoomJoined, Kind: KindText, Body: "echo"}),
	}
	comp := &fakeCompleter{resp: replyWith("Virto is a decentralized protocol.")}
	rt, err := New(Options{Conn: conn, Completer: comp, Model: "gpt-4-0125-preview", Reference: reference, Drain: time.Second})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	waitFor(t, func() bool { return len(conn.sentMessages()) == 1 && len(conn.acceptCalls()) == 1 })
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() after cancel = %v, want nil", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if got := conn.acceptCalls(); got[0] != "!new:example.org" {
		t.Errorf("accepted %v", got)
	}
	if n := len(comp.calls()); n != 1 {
		t.Errorf("completion calls = %d, want 1 (own message must be skipped)", n)
	}
}

func TestRunReturnsSyncFailure(t *testing.T) {
	conn := newFakeConn()
	conn.syncErr = errTransport
	rt, err := New(Options{Conn: conn, Completer: &fakeCompleter{}, Model: "m"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := rt.Run(context.Background()); !errors.Is(err, errTransport) {
		t.Errorf("Run() = %v, want transport error", err)
	}
}
