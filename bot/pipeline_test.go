package bot

import (
	"context"
	"errors"
	"testing"
)

const reference = "Virto is a protocol."

func userMessage(body string) Message {
	return Message{ID: "$ev1", RoomID: "!abc:example.org", Sender: "@alice:example.org", RoomState: RoomJoined, Kind: KindText, Body: body}
}

func newPipeline(conn *fakeConn, c *fakeCompleter) *Pipeline {
	return &Pipeline{Transport: conn, Completer: c, Model: "gpt-4-0125-preview", Reference: reference}
}

func TestPipelineSendsFirstChoice(t *testing.T) {
	conn := newFakeConn()
	comp := &fakeCompleter{resp: replyWith("Virto is a decentralized protocol.")}
	comp.resp.Choices = append(comp.resp.Choices, Choice{Content: textPtr("second choice")})

	stage, err := newPipeline(conn, comp).Process(context.Background(), userMessage("What is Virto?"))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if stage != StageDone {
		t.Errorf("stage = %s, want done", stage)
	}
	got := conn.sentMessages()
	if len(got) != 1 {
		t.Fatalf("expected exactly one send, got %d", len(got))
	}
	if got[0].room != "!abc:example.org" || got[0].text != "Virto is a decentralized protocol." {
		t.Errorf("sent %+v", got[0])
	}
}

func TestPipelineRequestShape(t *testing.T) {
	conn := newFakeConn()
	comp := &fakeCompleter{resp: replyWith("ok")}

	if _, err := newPipeline(conn, comp).Process(context.Background(), userMessage("What is Virto?")); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	reqs := comp.calls()
	if len(reqs) != 1 {
		t.Fatalf("completion calls = %d, want 1", len(reqs))
	}
	req := reqs[0]
	if req.Model != "gpt-4-0125-preview" {
		t.Errorf("Model = %q", req.Model)
	}
	if req.MaxTokens != 4096 {
		t.Errorf("MaxTokens = %d, want 4096", req.MaxTokens)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != RoleUser {
		t.Fatalf("Messages = %+v", req.Messages)
	}
	want := "Reference information: Virto is a protocol.\nUser message: What is Virto?"
	if req.Messages[0].Content != want {
		t.Errorf("Content = %q, want %q", req.Messages[0].Content, want)
	}
}

func TestPipelineMalformedResponses(t *testing.T) {
	tests := []struct {
		name    string
		resp    *CompletionResponse
		wantErr error
	}{
		{"zero choices", &CompletionResponse{ID: "x"}, ErrNoChoices},
		{"nil response", nil, ErrNoChoices},
		{"absent content", &CompletionResponse{Choices: []Choice{{}}}, ErrEmptyCompletion},
		{"empty content", replyWith(""), ErrEmptyCompletion},
		{"whitespace content", replyWith(" \n\t"), ErrEmptyCompletion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := newFakeConn()
			stage, err := newPipeline(conn, &fakeCompleter{resp: tt.resp}).Process(context.Background(), userMessage("hi"))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			var se *StageError
			if !errors.As(err, &se) || se.Stage != StageCompleting {
				t.Errorf("expected StageError at completing, got %v", err)
			}
			if stage != StageFailed {
				t.Errorf("stage = %s, want failed", stage)
			}
			if n := len(conn.sentMessages()); n != 0 {
				t.Errorf("expected no send, got %d", n)
			}
		})
	}
}

func TestPipelineCompletionError(t *testing.T) {
	conn := newFakeConn()
	svcErr := errors.New("429 too many requests")
	_, err := newPipeline(conn, &fakeCompleter{err: svcErr}).Process(context.Background(), userMessage("hi"))
	if !errors.Is(err, svcErr) {
		t.Fatalf("error = %v, want wrapped service error", err)
	}
	if n := len(conn.sentMessages()); n != 0 {
		t.Errorf("expected no send, got %d", n)
	}
}

func TestPipelineDeliveryFailureNotRetried(t *testing.T) {
	conn := newFakeConn()
	conn.sendErr = errTransport
	stage, err := newPipeline(conn, &fakeCompleter{resp: replyWith("answer")}).Process(context.Background(), userMessage("hi"))

	var se *StageError
	if !errors.As(err, &se) || se.Stage != StageReplying {
		t.Fatalf("expected StageError at replying, got %v", err)
	}
	if !errors.Is(err, errTransport) {
		t.Errorf("expected transport error to be wrapped, got %v", err)
	}
	if stage != StageFailed {
		t.Errorf("stage = %s, want failed", stage)
	}
	if n := len(conn.sentMessages()); n != 1 {
		t.Errorf("send attempts = %d, want exactly 1", n)
	}
}

func TestPipelineRejectedMessagesSkipCompletion(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{"not text", Message{RoomID: "!abc:example.org", Sender: "@alice:example.org", RoomState: RoomJoined, Kind: KindOther}},
		{"from self", Message{RoomID: "!abc:example.org", Sender: botID, RoomState: RoomJoined, Kind: KindText, Body: "hi"}},
		{"not joined", Message{RoomID: "!abc:example.org", Sender: "@alice:example.org", RoomState: RoomInvited, Kind: KindText, Body: "hi"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := newFakeConn()
			comp := &fakeCompleter{resp: replyWith("should not be sent")}
			stage, err := newPipeline(conn, comp).Process(context.Background(), tt.msg)
			if err != nil {
				t.Fatalf("rejection must be silent, got %v", err)
			}
			if stage != StageDone {
				t.Errorf("stage = %s, want done", stage)
			}
			if n := len(comp.calls()); n != 0 {
				t.Errorf("completion invoked %d times", n)
			}
			if n := len(conn.sentMessages()); n != 0 {
				t.Errorf("sent %d messages", n)
			}
		})
	}
}

func TestExtractReply(t *testing.T) {
	got, err := ExtractReply(replyWith("Virto is a decentralized protocol."))
	if err != nil {
		t.Fatalf("ExtractReply() error = %v", err)
	}
	if got != "Virto is a decentralized protocol." {
		t.Errorf("ExtractReply() = %q", got)
	}
}
