package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/virto-network/reference-bot/telemetry"
)

// MaxTokens caps every completion request.
const MaxTokens = 4096

var (
	// ErrNoChoices means the completion response carried an empty choice list.
	ErrNoChoices = errors.New("completion returned no choices")
	// ErrEmptyCompletion means the first choice had no text.
	ErrEmptyCompletion = errors.New("completion returned empty content")
)

// Stage names a step of the per-message state machine:
// received → filtered → prompted → completing → replying → done, or failed.
type Stage string

const (
	StageReceived   Stage = "received"
	StageFiltered   Stage = "filtered"
	StagePrompted   Stage = "prompted"
	StageCompleting Stage = "completing"
	StageReplying   Stage = "replying"
	StageDone       Stage = "done"
	StageFailed     Stage = "failed"
)

// StageError reports the stage at which a message failed.
type StageError struct {
	Stage Stage
	Room  string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("message in %s failed while %s: %v", e.Room, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Pipeline answers eligible messages with a completion built on the reference document.
type Pipeline struct {
	Transport Transport
	Completer Completer
	Model     string
	Reference string // read once at startup, shared read-only
}

// Handle is the HandlerFunc registered for EventMessage.
func (p *Pipeline) Handle(ctx context.Context, ev Event) error {
	if ev.Message == nil {
		return nil
	}
	_, err := p.Process(ctx, *ev.Message)
	return err
}

// Process runs one message through the pipeline and returns the stage it ended in.
// Rejected messages end in StageDone with no error. Nothing is retried.
func (p *Pipeline) Process(ctx context.Context, msg Message) (Stage, error) {
	if v := Filter(msg, p.Transport.OwnIdentity()); v != Eligible {
		telemetry.CountMessage("rejected")
		return StageDone, nil
	}
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("room", msg.RoomID), slog.String("component", "pipeline"))
	logger.Debug("user message received", slog.String("sender", msg.Sender), slog.Int("length", len(msg.Body)))

	ctx, span := telemetry.StartSpan(ctx, tracerName, "message.reply",
		attribute.String("room_id", msg.RoomID),
		attribute.String("model", p.Model))
	defer span.End()

	prompt := BuildPrompt(p.Reference, msg.Body)

	reply, err := p.complete(ctx, prompt, logger)
	if err != nil {
		return p.fail(span, logger, &StageError{Stage: StageCompleting, Room: msg.RoomID, Err: err})
	}

	var sendErr error
	telemetry.TimeFunc(telemetry.DeliveryDuration, func() {
		sendErr = p.Transport.SendText(ctx, msg.RoomID, reply)
	})
	if sendErr != nil {
		return p.fail(span, logger, &StageError{Stage: StageReplying, Room: msg.RoomID, Err: sendErr})
	}

	telemetry.CountMessage("replied")
	telemetry.SetSpanSuccess(span)
	logger.Info("reply sent", slog.Int("length", len(reply)))
	return StageDone, nil
}

func (p *Pipeline) complete(ctx context.Context, prompt Prompt, logger *slog.Logger) (string, error) {
	req := CompletionRequest{
		Model:     p.Model,
		Messages:  []ChatMessage{{Role: RoleUser, Content: prompt.String()}},
		MaxTokens: MaxTokens,
	}
	start := time.Now()
	resp, err := p.Completer.Complete(ctx, req)
	if telemetry.CompletionDuration != nil {
		telemetry.CompletionDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", ErrNoChoices
	}
	telemetry.AddTokens(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	logger.Debug("completion received",
		slog.String("response_id", resp.ID),
		slog.String("request_id", resp.RequestID),
		slog.String("model", resp.Model),
		slog.Int("choices", len(resp.Choices)),
		slog.Int64("total_tokens", resp.Usage.TotalTokens))
	return ExtractReply(resp)
}

func (p *Pipeline) fail(span trace.Span, logger *slog.Logger, err *StageError) (Stage, error) {
	telemetry.CountMessage("failed")
	telemetry.CountFailure(string(err.Stage))
	telemetry.RecordError(span, err)
	logger.Error("error processing message", slog.String("stage", string(err.Stage)), slog.Any("err", err.Err))
	return StageFailed, err
}

// ExtractReply returns the first choice's text. A missing choice list or a
// blank first choice is an error rather than an empty reply.
func ExtractReply(resp *CompletionResponse) (string, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	c := resp.Choices[0].Content
	if c == nil || strings.TrimSpace(*c) == "" {
		return "", ErrEmptyCompletion
	}
	return *c, nil
}
