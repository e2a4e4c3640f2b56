package bot

import "context"

// RoleUser is the only role the bot ever sends.
const RoleUser = "user"

// ChatMessage is one entry of a completion request.
type ChatMessage struct {
	Role    string
	Content string
}

// CompletionRequest is what the completion service receives.
type CompletionRequest struct {
	Model     string
	Messages  []ChatMessage
	MaxTokens int
}

// Choice is one candidate answer. Content is nil when the service sent none.
type Choice struct {
	Content      *string
	FinishReason string
}

// Usage is the token accounting reported with a response.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

// CompletionResponse carries the ordered choices plus response metadata.
type CompletionResponse struct {
	ID        string
	Model     string
	RequestID string
	Choices   []Choice
	Usage     Usage
}

// Completer calls the completion service.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
