package bot

import (
	"errors"
	"fmt"
	"os"
)

const (
	referenceLabel = "Reference information: "
	messageLabel   = "User message: "
)

// Prompt is the single text blob sent to the completion service. It is built
// once per message and never modified.
type Prompt struct{ text string }

func (p Prompt) String() string { return p.text }

// BuildPrompt puts the reference document first and the user's message second.
func BuildPrompt(reference, message string) Prompt {
	return Prompt{text: referenceLabel + reference + "\n" + messageLabel + message}
}

// LoadReference reads the reference document. Callers treat any error as fatal at startup.
func LoadReference(path string) (string, error) {
	if path == "" {
		return "", errors.New("reference document path is empty")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read reference document: %w", err)
	}
	return string(b), nil
}
