package flow

import (
	"context"
	"fmt"
	"strings"

	"github.com/BTreeMap/Enkidu/internal/dimension"
	"github.com/BTreeMap/Enkidu/internal/genai"
	"github.com/BTreeMap/Enkidu/internal/models"
	"github.com/openai/openai-go"
)

// LLMClassifier asks the model which dimension a message belongs to.
type LLMClassifier struct {
	Client genai.ClientInterface
}

// ClassifyDimension returns the raw label the model answered with.
func (c *LLMClassifier) ClassifyDimension(ctx context.Context, text string) (string, error) {
	var b strings.Builder
	b.WriteString("Identify the dimension the following message best aligns with.\n")
	b.WriteString("Return one and only one of these dimensions:\n")
	for _, label := range dimension.Labels() {
		fmt.Fprintf(&b, "- %s\n", label)
	}
	b.WriteString("Respond ONLY with the dimension name without extra text.")

	out, err := c.Client.GeneratePromptWithContext(ctx, b.String(), fmt.Sprintf("Message: %q", text))
	if err != nil {
		return "", fmt.Errorf("classify dimension: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// LLMComposer writes replies from a ReplyPrompt, replaying recent turns as chat messages.
type LLMComposer struct {
	Client genai.ClientInterface
}

// ComposeReply generates the reply text.
func (c *LLMComposer) ComposeReply(ctx context.Context, p ReplyPrompt) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(p.RecentTurns)+2)
	messages = append(messages, openai.SystemMessage(p.SystemPrompt()))
	for _, t := range p.RecentTurns {
		// assistant turns in History are operator check-ins; composed replies are not recorded
		if t.Sender == models.SenderAssistant {
			messages = append(messages, openai.AssistantMessage(t.Text))
		} else {
			messages = append(messages, openai.UserMessage(t.Text))
		}
	}
	messages = append(messages, openai.UserMessage(p.Message))

	out, err := c.Client.GenerateWithMessages(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("compose reply: %w", err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("compose reply: %w", genai.ErrNoChoicesReturned)
	}
	return out, nil
}

// LLMSummarizer condenses a dimension's user turns into a short theme summary.
type LLMSummarizer struct {
	Client genai.ClientInterface
}

// Summarize returns a summary of joinedText for the dimension label.
func (s *LLMSummarizer) Summarize(ctx context.Context, label, joinedText string) (string, error) {
	system := fmt.Sprintf("Summarize in two sentences what this person has shared about %s. "+
		"Write in the third person and keep only recurring themes and concrete details.", label)
	out, err := s.Client.GeneratePromptWithContext(ctx, system, joinedText)
	if err != nil {
		return "", fmt.Errorf("summarize %s: %w", label, err)
	}
	return strings.TrimSpace(out), nil
}
