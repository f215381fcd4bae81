package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"companion-core/internal/logger"
)

// systemPrompt frames every normal completion call.
const systemPrompt = `You are a supportive mental-health companion. Listen with empathy, ` +
	`validate the user's feelings, and suggest gentle, practical coping steps. ` +
	`You are not a clinician: never diagnose, never prescribe, and encourage ` +
	`professional help where appropriate. Keep replies warm and under 150 words.`

// crisisPromptFormat frames crisis-mode calls; the severity tier is
// interpolated so the model can calibrate urgency.
const crisisPromptFormat = `The user may be in crisis (assessed severity: %s). Respond with ` +
	`calm, non-judgmental support. Acknowledge their pain, tell them they are ` +
	`not alone, and point them to the 988 Suicide & Crisis Lifeline (call or ` +
	`text 988). Do not lecture and do not dismiss. Keep the reply short.`

// OpenAI is the CompletionProvider backed by the OpenAI chat completion API.
// API credentials are read from OPENAI_API_KEY; a missing key is reported as
// ErrNotConfigured on first use rather than at construction, so the rest of
// the pipeline still comes up with the deterministic responder as backstop.
type OpenAI struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	log     *logger.Logger
}

// NewOpenAI constructs the OpenAI provider. model and timeout fall back to
// sensible defaults when zero.
func NewOpenAI(model string, timeout time.Duration, log *logger.Logger) *OpenAI {
	if model == "" {
		model = "gpt-4o-mini"
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	p := &OpenAI{model: model, timeout: timeout, log: log}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		p.client = openai.NewClient(key)
	}
	return p
}

// Generate implements CompletionProvider.
func (p *OpenAI) Generate(ctx context.Context, message string, history []Message) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	for _, m := range history {
		role := openai.ChatMessageRoleUser
		if m.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: message,
	})
	return p.complete(ctx, msgs)
}

// GenerateCrisisReply implements CompletionProvider. History is deliberately
// omitted: crisis replies respond to the current message only.
func (p *OpenAI) GenerateCrisisReply(ctx context.Context, message, severity string) (string, error) {
	msgs := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf(crisisPromptFormat, severity)},
		{Role: openai.ChatMessageRoleUser, Content: message},
	}
	return p.complete(ctx, msgs)
}

func (p *OpenAI) complete(ctx context.Context, msgs []openai.ChatCompletionMessage) (string, error) {
	if p.client == nil {
		return "", ErrNotConfigured
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    msgs,
		Temperature: 0.4,
	})
	if err != nil {
		return "", p.classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty completion", ErrServerError)
	}
	return resp.Choices[0].Message.Content, nil
}

// classify maps go-openai errors onto the package taxonomy.
func (p *OpenAI) classify(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch {
	case status == 429:
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	case status >= 500:
		return fmt.Errorf("%w: %v", ErrServerError, err)
	case status == 400 || status == 401 || status == 403 || status == 404 || status == 422:
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: timeout: %v", ErrUnavailable, err)
	default:
		if p.log != nil {
			p.log.Debugf("classify", "unmapped provider error: %v", err)
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}
