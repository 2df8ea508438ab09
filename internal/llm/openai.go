package llm

import (
	"context"
	"strings"

	openai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

type openaiProvider struct {
	sdk  openai.Client
	opts Options
}

func newOpenAI(cfg Config) *openaiProvider {
	return &openaiProvider{
		sdk:  openai.NewClient(option.WithAPIKey(strings.TrimSpace(cfg.OpenAIAPIKey))),
		opts: cfg.Options,
	}
}

func (p *openaiProvider) params(msgs []Message) openai.ChatCompletionNewParams {
	converted := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			converted = append(converted, openai.SystemMessage(m.Content))
		case RoleAssistant:
			converted = append(converted, openai.AssistantMessage(m.Content))
		default:
			converted = append(converted, openai.UserMessage(m.Content))
		}
	}
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(p.opts.Model),
		Messages:    converted,
		Temperature: openai.Float(p.opts.Temperature),
	}
	if p.opts.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(p.opts.MaxTokens))
	}
	return params
}

func (p *openaiProvider) timeoutCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.opts.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.opts.Timeout)
}

func (p *openaiProvider) Invoke(ctx context.Context, msgs []Message) (string, error) {
	ctx, cancel := p.timeoutCtx(ctx)
	defer cancel()

	comp, err := p.sdk.Chat.Completions.New(ctx, p.params(msgs))
	if err != nil {
		return "", err
	}
	if len(comp.Choices) == 0 {
		return "", nil
	}
	return comp.Choices[0].Message.Content, nil
}

func (p *openaiProvider) Stream(ctx context.Context, msgs []Message, onToken func(string) error) error {
	ctx, cancel := p.timeoutCtx(ctx)
	defer cancel()

	stream := p.sdk.Chat.Completions.NewStreaming(ctx, p.params(msgs))
	defer func() { _ = stream.Close() }()

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			if err := onToken(delta); err != nil {
				return err
			}
		}
	}
	return stream.Err()
}
