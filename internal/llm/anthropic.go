package llm

import (
	"context"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type anthropicProvider struct {
	sdk  anthropic.Client
	opts Options
}

func newAnthropic(cfg Config) *anthropicProvider {
	return &anthropicProvider{
		sdk:  anthropic.NewClient(option.WithAPIKey(strings.TrimSpace(cfg.AnthropicAPIKey))),
		opts: cfg.Options,
	}
}

func (p *anthropicProvider) params(msgs []Message) anthropic.MessageNewParams {
	var system []anthropic.TextBlockParam
	var converted []anthropic.MessageParam
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case RoleAssistant:
			converted = append(converted, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			converted = append(converted, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	maxTokens := int64(p.opts.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(p.opts.Model),
		Messages:    converted,
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(p.opts.Temperature),
	}
	if len(system) > 0 {
		params.System = system
	}
	return params
}

func (p *anthropicProvider) timeoutCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.opts.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.opts.Timeout)
}

func (p *anthropicProvider) Invoke(ctx context.Context, msgs []Message) (string, error) {
	ctx, cancel := p.timeoutCtx(ctx)
	defer cancel()

	resp, err := p.sdk.Messages.New(ctx, p.params(msgs))
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(text.Text)
		}
	}
	return sb.String(), nil
}

func (p *anthropicProvider) Stream(ctx context.Context, msgs []Message, onToken func(string) error) error {
	ctx, cancel := p.timeoutCtx(ctx)
	defer cancel()

	stream := p.sdk.Messages.NewStreaming(ctx, p.params(msgs))
	defer func() { _ = stream.Close() }()

	for stream.Next() {
		event := stream.Current()
		if ev, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				if err := onToken(delta.Text); err != nil {
					return err
				}
			}
		}
	}
	return stream.Err()
}
