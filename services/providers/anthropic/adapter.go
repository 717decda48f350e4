// Package anthropic adapts the Anthropic Messages API to providers.Client.
package anthropic

import (
	"context"
	"errors"
	"net/http"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/upb/biped-api/services/providers"
)

const (
	// DefaultModel is used when neither the handle nor the call names a model
	DefaultModel = "claude-3-sonnet-20240229"
)

var errEmptyResponse = errors.New("anthropic returned no text content")

// MessagesClient is the subset of the SDK the adapter uses.
// *sdk.MessageService satisfies it.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Adapter implements providers.Client for Anthropic
type Adapter struct {
	msg     MessagesClient
	model   string
	invoker *providers.Invoker
}

// New builds an adapter with its own HTTP transport. It performs no network I/O.
func New(cfg providers.ProviderConfig) (providers.Client, error) {
	defaults := providers.DefaultProviderConfig()
	if cfg.Timeout == 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(&http.Client{}),
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	client := sdk.NewClient(opts...)
	return NewAdapter(&client.Messages, cfg), nil
}

// NewAdapter wraps an existing messages client
func NewAdapter(msg MessagesClient, cfg providers.ProviderConfig) *Adapter {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &Adapter{
		msg:     msg,
		model:   model,
		invoker: providers.NewInvoker(providers.Anthropic, cfg),
	}
}

// CompleteText sends the prompt as a single user message
func (a *Adapter) CompleteText(ctx context.Context, prompt string, opts providers.Options) providers.CallResult {
	return a.CompleteChat(ctx, []providers.Message{{Role: "user", Content: prompt}}, opts)
}

// CompleteChat calls the Messages API. System messages become the system prompt.
// Frequency and presence penalties have no Anthropic equivalent and are ignored.
func (a *Adapter) CompleteChat(ctx context.Context, messages []providers.Message, opts providers.Options) providers.CallResult {
	return a.invoker.Invoke(ctx, func(ctx context.Context) (providers.Completion, error) {
		params := a.buildParams(messages, opts)

		var (
			msg *sdk.Message
			err error
		)
		if opts.Stream {
			msg, err = a.stream(ctx, params)
		} else {
			msg, err = a.msg.New(ctx, params)
		}
		if err != nil {
			return providers.Completion{}, err
		}

		return toCompletion(msg)
	})
}

func (a *Adapter) buildParams(messages []providers.Message, opts providers.Options) sdk.MessageNewParams {
	var (
		system []sdk.TextBlockParam
		turns  = make([]sdk.MessageParam, 0, len(messages))
	)
	for _, m := range messages {
		switch m.Role {
		case "system":
			system = append(system, sdk.TextBlockParam{Text: m.Content})
		case "assistant":
			turns = append(turns, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		default:
			turns = append(turns, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		}
	}

	params := sdk.MessageNewParams{
		Model:       sdk.Model(opts.ModelOr(a.model)),
		MaxTokens:   opts.MaxTokensOr(),
		Messages:    turns,
		Temperature: sdk.Float(opts.TemperatureOr()),
	}
	if len(system) > 0 {
		params.System = system
	}
	if opts.TopP != nil {
		params.TopP = sdk.Float(*opts.TopP)
	}
	return params
}

func (a *Adapter) stream(ctx context.Context, params sdk.MessageNewParams) (*sdk.Message, error) {
	stream := a.msg.NewStreaming(ctx, params)
	defer stream.Close()

	msg := sdk.Message{}
	for stream.Next() {
		if err := msg.Accumulate(stream.Current()); err != nil {
			return nil, err
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}
	return &msg, nil
}

func toCompletion(msg *sdk.Message) (providers.Completion, error) {
	if msg == nil {
		return providers.Completion{}, errEmptyResponse
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return providers.Completion{}, errEmptyResponse
	}

	var used *int64
	if total := msg.Usage.InputTokens + msg.Usage.OutputTokens; total > 0 {
		used = &total
	}

	return providers.Completion{
		Text:       text.String(),
		Model:      string(msg.Model),
		TokensUsed: used,
	}, nil
}
