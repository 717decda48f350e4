package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/upb/biped-api/services/providers"
)

const (
	// DefaultModel is used when neither the handle nor the call names a model
	DefaultModel = "gpt-4"
)

var errEmptyResponse = errors.New("openai returned no choices")

// Adapter implements providers.Client on top of the official OpenAI SDK
type Adapter struct {
	client  sdk.Client
	model   string
	invoker *providers.Invoker
}

// New builds an adapter with its own HTTP transport. It performs no network I/O.
func New(cfg providers.ProviderConfig) (providers.Client, error) {
	return NewAdapter(cfg), nil
}

// NewAdapter creates a new OpenAI adapter
func NewAdapter(cfg providers.ProviderConfig) *Adapter {
	defaults := providers.DefaultProviderConfig()
	if cfg.Timeout == 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
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

	return &Adapter{
		client:  sdk.NewClient(opts...),
		model:   cfg.Model,
		invoker: providers.NewInvoker(providers.OpenAI, cfg),
	}
}

// CompleteText uses the legacy completions endpoint
func (a *Adapter) CompleteText(ctx context.Context, prompt string, opts providers.Options) providers.CallResult {
	return a.invoker.Invoke(ctx, func(ctx context.Context) (providers.Completion, error) {
		params := sdk.CompletionNewParams{
			Model:            sdk.CompletionNewParamsModel(opts.ModelOr(a.model)),
			Prompt:           sdk.CompletionNewParamsPromptUnion{OfString: sdk.String(prompt)},
			MaxTokens:        sdk.Int(opts.MaxTokensOr()),
			Temperature:      sdk.Float(opts.TemperatureOr()),
			TopP:             sdk.Float(opts.TopPOr()),
			FrequencyPenalty: sdk.Float(valueOr(opts.FrequencyPenalty)),
			PresencePenalty:  sdk.Float(valueOr(opts.PresencePenalty)),
		}

		if opts.Stream {
			return a.streamText(ctx, params)
		}

		resp, err := a.client.Completions.New(ctx, params)
		if err != nil {
			return providers.Completion{}, err
		}
		if len(resp.Choices) == 0 {
			return providers.Completion{}, errEmptyResponse
		}

		return providers.Completion{
			Text:       strings.TrimSpace(resp.Choices[0].Text),
			Model:      resp.Model,
			TokensUsed: tokens(resp.Usage.TotalTokens),
		}, nil
	})
}

// CompleteChat uses chat completions
func (a *Adapter) CompleteChat(ctx context.Context, messages []providers.Message, opts providers.Options) providers.CallResult {
	return a.invoker.Invoke(ctx, func(ctx context.Context) (providers.Completion, error) {
		params := sdk.ChatCompletionNewParams{
			Model:            opts.ModelOr(a.model),
			Messages:         convertMessages(messages),
			MaxTokens:        sdk.Int(opts.MaxTokensOr()),
			Temperature:      sdk.Float(opts.TemperatureOr()),
			TopP:             sdk.Float(opts.TopPOr()),
			FrequencyPenalty: sdk.Float(valueOr(opts.FrequencyPenalty)),
			PresencePenalty:  sdk.Float(valueOr(opts.PresencePenalty)),
		}

		if opts.Stream {
			return a.streamChat(ctx, params)
		}

		resp, err := a.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return providers.Completion{}, err
		}
		if len(resp.Choices) == 0 {
			return providers.Completion{}, errEmptyResponse
		}

		return providers.Completion{
			Text:       resp.Choices[0].Message.Content,
			Model:      resp.Model,
			TokensUsed: tokens(resp.Usage.TotalTokens),
		}, nil
	})
}

func (a *Adapter) streamChat(ctx context.Context, params sdk.ChatCompletionNewParams) (providers.Completion, error) {
	params.StreamOptions = sdk.ChatCompletionStreamOptionsParam{IncludeUsage: sdk.Bool(true)}

	stream := a.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	acc := sdk.ChatCompletionAccumulator{}
	for stream.Next() {
		acc.AddChunk(stream.Current())
	}
	if err := stream.Err(); err != nil {
		return providers.Completion{}, err
	}
	if len(acc.Choices) == 0 {
		return providers.Completion{}, errEmptyResponse
	}

	return providers.Completion{
		Text:       acc.Choices[0].Message.Content,
		Model:      acc.Model,
		TokensUsed: tokens(acc.Usage.TotalTokens),
	}, nil
}

func (a *Adapter) streamText(ctx context.Context, params sdk.CompletionNewParams) (providers.Completion, error) {
	stream := a.client.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var (
		text  strings.Builder
		model string
		used  int64
	)
	for stream.Next() {
		chunk := stream.Current()
		if chunk.Model != "" {
			model = chunk.Model
		}
		if len(chunk.Choices) > 0 {
			text.WriteString(chunk.Choices[0].Text)
		}
		if chunk.Usage.TotalTokens > 0 {
			used = chunk.Usage.TotalTokens
		}
	}
	if err := stream.Err(); err != nil {
		return providers.Completion{}, err
	}

	return providers.Completion{
		Text:       strings.TrimSpace(text.String()),
		Model:      model,
		TokensUsed: tokens(used),
	}, nil
}

func convertMessages(messages []providers.Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, sdk.SystemMessage(m.Content))
		case "assistant":
			out = append(out, sdk.AssistantMessage(m.Content))
		default:
			out = append(out, sdk.UserMessage(m.Content))
		}
	}
	return out
}

func valueOr(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func tokens(n int64) *int64 {
	if n <= 0 {
		return nil
	}
	return &n
}
