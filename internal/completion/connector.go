package completion

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/cohere"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
)

type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
	ProviderClaude Provider = "claude"
	ProviderCohere Provider = "cohere"
	ProviderOllama Provider = "ollama"
)

type ModelConfig struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

type ConnectorOptions struct {
	Provider    Provider
	APIKey      string
	BaseURL     string
	ModelConfig ModelConfig
}

// Connector is one configured provider model.
type Connector struct {
	provider Provider
	llm      llms.Model
	options  ConnectorOptions
}

func NewConnector(ctx context.Context, options ConnectorOptions) (*Connector, error) {
	log.Debug().
		Str("provider", string(options.Provider)).
		Str("model", options.ModelConfig.Model).
		Msg("Creating completion connector")

	var model llms.Model
	var err error
	switch options.Provider {
	case ProviderOpenAI:
		opts := []openai.Option{openai.WithModel(options.ModelConfig.Model), openai.WithToken(options.APIKey)}
		if options.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(options.BaseURL))
		}
		model, err = openai.New(opts...)
	case ProviderGemini:
		opts := []googleai.Option{googleai.WithAPIKey(options.APIKey)}
		if options.ModelConfig.Model != "" {
			opts = append(opts, googleai.WithDefaultModel(options.ModelConfig.Model))
		}
		model, err = googleai.New(ctx, opts...)
	case ProviderClaude:
		model, err = anthropic.New(anthropic.WithToken(options.APIKey), anthropic.WithModel(options.ModelConfig.Model))
	case ProviderCohere:
		opts := []cohere.Option{cohere.WithToken(options.APIKey), cohere.WithModel(options.ModelConfig.Model)}
		if options.BaseURL != "" {
			opts = append(opts, cohere.WithBaseURL(options.BaseURL))
		}
		model, err = cohere.New(opts...)
	case ProviderOllama:
		baseURL := options.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		model, err = ollama.New(ollama.WithServerURL(baseURL), ollama.WithModel(options.ModelConfig.Model))
	default:
		return nil, fmt.Errorf("unsupported provider: %s", options.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create model for provider %s: %w", options.Provider, err)
	}
	return NewConnectorWithModel(options, model), nil
}

// NewConnectorWithModel wraps an existing langchaingo model.
func NewConnectorWithModel(options ConnectorOptions, model llms.Model) *Connector {
	return &Connector{provider: options.Provider, llm: model, options: options}
}

func (c *Connector) Provider() Provider { return c.provider }
func (c *Connector) Model() string      { return c.options.ModelConfig.Model }

// Call sends a single prompt with the connector defaults applied first.
func (c *Connector) Call(ctx context.Context, input string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, c.llm, input, c.callOptions(options)...)
}

// Chat sends a message list and returns the first choice.
func (c *Connector) Chat(ctx context.Context, messages []Message, options ...llms.CallOption) (string, error) {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		content = append(content, llms.TextParts(chatType(m.Role), m.Content))
	}
	resp, err := c.llm.GenerateContent(ctx, content, c.callOptions(options)...)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Content, nil
}

func (c *Connector) callOptions(extra []llms.CallOption) []llms.CallOption {
	opts := []llms.CallOption{llms.WithTemperature(c.options.ModelConfig.Temperature)}
	if c.options.ModelConfig.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(c.options.ModelConfig.MaxTokens))
	}
	// Gemini ignores the constructor default unless the model is set per call.
	if c.provider == ProviderGemini && c.options.ModelConfig.Model != "" {
		opts = append(opts, llms.WithModel(c.options.ModelConfig.Model))
	}
	return append(opts, extra...)
}

func chatType(r Role) schema.ChatMessageType {
	switch r {
	case RoleSystem:
		return schema.ChatMessageTypeSystem
	case RoleAssistant:
		return schema.ChatMessageTypeAI
	default:
		return schema.ChatMessageTypeHuman
	}
}
