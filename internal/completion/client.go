package completion

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"github.com/autopost/internal/logging"
)

// Client routes calls to a primary connector and an optional fast one.
// Classification always prefers the fast connector at temperature 0.
type Client struct {
	primary *Connector
	fast    *Connector
}

func NewClient(primary, fast *Connector) *Client {
	return &Client{primary: primary, fast: fast}
}

func (c *Client) pick(preferFast bool) *Connector {
	if preferFast && c.fast != nil {
		return c.fast
	}
	if c.primary != nil {
		return c.primary
	}
	return c.fast
}

func (c *Client) Classify(ctx context.Context, prompt string) (string, error) {
	conn := c.pick(true)
	if conn == nil {
		return "", ErrNoModel
	}
	runLog := logging.GetCurrentLogger()
	runLog.LogRequest("classify", conn.Model(), prompt)

	out, err := conn.Call(ctx, prompt, llms.WithTemperature(0))
	if err != nil {
		log.Debug().Err(err).Str("provider", string(conn.Provider())).Msg("classification call failed")
		return "", fmt.Errorf("classify via %s: %w", conn.Provider(), err)
	}
	runLog.LogResponse("classify", out)
	return out, nil
}

func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	conn := c.pick(req.PreferFast)
	if conn == nil {
		return "", ErrNoModel
	}

	var opts []llms.CallOption
	if req.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(req.Temperature))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	model := conn.Model()
	if req.Model != "" {
		opts = append(opts, llms.WithModel(req.Model))
		model = req.Model
	}

	runLog := logging.GetCurrentLogger()
	if runLog != nil {
		runLog.LogRequest("generate", model, renderMessages(req.Messages))
	}

	out, err := conn.Chat(ctx, req.Messages, opts...)
	if err != nil {
		return "", fmt.Errorf("generate via %s/%s: %w", conn.Provider(), model, err)
	}
	runLog.LogResponse("generate", out)
	return out, nil
}

func renderMessages(msgs []Message) string {
	var s string
	for _, m := range msgs {
		s += "[" + string(m.Role) + "] " + m.Content + "\n"
	}
	return s
}
