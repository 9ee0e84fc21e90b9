package cohere

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	cohere "github.com/cohere-ai/cohere-go/v2"
	cohereclient "github.com/cohere-ai/cohere-go/v2/client"
	"github.com/rotisserie/eris"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "command-r-plus"

const preamble = "You are a building-code consultant. Reply with one valid JSON object only, without markdown fences."

// Client is a text-only model for the recommendation consolidation call.
type Client struct {
	client *cohereclient.Client
	model  string
}

func NewClient(apiKey, model string) *Client {
	if model == "" {
		model = DefaultModel
	}
	// force HTTP/1.1, the chat endpoint resets HTTP/2 streams on long prompts
	httpClient := &http.Client{
		Timeout: 120 * time.Second,
		Transport: &http.Transport{
			TLSNextProto:      make(map[string]func(authority string, c *tls.Conn) http.RoundTripper),
			ForceAttemptHTTP2: false,
		},
	}
	return &Client{
		client: cohereclient.NewClient(
			cohereclient.WithToken(apiKey),
			cohereclient.WithHTTPClient(httpClient),
		),
		model: model,
	}
}

// Generate implements the model port for prompts without an attached image.
func (c *Client) Generate(ctx context.Context, prompt string, image []byte) (string, error) {
	if len(image) > 0 {
		return "", eris.New("cohere client does not accept images")
	}
	model, pre := c.model, preamble
	resp, err := c.client.Chat(ctx, &cohere.ChatRequest{
		Message:  prompt,
		Model:    &model,
		Preamble: &pre,
	})
	if err != nil {
		return "", eris.Wrap(err, "cohere chat")
	}
	if resp == nil || resp.Text == "" {
		return "", eris.New("cohere chat returned empty response")
	}
	return resp.Text, nil
}
