// Package ai is the boundary to the inference service. The core treats the
// model as an opaque, retryable, side-effect-free function: a structured
// prompt goes in, a structured reply comes out, or the call fails with
// ErrNoOutput. Callers own prompt assembly and reply validation.
package ai

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"
)

// ErrNoOutput is returned when the inference service produced no usable
// output. Callers may safely retry: no state is committed before a call
// succeeds.
var ErrNoOutput = errors.New("inference service returned no output")

// Request is a single prompt round trip.
type Request struct {
	System string
	User   string
	// JSONOnly constrains the reply to a single JSON object.
	JSONOnly bool
}

// Client is the inference service contract. It is injected into the
// interviewer, the refinement engine, and the progress monitor so test
// doubles can be substituted per test.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// OpenAIClient calls the OpenAI chat completion API.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	return &OpenAIClient{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	chatReq := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
		Temperature: 0.2,
	}
	if req.JSONOnly {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrNoOutput
	}
	return resp.Choices[0].Message.Content, nil
}
