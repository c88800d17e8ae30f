// Package engines asks AI answer engines questions and classifies how a brand
// shows up in their answers.
package engines

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"

	"github.com/visiscope/visiscope/pkg/whttp"
)

// Engine answers a free-text question.
type Engine interface {
	Name() string
	Ask(ctx context.Context, question string) (string, error)
}

// Config describes one OpenAI-compatible chat-completion endpoint. Any
// provider that speaks that wire format (OpenAI, Perplexity, Mistral, a local
// gateway) can be configured as an engine.
type Config struct {
	Name         string        `mapstructure:"name"`
	Endpoint     string        `mapstructure:"endpoint"`
	Model        string        `mapstructure:"model"`
	APIKey       string        `mapstructure:"api_key"`
	SystemPrompt string        `mapstructure:"system_prompt"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Retries      int           `mapstructure:"retries"`
	Proxy        string        `mapstructure:"proxy"`
}

const (
	defaultName     = "openai"
	defaultModel    = "gpt-4.1-mini"
	defaultEndpoint = "https://api.openai.com/v1/chat/completions"
	defaultTimeout  = 60 * time.Second
	defaultRetries  = 2
)

const defaultSystemPrompt = `You are a helpful assistant answering questions from people researching products and services.
Answer directly. When relevant, name specific companies, products or websites and say which you would recommend first.`

// OpenAI is an Engine backed by a chat-completions endpoint.
type OpenAI struct {
	name         string
	endpoint     string
	model        string
	apiKey       string
	systemPrompt string
	client       *retryablehttp.Client
}

// NewOpenAI validates cfg and fills in defaults.
func NewOpenAI(cfg Config) (*OpenAI, error) {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = defaultName
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("engine %q requires an API key (set api_key in its config entry)", name)
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = defaultEndpoint
	}

	prompt := strings.TrimSpace(cfg.SystemPrompt)
	if prompt == "" {
		prompt = defaultSystemPrompt
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retries := cfg.Retries
	if retries <= 0 {
		retries = defaultRetries
	}

	client, err := whttp.NewClient(whttp.ClientOptions{Timeout: timeout, RetryMax: retries, Proxy: cfg.Proxy})
	if err != nil {
		return nil, fmt.Errorf("engine %q: %w", name, err)
	}

	return &OpenAI{
		name:         name,
		endpoint:     endpoint,
		model:        model,
		apiKey:       apiKey,
		systemPrompt: prompt,
		client:       client,
	}, nil
}

func (e *OpenAI) Name() string { return e.name }

// Ask sends question as the user turn and returns the first choice's text.
func (e *OpenAI) Ask(ctx context.Context, question string) (string, error) {
	reqBody := chatRequest{
		Model: e.model,
		Messages: []chatMessage{
			{Role: "system", Content: e.systemPrompt},
			{Role: "user", Content: question},
		},
		Temperature: 0.2,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	res, err := whttp.SendHTTPRequest(ctx, &whttp.WHTTPReq{
		URL:    e.endpoint,
		Method: http.MethodPost,
		Body:   bytes.NewReader(bodyBytes),
		Headers: []whttp.WHTTPHeader{
			{Name: "Authorization", Value: "Bearer " + e.apiKey},
			{Name: "Content-Type", Value: "application/json"},
		},
	}, e.client)
	if err != nil {
		return "", err
	}

	if res.StatusCode >= 300 {
		if msg := gjson.Get(res.BodyString, "error.message").String(); msg != "" {
			return "", fmt.Errorf("%s: %s", e.name, msg)
		}
		return "", fmt.Errorf("%s: request failed with HTTP %d", e.name, res.StatusCode)
	}

	if !gjson.Valid(res.BodyString) {
		return "", fmt.Errorf("%s: response is not valid JSON", e.name)
	}
	content := strings.TrimSpace(gjson.Get(res.BodyString, "choices.0.message.content").String())
	if content == "" {
		return "", errors.New(e.name + ": empty response")
	}
	return content, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
