package slides

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"strings"

	anthropicclient "github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	openaiclient "github.com/openai/openai-go/v2"
	openaioption "github.com/openai/openai-go/v2/option"
	appcfg "github.com/slidecraft/server/internal/config"
	jetai "go.jetify.com/ai"
	jetapi "go.jetify.com/ai/api"
	jetanthropic "go.jetify.com/ai/provider/anthropic"
	jetopenai "go.jetify.com/ai/provider/openai"
)

const (
	geminiOpenAIEndpoint = "https://generativelanguage.googleapis.com/v1beta/openai"
	defaultOpenAIModel   = "gpt-4o-mini"
	defaultClaudeModel   = "claude-haiku-4-5-20251001"
)

// CompletionRequest is one single-turn prompt to the text model.
type CompletionRequest struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
	TopP        float64
	TopK        int
}

// Completer produces the raw text answer for a prompt.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	Model() string
}

// UpstreamError carries the HTTP status returned by the provider.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("llm upstream error (%d): %s", e.StatusCode, e.Message)
}

// NewCompleter builds the client for the configured provider type.
func NewCompleter(cfg appcfg.LLMConfig) (Completer, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("llm api key is empty")
	}
	client := &http.Client{Timeout: cfg.Timeout}

	switch appcfg.NormalizeProviderType(cfg.Type) {
	case "gemini":
		endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
		if endpoint == "" {
			endpoint = geminiOpenAIEndpoint
		}
		oc := openaiclient.NewClient(
			openaioption.WithAPIKey(apiKey),
			openaioption.WithBaseURL(endpoint),
			openaioption.WithHTTPClient(client),
			openaioption.WithMaxRetries(0),
		)
		return &openaiChat{client: oc, model: cfg.Model}, nil
	case "openai-compatible":
		model := strings.TrimSpace(cfg.Model)
		if model == "" {
			model = defaultOpenAIModel
		}
		return &chatCompletions{
			url:      normalizeOpenAICompatibleEndpoint(cfg.Endpoint) + "/v1/chat/completions",
			apiKey:   apiKey,
			model:    model,
			sendTopK: true,
			client:   client,
		}, nil
	case "openai", "anthropic":
		return newJetCompleter(cfg)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Type)
	}
}

// openaiChat calls Chat Completions through openai-go. Gemini is served
// through its OpenAI compatibility layer, which has no top_k field.
type openaiChat struct {
	client openaiclient.Client
	model  string
}

func (o *openaiChat) Model() string { return o.model }

func (o *openaiChat) Complete(ctx context.Context, in CompletionRequest) (string, error) {
	messages := make([]openaiclient.ChatCompletionMessageParamUnion, 0, 2)
	if strings.TrimSpace(in.System) != "" {
		messages = append(messages, openaiclient.SystemMessage(in.System))
	}
	messages = append(messages, openaiclient.UserMessage(in.Prompt))

	params := openaiclient.ChatCompletionNewParams{
		Model:    o.model,
		Messages: messages,
	}
	if in.MaxTokens > 0 {
		params.MaxTokens = openaiclient.Int(int64(in.MaxTokens))
	}
	if in.Temperature > 0 {
		params.Temperature = openaiclient.Float(in.Temperature)
	}
	if in.TopP > 0 {
		params.TopP = openaiclient.Float(in.TopP)
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", errors.New("empty response from AI")
	}
	return resp.Choices[0].Message.Content, nil
}

// chatCompletions talks to any OpenAI-style /chat/completions endpoint.
type chatCompletions struct {
	url      string
	apiKey   string
	model    string
	sendTopK bool
	client   *http.Client
}

func (c *chatCompletions) Model() string { return c.model }

func (c *chatCompletions) Complete(ctx context.Context, in CompletionRequest) (string, error) {
	messages := make([]map[string]string, 0, 2)
	if strings.TrimSpace(in.System) != "" {
		messages = append(messages, map[string]string{"role": "system", "content": in.System})
	}
	messages = append(messages, map[string]string{"role": "user", "content": in.Prompt})

	payload := map[string]interface{}{
		"model":    c.model,
		"messages": messages,
	}
	if in.MaxTokens > 0 {
		payload["max_tokens"] = in.MaxTokens
	}
	if in.Temperature > 0 {
		payload["temperature"] = in.Temperature
	}
	if in.TopP > 0 {
		payload["top_p"] = in.TopP
	}
	if c.sendTopK && in.TopK > 0 {
		payload["top_k"] = in.TopK
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return "", &UpstreamError{StatusCode: resp.StatusCode, Message: truncateText(strings.TrimSpace(string(respBody)), 300)}
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("decode chat completion: %w", err)
	}
	if result.Error != nil && strings.TrimSpace(result.Error.Message) != "" {
		return "", &UpstreamError{StatusCode: resp.StatusCode, Message: result.Error.Message}
	}
	if len(result.Choices) == 0 || strings.TrimSpace(result.Choices[0].Message.Content) == "" {
		return "", errors.New("empty response from AI")
	}
	return result.Choices[0].Message.Content, nil
}

// jetCompleter goes through go.jetify.com/ai over the official SDK clients.
type jetCompleter struct {
	model   jetapi.LanguageModel
	modelID string
}

func newJetCompleter(cfg appcfg.LLMConfig) (*jetCompleter, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	modelID := strings.TrimSpace(cfg.Model)
	endpoint := strings.TrimSpace(cfg.Endpoint)

	if appcfg.NormalizeProviderType(cfg.Type) == "anthropic" {
		if modelID == "" || strings.HasPrefix(modelID, "gemini") {
			modelID = defaultClaudeModel
		}
		opts := []anthropicoption.RequestOption{
			anthropicoption.WithAPIKey(apiKey),
			anthropicoption.WithMaxRetries(0),
		}
		if endpoint != "" {
			opts = append(opts, anthropicoption.WithBaseURL(strings.TrimRight(endpoint, "/")))
		}
		client := anthropicclient.NewClient(opts...)
		return &jetCompleter{
			model:   jetanthropic.NewLanguageModel(modelID, jetanthropic.WithClient(client)),
			modelID: modelID,
		}, nil
	}

	if modelID == "" || strings.HasPrefix(modelID, "gemini") {
		modelID = defaultOpenAIModel
	}
	opts := []openaioption.RequestOption{
		openaioption.WithAPIKey(apiKey),
		openaioption.WithMaxRetries(0),
	}
	if normalized := normalizeOpenAIBaseURL(endpoint); normalized != "" {
		opts = append(opts, openaioption.WithBaseURL(normalized))
	}
	client := openaiclient.NewClient(opts...)
	return &jetCompleter{
		model:   jetopenai.NewLanguageModel(modelID, jetopenai.WithClient(client)),
		modelID: modelID,
	}, nil
}

func (j *jetCompleter) Model() string { return j.modelID }

func (j *jetCompleter) Complete(ctx context.Context, in CompletionRequest) (string, error) {
	messages := make([]jetapi.Message, 0, 2)
	if strings.TrimSpace(in.System) != "" {
		messages = append(messages, &jetapi.SystemMessage{Content: in.System})
	}
	messages = append(messages, &jetapi.UserMessage{Content: jetapi.ContentFromText(in.Prompt)})

	opts := []jetai.GenerateOption{
		jetai.WithModel(j.model),
		jetai.WithMaxOutputTokens(in.MaxTokens),
	}
	if in.Temperature > 0 {
		opts = append(opts, jetai.WithTemperature(in.Temperature))
	}
	if in.TopP > 0 {
		opts = append(opts, jetai.WithTopP(in.TopP))
	}
	if in.TopK > 0 {
		opts = append(opts, jetai.WithTopK(in.TopK))
	}

	resp, err := jetai.GenerateText(ctx, messages, opts...)
	if err != nil {
		return "", err
	}
	return extractText(resp)
}

func extractText(resp *jetapi.Response) (string, error) {
	if resp == nil {
		return "", errors.New("empty response from AI")
	}
	var full strings.Builder
	for _, block := range resp.Content {
		if tb, ok := block.(*jetapi.TextBlock); ok {
			full.WriteString(tb.Text)
		}
	}
	text := full.String()
	if strings.TrimSpace(text) == "" {
		return "", errors.New("empty response from AI")
	}
	return text, nil
}

// upstreamStatus extracts the provider HTTP status from any client error.
func upstreamStatus(err error) int {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.StatusCode
	}
	var oe *openaiclient.Error
	if errors.As(err, &oe) {
		return oe.StatusCode
	}
	var ae *anthropicclient.Error
	if errors.As(err, &ae) {
		return ae.StatusCode
	}
	return 0
}

func normalizeOpenAIBaseURL(raw string) string {
	base := strings.TrimSpace(raw)
	if base == "" {
		return ""
	}
	parsed, err := neturl.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return strings.TrimRight(base, "/")
	}
	path := strings.TrimRight(parsed.Path, "/")
	if !strings.HasSuffix(path, "/v1") {
		path += "/v1"
	}
	parsed.Path = path
	return strings.TrimRight(parsed.String(), "/")
}

func normalizeOpenAICompatibleEndpoint(raw string) string {
	base := strings.TrimRight(strings.TrimSpace(raw), "/")
	if base == "" {
		return "https://api.openai.com"
	}
	parsed, err := neturl.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return strings.TrimSuffix(base, "/v1")
	}
	parsed.Path = strings.TrimSuffix(strings.TrimRight(parsed.Path, "/"), "/v1")
	return strings.TrimRight(parsed.String(), "/")
}

func truncateText(text string, maxLen int) string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen]) + "..."
}
