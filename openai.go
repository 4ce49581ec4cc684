package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// chatCompleter is the LLM capability the coach needs. jsonMode asks the model
// for a single JSON object.
type chatCompleter interface {
	Complete(ctx context.Context, messages []openAIMessage, jsonMode bool) (string, error)
}

// transcriber turns a voice message into text.
type transcriber interface {
	Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error)
}

var errLLMNotConfigured = errors.New("OPENAI_API_KEY not set")

// openAIMessage is a single message in the OpenAI chat completions request.
type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// openAIRequest is the request body for the OpenAI chat completions API.
type openAIRequest struct {
	Model          string            `json:"model"`
	Messages       []openAIMessage   `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

// openAIClient talks to the chat completions and audio transcription endpoints
// over plain net/http. baseURL is overridable for tests.
type openAIClient struct {
	baseURL         string
	apiKey          string
	model           string
	transcribeModel string
	http            *http.Client
	metrics         *metrics
}

var (
	_ chatCompleter = (*openAIClient)(nil)
	_ transcriber   = (*openAIClient)(nil)
)

func newOpenAIClient(cfg config, m *metrics) *openAIClient {
	return &openAIClient{
		baseURL:         cfg.OpenAIBaseURL,
		apiKey:          cfg.OpenAIAPIKey,
		model:           cfg.OpenAIModel,
		transcribeModel: cfg.OpenAITranscribeModel,
		http:            &http.Client{Timeout: 60 * time.Second},
		metrics:         m,
	}
}

// Complete sends a chat completions request and returns the content of the
// first choice.
func (c *openAIClient) Complete(ctx context.Context, messages []openAIMessage, jsonMode bool) (content string, err error) {
	defer func() { c.metrics.observeLLM("chat", err) }()
	if c.apiKey == "" {
		return "", errLLMNotConfigured
	}

	reqBody := openAIRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: 0.7,
	}
	if jsonMode {
		reqBody.Temperature = 0
		reqBody.ResponseFormat = map[string]string{"type": "json_object"}
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	respBytes, err := c.do(httpReq)
	if err != nil {
		return "", err
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return result.Choices[0].Message.Content, nil
}

// Transcribe uploads audio as multipart form data to the transcription API.
func (c *openAIClient) Transcribe(ctx context.Context, filename string, audio io.Reader) (text string, err error) {
	defer func() { c.metrics.observeLLM("transcribe", err) }()
	if c.apiKey == "" {
		return "", errLLMNotConfigured
	}
	if filename == "" {
		filename = "voice.webm"
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return "", fmt.Errorf("copy audio: %w", err)
	}
	if err := writer.WriteField("model", c.transcribeModel); err != nil {
		return "", fmt.Errorf("write model field: %w", err)
	}
	if err := writer.WriteField("language", "de"); err != nil {
		return "", fmt.Errorf("write language field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/audio/transcriptions", &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	respBytes, err := c.do(httpReq)
	if err != nil {
		return "", err
	}
	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	return result.Text, nil
}

// do authorizes and sends the request, returning the body of a 200 response.
func (c *openAIClient) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openai returned status %d: %s", resp.StatusCode, string(respBytes))
	}
	return respBytes, nil
}
