package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/asd-go/service/config"
	"github.com/khaledhikmat/asd-go/service/lgr"
)

const (
	defaultBaseURL = "https://api.groq.com/openai/v1/chat/completions"
	maxErrorBody   = 512
)

type groqService struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

type Option func(*groqService)

// WithHTTPClient overrides the default HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(svc *groqService) {
		if client != nil {
			svc.httpClient = client
		}
	}
}

// NewGroq returns a client for an OpenAI-compatible chat completions
// endpoint. Requests are sent once and never retried.
func NewGroq(cfgsvc config.IService, opts ...Option) IService {
	svc := &groqService{
		apiKey:     strings.TrimSpace(cfgsvc.GetChatAPIKey()),
		baseURL:    strings.TrimSpace(cfgsvc.GetChatBaseURL()),
		model:      strings.TrimSpace(cfgsvc.GetChatModel()),
		httpClient: &http.Client{Timeout: cfgsvc.GetChatTimeout()},
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.baseURL == "" {
		svc.baseURL = defaultBaseURL
	}
	return svc
}

type completionRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type statusError struct {
	StatusCode int
	Body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("chat completion: http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

var ErrEmptyContent = errors.New("chat completion returned no content")

func (svc *groqService) Complete(ctx context.Context, messages []Message) (string, error) {
	if svc.apiKey == "" {
		return "", errors.New("chat completion: api key required")
	}
	if len(messages) == 0 {
		return "", errors.New("chat completion: at least one message required")
	}

	body, err := json.Marshal(completionRequest{
		Model:    svc.model,
		Messages: messages,
	})
	if err != nil {
		return "", xerrors.Errorf("chat completion: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, svc.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", xerrors.Errorf("chat completion: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+svc.apiKey)

	start := time.Now()
	resp, err := svc.httpClient.Do(req)
	if err != nil {
		return "", xerrors.Errorf("chat completion: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", xerrors.Errorf("chat completion: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(payload)
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return "", &statusError{StatusCode: resp.StatusCode, Body: snippet}
	}

	content := gjson.GetBytes(payload, "choices.0.message.content").String()
	if strings.TrimSpace(content) == "" {
		reason := gjson.GetBytes(payload, "choices.0.finish_reason").String()
		return "", xerrors.Errorf("finish_reason=%q: %w", reason, ErrEmptyContent)
	}

	lgr.Logger.DebugContext(ctx, "chat completion",
		slog.String("model", svc.model),
		slog.Int("messages", len(messages)),
		slog.Int("chars", len(content)),
		slog.Duration("took", time.Since(start)),
	)

	return content, nil
}
