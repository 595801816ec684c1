package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/brandvault/dam-backend/internal/platform/envutil"
	"github.com/brandvault/dam-backend/internal/platform/logger"
)

// Client wraps the model provider used for embeddings and quality scoring.
type Client interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)

	// ScoreQuality rates an asset from its extracted features, returning a
	// score in [0,1] and the model's confidence in that score.
	ScoreQuality(ctx context.Context, features map[string]any) (score float64, confidence float64, err error)
}

type client struct {
	httpClient     *http.Client
	log            *logger.Logger
	apiKey         string
	baseURL        string
	embeddingModel string
	scoringModel   string
}

func New(baseLog *logger.Logger) (Client, error) {
	serviceLog := baseLog.With("service", "AIClient")
	apiKey := envutil.String("OPENAI_API_KEY", "")
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is not set")
	}
	return &client{
		httpClient:     &http.Client{Timeout: 60 * time.Second},
		log:            serviceLog,
		apiKey:         apiKey,
		baseURL:        envutil.String("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		embeddingModel: envutil.String("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
		scoringModel:   envutil.String("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
	}, nil
}

func (c *client) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	body := map[string]any{
		"model": c.embeddingModel,
		"input": inputs,
	}
	var resp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := c.post(ctx, "/embeddings", body, &resp); err != nil {
		return nil, err
	}
	out := make([][]float32, 0, len(resp.Data))
	for _, d := range resp.Data {
		out = append(out, d.Embedding)
	}
	return out, nil
}

func (c *client) ScoreQuality(ctx context.Context, features map[string]any) (float64, float64, error) {
	featJSON, _ := json.Marshal(features)
	body := map[string]any{
		"model": c.scoringModel,
		"messages": []map[string]string{
			{"role": "system", "content": "Rate the production quality of the described asset. Respond with JSON {\"score\": <0..1>, \"confidence\": <0..1>} and nothing else."},
			{"role": "user", "content": string(featJSON)},
		},
		"temperature": 0,
	}
	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := c.post(ctx, "/chat/completions", body, &resp); err != nil {
		return 0, 0, err
	}
	if len(resp.Choices) == 0 {
		return 0, 0, fmt.Errorf("empty scoring response")
	}
	var parsed struct {
		Score      float64 `json:"score"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &parsed); err != nil {
		return 0, 0, fmt.Errorf("parse scoring response: %w", err)
	}
	return clamp01(parsed.Score), clamp01(parsed.Confidence), nil
}

func (c *client) post(ctx context.Context, path string, body any, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ai request %s: %w", path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ai request %s: status %d: %s", path, resp.StatusCode, truncate(string(data), 300))
	}
	return json.Unmarshal(data, out)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Nop returns a client that yields zero values; used when no provider is
// configured and in tests.
func Nop() Client { return nopClient{} }

type nopClient struct{}

func (nopClient) Embed(context.Context, []string) ([][]float32, error) { return nil, nil }
func (nopClient) ScoreQuality(context.Context, map[string]any) (float64, float64, error) {
	return 0, 0, nil
}
