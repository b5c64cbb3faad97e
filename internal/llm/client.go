// Package llm talks to the OpenAI-compatible collaborator that rewrites
// work units: chat completions for the rewriting itself and embeddings for
// scoring how close a rewrite stayed to its input.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Client calls an OpenAI-compatible API with bearer authentication and
// capped-backoff retries on throttling and server errors.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
}

// NewClient builds a client for the given endpoint root. An empty baseURL
// falls back to the public OpenAI API.
func NewClient(baseURL, apiKey string, timeout time.Duration, maxRetries int) *Client {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Client{
		baseURL:    base,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
	}
}

const chatTemplate = `{"model":"","messages":[{"role":"system","content":""},{"role":"user","content":""}],"max_tokens":0}`

// ChatCompletion sends one system/user exchange and returns the generated
// message content.
func (c *Client) ChatCompletion(ctx context.Context, model, system, user string, maxTokens int) (string, error) {
	body, _ := sjson.Set(chatTemplate, "model", model)
	body, _ = sjson.Set(body, "messages.0.content", system)
	body, _ = sjson.Set(body, "messages.1.content", user)
	body, _ = sjson.Set(body, "max_tokens", maxTokens)

	respBody, err := c.postJSON(ctx, "/chat/completions", []byte(body))
	if err != nil {
		return "", err
	}
	content := gjson.GetBytes(respBody, "choices.0.message.content")
	if !content.Exists() {
		return "", errors.New("llm: completion response carries no message content")
	}
	return content.String(), nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embedding returns the embedding vector for text. Newlines are flattened
// to spaces first; embedding endpoints score them poorly otherwise.
func (c *Client) Embedding(ctx context.Context, text, model string) ([]float64, error) {
	flattened := strings.ReplaceAll(text, "\n", " ")
	body, err := json.Marshal(embeddingRequest{Model: model, Input: []string{flattened}})
	if err != nil {
		return nil, err
	}
	respBody, err := c.postJSON(ctx, "/embeddings", body)
	if err != nil {
		return nil, err
	}
	var out embeddingResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("llm: decode embeddings response: %w", err)
	}
	if len(out.Data) == 0 || len(out.Data[0].Embedding) == 0 {
		return nil, errors.New("llm: embeddings response is empty")
	}
	return out.Data[0].Embedding, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body []byte) ([]byte, error) {
	var lastErr error
	backoff := time.Second
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}
		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return respBody, nil
		}
		lastErr = fmt.Errorf("llm: %s returned status %d: %s", path, resp.StatusCode, truncateBody(respBody))
		if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode < 500 {
			return nil, lastErr
		}
		log.WithError(lastErr).Debugf("retrying %s (attempt %d of %d)", path, attempt+1, c.maxRetries)
	}
	return nil, fmt.Errorf("llm: retries exhausted: %w", lastErr)
}

func truncateBody(body []byte) string {
	const limit = 200
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit]) + "..."
}

// redactAPIKey keeps just enough of a key to recognize it in logs.
func redactAPIKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
