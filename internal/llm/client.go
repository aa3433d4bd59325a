package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"swarmd/internal/config"
	"swarmd/internal/store"
	"swarmd/internal/swarm"
	"swarmd/internal/vault"
)

// Client talks to an OpenAI-compatible chat completion endpoint. The API key
// lives encrypted in the store and is decrypted lazily on first use.
type Client struct {
	cfg   config.LLMConfig
	store *store.Store
	vault *vault.Vault
	http  *http.Client

	keyMu sync.Mutex
	key   string
}

func NewClient(cfg config.LLMConfig, st *store.Store, v *vault.Vault) *Client {
	return &Client{
		cfg:   cfg,
		store: st,
		vault: v,
		http:  &http.Client{Timeout: 2 * time.Minute},
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends one prompt and returns the completion text. Transport and
// server-side failures are reported as transient so callers retry them.
func (c *Client) Complete(ctx context.Context, prompt, model string, temperature float64) (string, error) {
	if c.cfg.Endpoint == "" {
		return "", fmt.Errorf("llm endpoint is not configured")
	}
	if model == "" {
		model = c.cfg.Model
	}

	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	key, err := c.apiKey()
	if err != nil {
		return "", err
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("call llm endpoint: %w: %w", err, swarm.ErrTransient)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", fmt.Errorf("read completion response: %w", err)
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("llm endpoint returned %d: %w", resp.StatusCode, swarm.ErrTransient)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("llm endpoint returned %d: %s", resp.StatusCode, data)
	}

	var cr chatResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if cr.Error != nil {
		return "", fmt.Errorf("llm error: %s", cr.Error.Message)
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("llm returned no choices")
	}
	return cr.Choices[0].Message.Content, nil
}

// apiKey decrypts the configured secret once and caches it. Completions run
// on parallel worker goroutines, so the cache is guarded.
func (c *Client) apiKey() (string, error) {
	c.keyMu.Lock()
	defer c.keyMu.Unlock()

	if c.key != "" || c.cfg.KeyName == "" {
		return c.key, nil
	}

	sec, err := c.store.GetSecret(c.cfg.KeyName)
	if err != nil {
		return "", fmt.Errorf("load llm key: %w", err)
	}
	if sec == nil {
		return "", nil
	}

	plain, err := c.vault.Decrypt(sec.Value, sec.Nonce)
	if err != nil {
		return "", fmt.Errorf("decrypt llm key: %w", err)
	}
	c.key = string(plain)
	return c.key, nil
}
