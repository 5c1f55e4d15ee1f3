package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatGenerator calls an OpenAI-compatible /chat/completions endpoint. System, when set, is
// sent ahead of every prompt. Identical prompts within CacheTTL are answered from memory.
type ChatGenerator struct {
	BaseURL     string
	Model       string
	APIKey      string
	System      string
	MaxTokens   int
	Temperature float64
	CacheTTL    time.Duration
	Client      *http.Client

	mu    sync.Mutex
	cache map[uint64]cachedReply
}

type cachedReply struct {
	text    string
	expires time.Time
}

type RateLimitError struct {
	RetryAfter time.Duration
}

func (r RateLimitError) Error() string {
	if r.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", r.RetryAfter)
	}
	return "rate limited"
}

type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Messages    []ChatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (g *ChatGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(g.BaseURL) == "" || strings.TrimSpace(g.Model) == "" {
		return "", errors.New("chat completions: base url and model are required")
	}

	key := promptHash(g.Model, g.System, prompt)
	if text, ok := g.cached(key); ok {
		return text, nil
	}

	payload := chatRequest{Model: g.Model, Temperature: g.Temperature, MaxTokens: g.MaxTokens}
	if g.System != "" {
		payload.Messages = append(payload.Messages, ChatMessage{Role: "system", Content: g.System})
	}
	payload.Messages = append(payload.Messages, ChatMessage{Role: "user", Content: prompt})

	b, _ := json.Marshal(payload)
	url := strings.TrimRight(g.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(g.APIKey) != "" {
		req.Header.Set("Authorization", "Bearer "+g.APIKey)
	}

	client := g.Client
	if client == nil {
		client = &http.Client{Timeout: 45 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return "", fmt.Errorf("chat completions timed out: %w", err)
		}
		return "", fmt.Errorf("chat completions request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", RateLimitError{RetryAfter: retryAfter(resp.Header.Get("Retry-After"), time.Now())}
	}

	var res chatResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&res)
	if resp.StatusCode >= 400 {
		if res.Error != nil && res.Error.Message != "" {
			return "", fmt.Errorf("chat completions http error: %s: %s", resp.Status, res.Error.Message)
		}
		return "", fmt.Errorf("chat completions http error: %s", resp.Status)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("decode chat completions response: %w", decodeErr)
	}
	if len(res.Choices) == 0 {
		return "", errors.New("chat completions returned no choices")
	}
	text := strings.TrimSpace(res.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("chat completions returned an empty reply")
	}
	g.store(key, text)
	return text, nil
}

func (g *ChatGenerator) cached(key uint64) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.cache[key]
	if !ok {
		return "", false
	}
	if time.Now().After(e.expires) {
		delete(g.cache, key)
		return "", false
	}
	return e.text, true
}

func (g *ChatGenerator) store(key uint64, text string) {
	if g.CacheTTL <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cache == nil {
		g.cache = map[uint64]cachedReply{}
	}
	g.cache[key] = cachedReply{text: text, expires: time.Now().Add(g.CacheTTL)}
}

// retryAfter accepts either delay-seconds or an HTTP date.
func retryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}
