// Package chat answers interview questions with Gemini, streaming text
// fragments as they arrive and falling back to a one-shot call when the
// provider reports quota exhaustion.
package chat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"prompter/log"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel   = "gemini-2.0-flash"
)

// StatusError captures non-2xx upstream responses with status-aware context.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gemini: unexpected status %d: %s", e.StatusCode, e.Body)
}

type Client struct {
	baseURL     string
	model       string
	apiKey      string
	httpClient  *http.Client
	temperature float64
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/") }
}

func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// NewClient builds a Gemini client. A missing API key is a configuration
// error and fails here, before any network attempt.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("chat: Gemini API key was not provided")
	}
	c := &Client{
		baseURL:     defaultBaseURL,
		model:       defaultModel,
		apiKey:      apiKey,
		httpClient:  &http.Client{Timeout: 2 * time.Minute},
		temperature: 0.7,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Wire shapes for the generateContent family of endpoints.
type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	Contents          []geminiContent  `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type generationConfig struct {
	Temperature float64 `json:"temperature"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (r *geminiResponse) text() string {
	var b strings.Builder
	for _, cand := range r.Candidates {
		for _, part := range cand.Content.Parts {
			b.WriteString(part.Text)
		}
		break // only the first candidate
	}
	return b.String()
}

func buildRequest(turns []Turn, temperature float64) geminiRequest {
	req := geminiRequest{GenerationConfig: generationConfig{Temperature: temperature}}
	for _, turn := range turns {
		if turn.Role == RoleSystem {
			req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: turn.Content}}}
			continue
		}
		req.Contents = append(req.Contents, geminiContent{
			Role:  turn.Role,
			Parts: []geminiPart{{Text: turn.Content}},
		})
	}
	return req
}

// isQuotaError matches provider errors that indicate rate limiting or
// quota exhaustion, which trigger the non-streaming fallback.
func isQuotaError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "quota")
}

func (c *Client) endpoint(verb string) string {
	return fmt.Sprintf("%s/models/%s:%s", c.baseURL, c.model, verb)
}

func (c *Client) post(ctx context.Context, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("chat: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(buf)}
	}
	return resp, nil
}

// complete performs a single non-streaming generateContent call.
func (c *Client) complete(ctx context.Context, turns []Turn) (string, error) {
	body, err := json.Marshal(buildRequest(turns, c.temperature))
	if err != nil {
		return "", fmt.Errorf("chat: marshal request: %w", err)
	}
	resp, err := c.post(ctx, c.endpoint("generateContent"), body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("chat: read response: %w", err)
	}
	var payload geminiResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("chat: decode response: %w", err)
	}
	if len(payload.Candidates) == 0 {
		return "", errors.New("chat: no candidates in response")
	}
	return payload.text(), nil
}

// StreamAnswer appends a user turn for the question and streams the
// answer as text fragments in arrival order. The fragment channel closes
// on completion; at most one error is delivered on the error channel.
// Rate-limit/quota errors fall back transparently to a single
// non-streaming call whose full text arrives as one fragment.
// The completed answer is appended to the conversation as a model turn.
func (c *Client) StreamAnswer(ctx context.Context, conv *Conversation, question string) (<-chan string, <-chan error) {
	fragments := make(chan string, 16)
	errCh := make(chan error, 1)

	conv.AddUserTurn("Interview question: " + question)
	turns := conv.Turns()

	go func() {
		defer close(fragments)
		defer close(errCh)

		full, err := c.streamTurns(ctx, turns, fragments)
		if err != nil {
			if !isQuotaError(err) {
				errCh <- err
				return
			}
			log.Warn("streaming unavailable, falling back to single completion")
			full, err = c.complete(ctx, turns)
			if err != nil {
				errCh <- err
				return
			}
			fragments <- full
		}
		conv.AddModelTurn(full)
	}()

	return fragments, errCh
}

// streamTurns drives one streamGenerateContent request, sending deltas to
// out and returning the concatenated answer.
func (c *Client) streamTurns(ctx context.Context, turns []Turn, out chan<- string) (string, error) {
	body, err := json.Marshal(buildRequest(turns, c.temperature))
	if err != nil {
		return "", fmt.Errorf("chat: marshal request: %w", err)
	}
	resp, err := c.post(ctx, c.endpoint("streamGenerateContent")+"?alt=sse", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return full.String(), ctx.Err()
		default:
		}
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}
		var chunk geminiResponse
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return full.String(), fmt.Errorf("chat: decode stream chunk: %w", err)
		}
		delta := chunk.text()
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		out <- delta
	}
	if err := scanner.Err(); err != nil {
		return full.String(), fmt.Errorf("chat: read stream: %w", err)
	}
	return full.String(), nil
}

// SummarizeResume condenses raw resume text into the short summary that
// seeds the conversation's system turn.
func (c *Client) SummarizeResume(ctx context.Context, rawText string) (string, error) {
	if strings.TrimSpace(rawText) == "" {
		return "", errors.New("chat: resume text is empty")
	}
	prompt := "You are a professional resume summarizer. " +
		"Summarize the key skills, experience, and projects clearly and concisely. " +
		"Use about 5-7 sentences.\n\nRESUME TEXT:\n" + rawText
	return c.complete(ctx, []Turn{{Role: RoleUser, Content: prompt}})
}
