// Package backend talks to the prompter account service: authentication,
// credit balance and deduction, and usage logging.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrInsufficientCredits is returned by Deduct when the account balance
// cannot cover the requested amount.
var ErrInsufficientCredits = errors.New("backend: insufficient credits")

// ErrUnauthorized is returned when the access token is missing, expired,
// or rejected.
var ErrUnauthorized = errors.New("backend: unauthorized")

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("backend: base URL was not provided")
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 8 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) SetToken(token string) { c.token = token }

// Login exchanges credentials for an access token and installs it on the
// client for subsequent calls.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/auth/login", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("backend: create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("backend: login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return "", ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return "", unexpectedStatus("login", resp)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("backend: decode login response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", errors.New("backend: login response had no access token")
	}
	c.token = payload.AccessToken
	return payload.AccessToken, nil
}

// Balance returns the current credit balance.
func (c *Client) Balance(ctx context.Context) (int, error) {
	resp, err := c.do(ctx, http.MethodGet, "/credits/balance", nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, unexpectedStatus("balance", resp)
	}
	var payload struct {
		Credits int `json:"credits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("backend: decode balance response: %w", err)
	}
	return payload.Credits, nil
}

// Deduct removes amount credits from the account. A 400 from the server
// means the balance could not cover it.
func (c *Client) Deduct(ctx context.Context, amount int) error {
	resp, err := c.do(ctx, http.MethodPost, "/credits/deduct", map[string]any{"amount": amount})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusBadRequest:
		return ErrInsufficientCredits
	default:
		return unexpectedStatus("deduct", resp)
	}
}

// LogInteraction records one answered question with its credit cost.
func (c *Client) LogInteraction(ctx context.Context, query, aiResponse string, tokensUsed int) error {
	resp, err := c.do(ctx, http.MethodPost, "/responses/", map[string]any{
		"query":       query,
		"ai_response": aiResponse,
		"tokens_used": tokensUsed,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return unexpectedStatus("log interaction", resp)
	}
	return nil
}

// LogTranscription records a final transcript line.
func (c *Client) LogTranscription(ctx context.Context, transcript string) error {
	resp, err := c.do(ctx, http.MethodPost, "/transcriptions/", map[string]any{
		"transcript_text": transcript,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return unexpectedStatus("log transcription", resp)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	if c.token == "" {
		return nil, ErrUnauthorized
	}
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("backend: marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("backend: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend: %s %s: %w", method, path, err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		return nil, ErrUnauthorized
	}
	return resp, nil
}

func unexpectedStatus(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("backend: %s: unexpected status %d: %s", op, resp.StatusCode, bytes.TrimSpace(raw))
}
