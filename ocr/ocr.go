// Package ocr turns a screenshot of the visible screen into question
// text via the OCR.space HTTP API.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"prompter/log"
)

const (
	defaultEndpoint = "https://api.ocr.space/parse/image"
	maxImageBytes   = 10 << 20
	maxTextChars    = 2000
	requestTimeout  = 45 * time.Second
)

// Error is a user-presentable OCR failure. The message is shown directly
// in the answer slot, so it stays short and free of wire detail.
type Error struct {
	Message string
}

func (e *Error) Error() string { return e.Message }

var (
	ErrNoText      = &Error{Message: "No text found in the screenshot."}
	ErrInvalidKey  = &Error{Message: "Invalid OCR API key. Check your configuration."}
	ErrRateLimited = &Error{Message: "OCR rate limit reached. Try again shortly."}
	ErrUnavailable = &Error{Message: "OCR service is unavailable. Try again later."}
)

type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

type Option func(*Client)

func WithEndpoint(endpoint string) Option {
	return func(c *Client) { c.endpoint = endpoint }
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

func NewClient(apiKey string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("ocr: API key was not provided")
	}
	c := &Client{
		endpoint:   defaultEndpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type parseResponse struct {
	ParsedResults []struct {
		ParsedText string `json:"ParsedText"`
	} `json:"ParsedResults"`
	IsErroredOnProcessing bool            `json:"IsErroredOnProcessing"`
	ErrorMessage          json.RawMessage `json:"ErrorMessage"`
}

// errorMessage flattens the API's ErrorMessage field, which is sometimes
// a string and sometimes an array of strings.
func (r *parseResponse) errorMessage() string {
	if len(r.ErrorMessage) == 0 {
		return ""
	}
	var single string
	if json.Unmarshal(r.ErrorMessage, &single) == nil {
		return single
	}
	var many []string
	if json.Unmarshal(r.ErrorMessage, &many) == nil {
		return strings.Join(many, "; ")
	}
	return string(r.ErrorMessage)
}

// ProcessImage uploads the screenshot at path and returns the recognized
// text, normalized and truncated for prompting. The file is removed
// before returning, success or not.
func (c *Client) ProcessImage(ctx context.Context, path string) (string, error) {
	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warnf("could not remove screenshot %s: %v", path, err)
		}
	}()

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("ocr: stat screenshot: %w", err)
	}
	if info.Size() == 0 {
		return "", errors.New("ocr: screenshot file is empty")
	}
	if info.Size() > maxImageBytes {
		return "", fmt.Errorf("ocr: screenshot is %d bytes, limit is %d", info.Size(), maxImageBytes)
	}

	body, contentType, err := c.buildForm(path)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return "", fmt.Errorf("ocr: create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ocr: upload screenshot: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", ErrInvalidKey
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", ErrRateLimited
	case resp.StatusCode >= 500:
		return "", ErrUnavailable
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("ocr: unexpected status %d", resp.StatusCode)
	}

	var parsed parseResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&parsed); err != nil {
		return "", fmt.Errorf("ocr: decode response: %w", err)
	}
	if parsed.IsErroredOnProcessing {
		msg := parsed.errorMessage()
		log.Errorf("OCR processing failed: %s", msg)
		if strings.Contains(strings.ToLower(msg), "key") {
			return "", ErrInvalidKey
		}
		return "", ErrUnavailable
	}
	if len(parsed.ParsedResults) == 0 {
		return "", ErrNoText
	}

	text := normalize(parsed.ParsedResults[0].ParsedText)
	if text == "" {
		return "", ErrNoText
	}
	return text, nil
}

func (c *Client) buildForm(path string) (*bytes.Buffer, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("ocr: open screenshot: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := map[string]string{
		"apikey":            c.apiKey,
		"language":          "eng",
		"isOverlayRequired": "false",
		"OCREngine":         "2",
		"detectOrientation": "true",
		"scale":             "true",
	}
	for key, value := range fields {
		if err := w.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("ocr: write form field: %w", err)
		}
	}
	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, "", fmt.Errorf("ocr: create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("ocr: copy screenshot: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("ocr: finalize form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// normalize collapses whitespace runs to single spaces and caps the text
// at maxTextChars so a dense screenshot cannot blow up the prompt.
func normalize(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) > maxTextChars {
		text = text[:maxTextChars] + "... [text truncated]"
	}
	return text
}
