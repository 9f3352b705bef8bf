package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEstimateCredits(t *testing.T) {
	for _, tt := range []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"whitespace only", "   \n\t ", 0},
		{"one word", "hello", 1},
		{"short answer", "this is a short answer", 1},
		{"exactly 100 words", strings.Repeat("word ", 100), 1},
		{"101 words", strings.Repeat("word ", 101), 2},
		{"250 words", strings.Repeat("word ", 250), 3},
	} {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, EstimateCredits(tt.text))
		})
	}
}

func TestBuildChatSeedsPersona(t *testing.T) {
	conv := BuildChat("Five years of Go backend experience.")
	turns := conv.Turns()
	require.Len(t, turns, 1)
	require.Equal(t, RoleSystem, turns[0].Role)
	require.Contains(t, turns[0].Content, "job interview assistant")
	require.Contains(t, turns[0].Content, "Five years of Go backend experience.")
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient("  ")
	require.Error(t, err)

	c, err := NewClient("key")
	require.NoError(t, err)
	require.Equal(t, defaultModel, c.model)
}

func TestBuildRequestSplitsSystemTurn(t *testing.T) {
	conv := BuildChat("summary")
	conv.AddUserTurn("Interview question: what is a goroutine")
	conv.AddModelTurn("A goroutine is a lightweight thread.")

	req := buildRequest(conv.Turns(), 0.7)
	require.NotNil(t, req.SystemInstruction)
	require.Len(t, req.Contents, 2)
	require.Equal(t, RoleUser, req.Contents[0].Role)
	require.Equal(t, RoleModel, req.Contents[1].Role)
}

func sseChunk(text string) string {
	payload, _ := json.Marshal(map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{"parts": []map[string]string{{"text": text}}}},
		},
	})
	return "data: " + string(payload) + "\n\n"
}

func streamingServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient("test-key", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return c
}

func drain(t *testing.T, fragments <-chan string, errCh <-chan error) ([]string, error) {
	t.Helper()
	var got []string
	for frag := range fragments {
		got = append(got, frag)
	}
	return got, <-errCh
}

func TestStreamAnswer(t *testing.T) {
	c := streamingServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.URL.Path, ":streamGenerateContent")
		require.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))

		var req geminiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.SystemInstruction)
		last := req.Contents[len(req.Contents)-1]
		require.Equal(t, "Interview question: what is a channel", last.Parts[0].Text)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseChunk("A channel is "))
		fmt.Fprint(w, sseChunk("a typed conduit."))
	})

	conv := BuildChat("summary")
	fragments, errCh := c.StreamAnswer(context.Background(), conv, "what is a channel")
	got, err := drain(t, fragments, errCh)
	require.NoError(t, err)
	require.Equal(t, []string{"A channel is ", "a typed conduit."}, got)

	// Completed answer lands in the conversation as a model turn.
	turns := conv.Turns()
	require.Equal(t, RoleModel, turns[len(turns)-1].Role)
	require.Equal(t, "A channel is a typed conduit.", turns[len(turns)-1].Content)
}

func TestStreamAnswerQuotaFallback(t *testing.T) {
	c := streamingServer(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, ":streamGenerateContent") {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":{"message":"quota exceeded"}}`)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]string{{"text": "Full answer via fallback."}}}},
			},
		})
	})

	conv := BuildChat("summary")
	fragments, errCh := c.StreamAnswer(context.Background(), conv, "anything")
	got, err := drain(t, fragments, errCh)
	require.NoError(t, err)
	require.Equal(t, []string{"Full answer via fallback."}, got)
}

func TestStreamAnswerPropagatesOtherErrors(t *testing.T) {
	c := streamingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"API key not valid"}}`)
	})

	fragments, errCh := c.StreamAnswer(context.Background(), BuildChat("s"), "q")
	got, err := drain(t, fragments, errCh)
	require.Empty(t, got)
	require.Error(t, err)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
}

func TestSummarizeResume(t *testing.T) {
	c := streamingServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.URL.Path, ":generateContent")
		var req geminiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Contains(t, req.Contents[0].Parts[0].Text, "RESUME TEXT:")
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]string{{"text": "Short summary."}}}},
			},
		})
	})

	got, err := c.SummarizeResume(context.Background(), "raw resume text here")
	require.NoError(t, err)
	require.Equal(t, "Short summary.", got)

	_, err = c.SummarizeResume(context.Background(), "   ")
	require.Error(t, err)
}
