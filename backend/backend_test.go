package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL, append([]Option{WithHTTPClient(srv.Client())}, opts...)...)
	require.NoError(t, err)
	return c
}

func TestLogin(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/login", r.URL.Path)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "alice", r.FormValue("username"))
		require.Equal(t, "hunter2", r.FormValue("password"))
		fmt.Fprint(w, `{"access_token":"tok-123"}`)
	})

	token, err := c.Login(context.Background(), "alice", "hunter2")
	require.NoError(t, err)
	require.Equal(t, "tok-123", token)
	require.Equal(t, "tok-123", c.token)
}

func TestLoginRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	_, err := c.Login(context.Background(), "alice", "wrong")
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestBalance(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/credits/balance", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"credits":42}`)
	}, WithToken("tok"))

	credits, err := c.Balance(context.Background())
	require.NoError(t, err)
	require.Equal(t, 42, credits)
}

func TestBalanceWithoutToken(t *testing.T) {
	c, err := NewClient("http://localhost:9")
	require.NoError(t, err)
	_, err = c.Balance(context.Background())
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestDeduct(t *testing.T) {
	var gotAmount int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/credits/deduct", r.URL.Path)
		var body struct {
			Amount int `json:"amount"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotAmount = body.Amount
		if body.Amount > 5 {
			w.WriteHeader(http.StatusBadRequest)
		}
	}, WithToken("tok"))

	require.NoError(t, c.Deduct(context.Background(), 3))
	require.Equal(t, 3, gotAmount)
	require.ErrorIs(t, c.Deduct(context.Background(), 10), ErrInsufficientCredits)
}

func TestUsageLogging(t *testing.T) {
	type logged struct {
		path string
		body map[string]any
	}
	var mu sync.Mutex
	var entries []logged
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		entries = append(entries, logged{path: r.URL.Path, body: body})
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}, WithToken("tok"))

	require.NoError(t, c.LogInteraction(context.Background(), "what is go", "Go is a language.", 1))
	require.NoError(t, c.LogTranscription(context.Background(), "what is go"))

	require.Len(t, entries, 2)
	require.Equal(t, "/responses/", entries[0].path)
	require.Equal(t, "what is go", entries[0].body["query"])
	require.Equal(t, "Go is a language.", entries[0].body["ai_response"])
	require.Equal(t, float64(1), entries[0].body["tokens_used"])
	require.Equal(t, "/transcriptions/", entries[1].path)
	require.Equal(t, "what is go", entries[1].body["transcript_text"])
}

func TestTokenStoreRoundTrip(t *testing.T) {
	store := NewTokenStore(t.TempDir())

	token, err := store.Load()
	require.NoError(t, err)
	require.Empty(t, token, "missing file should load as empty token")

	require.NoError(t, store.Save("tok-abc"))
	token, err = store.Load()
	require.NoError(t, err)
	require.Equal(t, "tok-abc", token)

	raw, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	require.JSONEq(t, `{"access_token":"tok-abc"}`, string(raw))

	require.NoError(t, store.Delete())
	token, err = store.Load()
	require.NoError(t, err)
	require.Empty(t, token)
	require.NoError(t, store.Delete(), "double delete is fine")
}

func TestTokenStoreCreatesDir(t *testing.T) {
	store := NewTokenStore(filepath.Join(t.TempDir(), "nested", "dir"))
	require.NoError(t, store.Save("tok"))
	token, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, "tok", token)
}

func TestLogQueueDrainsOnClose(t *testing.T) {
	q := NewLogQueue(8)
	var mu sync.Mutex
	var ran []int
	for i := 0; i < 5; i++ {
		i := i
		require.True(t, q.Enqueue(func(ctx context.Context) {
			mu.Lock()
			ran = append(ran, i)
			mu.Unlock()
		}))
	}
	q.Close()
	require.Equal(t, []int{0, 1, 2, 3, 4}, ran)

	require.False(t, q.Enqueue(func(ctx context.Context) {}), "closed queue rejects entries")
}

func TestLogQueueDropsWhenFull(t *testing.T) {
	q := NewLogQueue(1)
	defer q.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	q.Enqueue(func(ctx context.Context) {
		close(started)
		<-block
	})
	<-started

	// Worker is busy; one entry fits the buffer, the next is dropped.
	require.True(t, q.Enqueue(func(ctx context.Context) {}))
	dropped := false
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if !q.Enqueue(func(ctx context.Context) {}) {
			dropped = true
			break
		}
	}
	close(block)
	require.True(t, dropped, "full queue should drop instead of blocking")
}
