package ocr

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeScreenshot(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shot.png")
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func serverClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient("test-key", WithEndpoint(srv.URL), WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return c
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient("")
	require.Error(t, err)
}

func TestProcessImageHappyPath(t *testing.T) {
	c := serverClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Equal(t, "test-key", r.FormValue("apikey"))
		require.Equal(t, "eng", r.FormValue("language"))
		require.Equal(t, "2", r.FormValue("OCREngine"))
		require.Equal(t, "true", r.FormValue("detectOrientation"))
		require.Equal(t, "true", r.FormValue("scale"))
		_, _, err := r.FormFile("file")
		require.NoError(t, err)

		fmt.Fprint(w, `{"ParsedResults":[{"ParsedText":"Reverse a   linked\nlist in place."}],"IsErroredOnProcessing":false}`)
	})

	path := writeScreenshot(t, []byte("fake png bytes"))
	text, err := c.ProcessImage(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, "Reverse a linked list in place.", text)

	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr), "screenshot should be removed after processing")
}

func TestProcessImageTruncatesLongText(t *testing.T) {
	long := strings.Repeat("x", 5000)
	c := serverClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"ParsedResults":[{"ParsedText":%q}],"IsErroredOnProcessing":false}`, long)
	})

	text, err := c.ProcessImage(context.Background(), writeScreenshot(t, []byte("img")))
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(text, "... [text truncated]"))
	require.Len(t, text, maxTextChars+len("... [text truncated]"))
}

func TestProcessImageErrorMapping(t *testing.T) {
	for _, tt := range []struct {
		name   string
		status int
		body   string
		want   *Error
	}{
		{"unauthorized", http.StatusUnauthorized, "", ErrInvalidKey},
		{"forbidden", http.StatusForbidden, "", ErrInvalidKey},
		{"rate limited", http.StatusTooManyRequests, "", ErrRateLimited},
		{"server error", http.StatusInternalServerError, "", ErrUnavailable},
		{"no results", http.StatusOK, `{"ParsedResults":[],"IsErroredOnProcessing":false}`, ErrNoText},
		{"blank text", http.StatusOK, `{"ParsedResults":[{"ParsedText":"  \n "}],"IsErroredOnProcessing":false}`, ErrNoText},
		{"processing error", http.StatusOK, `{"IsErroredOnProcessing":true,"ErrorMessage":["Timed out"]}`, ErrUnavailable},
		{"bad key message", http.StatusOK, `{"IsErroredOnProcessing":true,"ErrorMessage":"Invalid API key"}`, ErrInvalidKey},
	} {
		t.Run(tt.name, func(t *testing.T) {
			c := serverClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})
			path := writeScreenshot(t, []byte("img"))
			_, err := c.ProcessImage(context.Background(), path)
			require.ErrorIs(t, err, tt.want)

			_, statErr := os.Stat(path)
			require.True(t, os.IsNotExist(statErr), "screenshot should be removed on failure too")
		})
	}
}

func TestProcessImageRejectsBadFiles(t *testing.T) {
	c, err := NewClient("test-key")
	require.NoError(t, err)

	_, err = c.ProcessImage(context.Background(), filepath.Join(t.TempDir(), "missing.png"))
	require.Error(t, err)

	empty := writeScreenshot(t, nil)
	_, err = c.ProcessImage(context.Background(), empty)
	require.ErrorContains(t, err, "empty")
	_, statErr := os.Stat(empty)
	require.True(t, os.IsNotExist(statErr))
}

func TestNormalize(t *testing.T) {
	require.Equal(t, "a b c", normalize(" a\n b\t\tc "))
	require.Equal(t, "", normalize("  \n "))
}
