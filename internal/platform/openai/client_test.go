package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/moises-m-limon/mangalytics/internal/platform/logger"
)

func newTestClient(t *testing.T, srv *httptest.Server) *client {
	t.Helper()
	c, err := NewClient(logger.NewNop(), Config{
		APIKey:     "sk-test",
		BaseURL:    srv.URL,
		Model:      "test-model",
		ImageModel: "test-image",
		MaxRetries: 2,
	})
	require.NoError(t, err)
	cc := c.(*client)
	cc.backoff = time.Millisecond
	return cc
}

func TestGenerateTextWithImagesSendsMultimodalInput(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/responses", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"output":[{"type":"message","role":"assistant","content":[{"type":"output_text","text":"[PANEL 1]"}]}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	text, err := c.GenerateTextWithImages(context.Background(), "sys", "describe", []ImageInput{
		{ImageURL: DataURL("image/png", []byte{1, 2})},
		{ImageURL: "  "},
	})
	require.NoError(t, err)
	require.Equal(t, "[PANEL 1]", text)

	input := got["input"].([]any)
	require.Len(t, input, 2)
	user := input[1].(map[string]any)
	content := user["content"].([]any)
	require.Len(t, content, 2)
	require.Equal(t, "input_image", content[1].(map[string]any)["type"])
}

func TestDoRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"output":[{"type":"message","role":"assistant","content":[{"type":"output_text","text":"ok"}]}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	text, err := c.GenerateText(context.Background(), "", "hi")
	require.NoError(t, err)
	require.Equal(t, "ok", text)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestDoDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.GenerateText(context.Background(), "", "hi")
	require.Error(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGenerateImageDecodesBase64(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/images/generations", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"b64_json": base64.StdEncoding.EncodeToString(png)}},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	img, err := c.GenerateImage(context.Background(), "a corgi")
	require.NoError(t, err)
	require.Equal(t, png, img.Bytes)
	require.Equal(t, "image/png", img.MimeType)

	_, err = c.GenerateImage(context.Background(), " ")
	require.Error(t, err)
}

func TestGenerateImageRejectsBadPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"b64_json": "not*base64"}},
		})
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).GenerateImage(context.Background(), "a corgi")
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode image base64: ")
	require.NotContains(t, err.Error(), "%!w")
}
