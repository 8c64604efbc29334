// internal/llmclient/gemini_client_test.go
package llmclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pagepilot/internal/config"
)

func testConfig(endpoint string) config.LLMConfig {
	return config.LLMConfig{
		Provider:   config.ProviderGemini,
		Models:     []string{"gemini-2.5-flash"},
		APIKey:     "test-key",
		Endpoint:   endpoint,
		APITimeout: 5 * time.Second,
		MaxTokens:  2048,
	}
}

func successBody(text string) string {
	payload := map[string]any{
		"candidates": []map[string]any{
			{
				"content": map[string]any{
					"parts": []map[string]string{{"text": text}},
				},
				"finishReason": "STOP",
			},
		},
	}
	b, _ := json.Marshal(payload)
	return string(b)
}

func TestNewGeminiClientRequiresAPIKey(t *testing.T) {
	cfg := testConfig("")
	cfg.APIKey = ""

	_, err := NewGeminiClient(cfg, zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestGenerateSuccess(t *testing.T) {
	var gotPath atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))

		var payload geminiRequestPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Len(t, payload.Contents, 1)
		assert.Equal(t, "application/json", payload.GenerationConfig.ResponseMimeType)

		w.Write([]byte(successBody(`[{"action":"extract","selector":"a"}]`)))
	}))
	defer server.Close()

	client, err := NewGeminiClient(testConfig(server.URL), zap.NewNop())
	require.NoError(t, err)

	out, err := client.Generate(context.Background(), GenerationRequest{
		Model:      "gemini-2.5-flash",
		UserPrompt: "plan it",
		ForceJSON:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, `[{"action":"extract","selector":"a"}]`, out)
	assert.Equal(t, "/gemini-2.5-flash:generateContent", gotPath.Load())
}

func TestGenerateRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(successBody("ok")))
	}))
	defer server.Close()

	client, err := NewGeminiClient(testConfig(server.URL), zap.NewNop())
	require.NoError(t, err)

	out, err := client.Generate(context.Background(), GenerationRequest{
		Model:      "gemini-2.5-flash",
		UserPrompt: "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestGenerateDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"bad request"}}`))
	}))
	defer server.Close()

	client, err := NewGeminiClient(testConfig(server.URL), zap.NewNop())
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), GenerationRequest{
		Model:      "gemini-2.5-flash",
		UserPrompt: "hi",
	})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGenerateSafetyBlockIsPermanent(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"candidates":[{"content":{"parts":[]},"finishReason":"SAFETY"}]}`))
	}))
	defer server.Close()

	client, err := NewGeminiClient(testConfig(server.URL), zap.NewNop())
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), GenerationRequest{
		Model:      "gemini-2.5-flash",
		UserPrompt: "hi",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SAFETY")
	assert.Equal(t, int32(1), calls.Load())
}

func TestGenerateRequiresModel(t *testing.T) {
	client, err := NewGeminiClient(testConfig("http://127.0.0.1:1"), zap.NewNop())
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), GenerationRequest{UserPrompt: "hi"})
	assert.Error(t, err)
}

func TestFactory(t *testing.T) {
	t.Run("GeminiProvider", func(t *testing.T) {
		client, err := New(testConfig(""), zap.NewNop())
		require.NoError(t, err)
		assert.IsType(t, &GeminiClient{}, client)
	})

	t.Run("UnknownProvider", func(t *testing.T) {
		cfg := testConfig("")
		cfg.Provider = "openai"
		_, err := New(cfg, zap.NewNop())
		assert.Error(t, err)
	})
}
