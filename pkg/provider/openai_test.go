package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"chat-cbd-go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOpenAITestClient(serverURL string) *OpenAIClient {
	return NewOpenAIClient(config.OpenAIConfig{
		APIKey:  "test-key",
		BaseURL: serverURL + "/v1",
	})
}

func TestOpenAIGenerateText(t *testing.T) {
	var gotBody struct {
		Model            string    `json:"model"`
		Messages         []Message `json:"messages"`
		Temperature      float64   `json:"temperature"`
		MaxTokens        int       `json:"max_tokens"`
		TopP             float64   `json:"top_p"`
		FrequencyPenalty float64   `json:"frequency_penalty"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": "  Hello there.  "}},
			},
		})
	}))
	defer server.Close()

	client := newOpenAITestClient(server.URL)

	history := []Message{
		{Role: "user", Content: "Hello"},
	}
	text, err := client.GenerateText(context.Background(), history)
	require.NoError(t, err)

	// 回复正文应当去除首尾空白
	assert.Equal(t, "Hello there.", text)

	assert.Equal(t, "gpt-4", gotBody.Model)
	assert.Equal(t, history, gotBody.Messages)
	assert.Equal(t, 0.5, gotBody.Temperature)
	assert.Equal(t, 2000, gotBody.MaxTokens)
	assert.Equal(t, 0.5, gotBody.FrequencyPenalty)
}

func TestOpenAIGenerateTextNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"choices": []interface{}{}})
	}))
	defer server.Close()

	client := newOpenAITestClient(server.URL)

	_, err := client.GenerateText(context.Background(), []Message{{Role: "user", Content: "Hello"}})
	var providerErr *Error
	require.ErrorAs(t, err, &providerErr)
	assert.Contains(t, providerErr.Message, "no choices")
}

func TestOpenAIGenerateTextUpstreamStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{
				"message": "Rate limit reached",
				"type":    "requests",
			},
		})
	}))
	defer server.Close()

	client := newOpenAITestClient(server.URL)

	_, err := client.GenerateText(context.Background(), []Message{{Role: "user", Content: "Hello"}})
	var providerErr *Error
	require.ErrorAs(t, err, &providerErr)
	assert.Equal(t, http.StatusTooManyRequests, providerErr.Status)
	assert.Equal(t, "Rate limit reached", providerErr.Message)
}

func TestOpenAIGenerateImage(t *testing.T) {
	var gotBody struct {
		Prompt         string `json:"prompt"`
		N              int    `json:"n"`
		Size           string `json:"size"`
		ResponseFormat string `json:"response_format"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/images/generations", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]string{
				{"url": "https://cdn.example.com/generated.png"},
			},
		})
	}))
	defer server.Close()

	client := newOpenAITestClient(server.URL)

	payloads, err := client.GenerateImage(context.Background(), "a red fox", "512x512")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn.example.com/generated.png"}, payloads)

	assert.Equal(t, "a red fox", gotBody.Prompt)
	assert.Equal(t, 1, gotBody.N)
	assert.Equal(t, "512x512", gotBody.Size)
	assert.Equal(t, "url", gotBody.ResponseFormat)
}
