package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIProvider_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "/chat/completions", r.URL.Path)

		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-test", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Contains(t, req.Messages[1].Content, "Write 2 social post item(s).")
		assert.Contains(t, req.Messages[1].Content, "tone: playful")

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"{\"items\":[\"first\",\"second\"]}"}}]}`)
	}))
	defer server.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIURL: server.URL + "/", APIKey: "test-key", Model: "gpt-test"})

	out, err := p.Generate(context.Background(), Request{
		Category: "social_post",
		Inputs:   map[string]string{"tone": "playful"},
		Quantity: 2,
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, out)
}

func TestOpenAIProvider_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusServiceUnavailable, ErrProviderUnavailable},
		{http.StatusTooManyRequests, ErrProviderUnavailable},
		{http.StatusBadRequest, ErrRejected},
		{http.StatusUnauthorized, ErrRejected},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer server.Close()

			_, err := NewOpenAIProvider(OpenAIConfig{APIURL: server.URL}).Generate(context.Background(), Request{Quantity: 1})

			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestOpenAIProvider_MalformedContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"content":"not json"}}]}`)
	}))
	defer server.Close()

	_, err := NewOpenAIProvider(OpenAIConfig{APIURL: server.URL}).Generate(context.Background(), Request{Quantity: 1})

	assert.ErrorIs(t, err, ErrMalformedOutput)
}
