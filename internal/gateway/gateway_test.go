package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockia/backend/internal/capture"
)

func answer(text string) string {
	payload, _ := json.Marshal(map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{"parts": []any{map[string]any{"text": text}}},
		}},
	})
	return string(payload)
}

func TestAnalyzeImageMissingCredential(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	_, err := New(Config{BaseURL: srv.URL}).AnalyzeImage(context.Background(), ImagePrompt, nil)

	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, ReasonMissingCredential, gwErr.Reason)
	assert.Zero(t, calls.Load())
}

func TestAnalyzeImageSendsPromptAndImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/test-model:generateContent", r.URL.Path)
		assert.Equal(t, "secret", r.URL.Query().Get("key"))

		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Contents, 1)
		require.Len(t, req.Contents[0].Parts, 2)
		assert.Equal(t, ImagePrompt, req.Contents[0].Parts[0].Text)
		assert.Equal(t, "image/png", req.Contents[0].Parts[1].InlineData.MimeType)
		assert.Equal(t, "AQID", req.Contents[0].Parts[1].InlineData.Data)

		_, _ = w.Write([]byte(answer("```json\n{\"productName\":\"Cola\",\"quantity\":2}\n```")))
	}))
	defer srv.Close()

	client := New(Config{APIKey: "secret", Model: "test-model", BaseURL: srv.URL})
	fields, err := client.AnalyzeImage(context.Background(), ImagePrompt, &capture.Image{Bytes: []byte{1, 2, 3}, MimeType: "image/png"})
	require.NoError(t, err)
	assert.Equal(t, "Cola", fields["productName"])
}

func TestAnalyzeImageErrorReasons(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		reason Reason
	}{
		{name: "upstream status", status: http.StatusTooManyRequests, body: `{}`, reason: ReasonHTTP},
		{name: "no candidates", status: http.StatusOK, body: `{"candidates":[]}`, reason: ReasonEmptyResponse},
		{name: "no object", status: http.StatusOK, body: answer("I cannot help with that."), reason: ReasonMalformedPayload},
		{name: "not json", status: http.StatusOK, body: `<html>`, reason: ReasonMalformedPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := New(Config{APIKey: "k", BaseURL: srv.URL}).AnalyzeImage(context.Background(), "p", nil)
			var gwErr *Error
			require.ErrorAs(t, err, &gwErr)
			assert.Equal(t, tt.reason, gwErr.Reason)
			if tt.reason == ReasonHTTP {
				assert.Equal(t, tt.status, gwErr.Status)
			}
		})
	}
}

func TestAnalyzeImageTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := New(Config{APIKey: "k", BaseURL: srv.URL, Timeout: 20 * time.Millisecond}).AnalyzeImage(context.Background(), "p", nil)
	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, ReasonTimeout, gwErr.Reason)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

type mapCache struct {
	entries map[string]string
}

func (m *mapCache) Get(_ context.Context, query string) (string, bool, error) {
	v, ok := m.entries[query]
	return v, ok, nil
}

func (m *mapCache) Set(_ context.Context, query string, url string, _ time.Duration) error {
	m.entries[query] = url
	return nil
}

func TestSearchReferenceImageUsesFirstHitAndCaches(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/customsearch/v1", r.URL.Path)
		assert.Equal(t, "image", r.URL.Query().Get("searchType"))
		assert.Equal(t, "Acme Cola", r.URL.Query().Get("q"))
		_, _ = w.Write([]byte(`{"items":[{"link":"https://img.example/1.jpg"},{"link":"https://img.example/2.jpg"}]}`))
	}))
	defer srv.Close()

	refCache := &mapCache{entries: map[string]string{}}
	client := New(Config{SearchAPIKey: "k", SearchEngineID: "cx", SearchBaseURL: srv.URL, Cache: refCache})

	assert.Equal(t, "https://img.example/1.jpg", client.SearchReferenceImage(context.Background(), "Acme Cola"))
	assert.Equal(t, "https://img.example/1.jpg", client.SearchReferenceImage(context.Background(), "Acme Cola"))
	assert.Equal(t, int32(1), calls.Load())
}

func TestSearchReferenceImageDegradesToEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	assert.Empty(t, New(Config{SearchAPIKey: "k", SearchEngineID: "cx", SearchBaseURL: srv.URL}).SearchReferenceImage(context.Background(), "x"))
	assert.Empty(t, New(Config{SearchBaseURL: srv.URL}).SearchReferenceImage(context.Background(), "x"))
	assert.Empty(t, New(Config{SearchAPIKey: "k", SearchEngineID: "cx", SearchBaseURL: "http://127.0.0.1:1"}).SearchReferenceImage(context.Background(), "x"))
}
