package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"derm-kiosk-agent/internal/consultation"
)

func TestVisionToolInvoke(t *testing.T) {
	var received AnalyzeImageArgs
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/analyze", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		json.NewEncoder(w).Encode(map[string]any{
			"visual_description": "erythematous patch with scaling",
			"predictions": []map[string]any{
				{"condition": "eczema", "confidence": 0.78, "urgency_level": "routine"},
			},
			"confidence_level": "moderate",
		})
	}))
	defer srv.Close()

	tool := NewVisionTool(srv.URL, time.Second)
	result := tool.Invoke(context.Background(), json.RawMessage(
		`{"image_base64": "aW1n", "clinical_context": "rash, itching"}`))

	require.True(t, result.Success, result.Err)
	assert.Equal(t, "aW1n", received.ImageBase64)
	assert.Equal(t, "rash, itching", received.ClinicalContext)

	analysis, ok := result.Data.(*consultation.Analysis)
	require.True(t, ok)
	assert.Equal(t, "erythematous patch with scaling", analysis.VisualDescription)
	require.Len(t, analysis.Predictions, 1)
	assert.Equal(t, "eczema", analysis.Predictions[0].Condition)
}

func TestVisionToolStripsDataURLPrefix(t *testing.T) {
	var received AnalyzeImageArgs
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		json.NewEncoder(w).Encode(map[string]any{"visual_description": "ok"})
	}))
	defer srv.Close()

	tool := NewVisionTool(srv.URL, time.Second)
	result := tool.Invoke(context.Background(), json.RawMessage(
		`{"image_base64": "data:image/jpeg;base64,aW1n"}`))

	require.True(t, result.Success)
	assert.Equal(t, "aW1n", received.ImageBase64)
}

func TestVisionToolRequiresImage(t *testing.T) {
	tool := NewVisionTool("http://unused", time.Second)

	result := tool.Invoke(context.Background(), json.RawMessage(`{}`))
	assert.False(t, result.Success)
	assert.Contains(t, result.Err, "image_base64")
}

func TestVisionToolServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tool := NewVisionTool(srv.URL, time.Second)
	result := tool.Invoke(context.Background(), json.RawMessage(`{"image_base64": "aW1n"}`))

	assert.False(t, result.Success)
	assert.Contains(t, result.Err, "vision service error")
}

func TestHTTPEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embed", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	e := NewHTTPEmbedder(srv.URL, time.Second)
	vec, err := e.EmbedImage(context.Background(), "aW1n")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestHTTPEmbedderEmptyVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{}})
	}))
	defer srv.Close()

	e := NewHTTPEmbedder(srv.URL, time.Second)
	_, err := e.EmbedImage(context.Background(), "aW1n")
	assert.Error(t, err)
}
