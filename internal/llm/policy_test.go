package llm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"

	"github.com/router-for-me/JSONRemodeler/internal/config"
	"github.com/router-for-me/JSONRemodeler/sdk/remodel"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{name: "identical", a: []float64{1, 2, 3}, b: []float64{1, 2, 3}, want: 1},
		{name: "orthogonal", a: []float64{1, 0}, b: []float64{0, 1}, want: 0},
		{name: "opposite", a: []float64{1, 0}, b: []float64{-1, 0}, want: -1},
		{name: "zero vector", a: []float64{0, 0}, b: []float64{1, 1}, want: 0},
		{name: "length mismatch", a: []float64{1, 2}, b: []float64{1, 2, 3}, want: 0},
		{name: "empty", a: nil, b: nil, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

// collaboratorServer mocks the chat and embeddings endpoints. The chat
// endpoint replies with content; the embeddings endpoint returns vecSame
// for every input unless the input contains divergeOn, which gets an
// orthogonal vector instead.
func collaboratorServer(t *testing.T, content, divergeOn string, embeddingCalls *int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, _ *http.Request) {
		reply := fmt.Sprintf(`{"choices":[{"message":{"content":%q}}]}`, content)
		_, _ = w.Write([]byte(reply))
	})
	mux.HandleFunc("/embeddings", func(w http.ResponseWriter, r *http.Request) {
		if embeddingCalls != nil {
			atomic.AddInt32(embeddingCalls, 1)
		}
		body, _ := io.ReadAll(r.Body)
		input := gjson.GetBytes(body, "input.0").String()
		vec := `[1,0]`
		if divergeOn != "" && strings.Contains(input, divergeOn) {
			vec = `[0,1]`
		}
		_, _ = w.Write([]byte(`{"data":[{"embedding":` + vec + `}]}`))
	})
	return httptest.NewServer(mux)
}

func testCollaborator(serverURL string) *Collaborator {
	return &Collaborator{
		Client:              NewClient(serverURL, "k", 5*time.Second, 0),
		Model:               "gpt-4o",
		EmbeddingsModel:     "text-embedding-ada-002",
		SimilarityThreshold: 0.8,
		RefusalMarker:       "I cannot",
	}
}

func TestCollaboratorAcceptsSimilarRewrite(t *testing.T) {
	server := collaboratorServer(t, `{"a":"rewritten"}`, "", nil)
	defer server.Close()

	got, err := testCollaborator(server.URL).Process(context.Background(), remodel.ProcessRequest{
		Payload:      `{"a":"original"}`,
		Instructions: "rewrite",
		MaxTokens:    64,
	})
	assert.NoError(t, err)
	assert.Equal(t, `{"a":"rewritten"}`, got)
}

func TestCollaboratorRejectsDissimilarRewrite(t *testing.T) {
	// The generated content embeds orthogonally to the original, so the
	// similarity gate keeps the original payload.
	server := collaboratorServer(t, `{"a":"way off"}`, "way off", nil)
	defer server.Close()

	got, err := testCollaborator(server.URL).Process(context.Background(), remodel.ProcessRequest{
		Payload:      `{"a":"original"}`,
		Instructions: "rewrite",
		MaxTokens:    64,
	})
	assert.NoError(t, err)
	assert.Equal(t, `{"a":"original"}`, got)
}

func TestCollaboratorKeepsOriginalOnRefusal(t *testing.T) {
	var embeddingCalls int32
	server := collaboratorServer(t, "I cannot rewrite this content", "", &embeddingCalls)
	defer server.Close()

	got, err := testCollaborator(server.URL).Process(context.Background(), remodel.ProcessRequest{
		Payload:      `{"a":"original"}`,
		Instructions: "rewrite",
		MaxTokens:    64,
	})
	assert.NoError(t, err)
	assert.Equal(t, `{"a":"original"}`, got)
	assert.Equal(t, int32(0), atomic.LoadInt32(&embeddingCalls),
		"refused content must not be scored")
}

func TestCollaboratorThresholdIsExclusive(t *testing.T) {
	// Identical vectors score exactly 1.0; a threshold of 1.0 still
	// rejects because acceptance requires strictly greater similarity.
	server := collaboratorServer(t, `{"a":"rewritten"}`, "", nil)
	defer server.Close()

	co := testCollaborator(server.URL)
	co.SimilarityThreshold = 1.0
	got, err := co.Process(context.Background(), remodel.ProcessRequest{
		Payload:      `{"a":"original"}`,
		Instructions: "rewrite",
		MaxTokens:    64,
	})
	assert.NoError(t, err)
	assert.Equal(t, `{"a":"original"}`, got)
}

func TestCollaboratorPropagatesChatErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer server.Close()

	_, err := testCollaborator(server.URL).Process(context.Background(), remodel.ProcessRequest{
		Payload:   `{"a":1}`,
		MaxTokens: 64,
	})
	assert.Error(t, err)
}

func TestNewCollaboratorWiring(t *testing.T) {
	cfg := config.Default()
	cfg.Model = "gpt-4o-mini"
	cfg.Collaborator.RefusalMarker = "REFUSED"

	co := NewCollaborator(cfg)
	assert.Equal(t, "gpt-4o-mini", co.Model)
	assert.Equal(t, "text-embedding-ada-002", co.EmbeddingsModel)
	assert.InDelta(t, 0.8, co.SimilarityThreshold, 1e-9)
	assert.Equal(t, "REFUSED", co.RefusalMarker)
	assert.NotNil(t, co.Client)
}
