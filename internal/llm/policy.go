package llm

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/router-for-me/JSONRemodeler/internal/config"
	"github.com/router-for-me/JSONRemodeler/sdk/remodel"
)

// fallbackMaxTokens bounds responses for units that carry no budget.
const fallbackMaxTokens = 16384

// CosineSimilarity returns the cosine of the angle between two vectors,
// or zero when either has no magnitude or the lengths differ.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Collaborator adapts the client into a unit processor and applies the
// acceptance policy: a rewrite is kept only when it carries no refusal
// marker and its embedding stays close enough to the input's. Anything
// else echoes the original payload back, which downstream recovery treats
// like any other result.
type Collaborator struct {
	Client              *Client
	Model               string
	EmbeddingsModel     string
	SimilarityThreshold float64
	RefusalMarker       string
}

// NewCollaborator wires a collaborator from configuration.
func NewCollaborator(cfg *config.Config) *Collaborator {
	key := cfg.Collaborator.ResolveAPIKey()
	client := NewClient(
		cfg.Collaborator.BaseURL,
		key,
		time.Duration(cfg.Collaborator.GetRequestTimeoutSeconds())*time.Second,
		cfg.Collaborator.GetMaxRetries(),
	)
	log.Debugf("collaborator ready at %s (key %s)", cfg.Collaborator.BaseURL, redactAPIKey(key))
	return &Collaborator{
		Client:              client,
		Model:               cfg.Model,
		EmbeddingsModel:     cfg.Collaborator.GetEmbeddingsModel(),
		SimilarityThreshold: cfg.Collaborator.GetSimilarityThreshold(),
		RefusalMarker:       cfg.Collaborator.RefusalMarker,
	}
}

// Process rewrites one unit payload through the chat endpoint and applies
// the acceptance policy to the generated content.
func (co *Collaborator) Process(ctx context.Context, req remodel.ProcessRequest) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = fallbackMaxTokens
	}
	content, err := co.Client.ChatCompletion(ctx, co.Model, req.Payload, req.Instructions, maxTokens)
	if err != nil {
		return "", err
	}

	if co.RefusalMarker != "" && strings.Contains(content, co.RefusalMarker) {
		log.Debugf("unit %s: refusal marker present, keeping original payload", req.Address)
		return req.Payload, nil
	}

	threshold := co.SimilarityThreshold
	if threshold <= 0 {
		threshold = 0.8
	}
	similarity, err := co.similarity(ctx, content, req.Payload)
	if err != nil {
		return "", fmt.Errorf("score unit %s: %w", req.Address, err)
	}
	if similarity <= threshold {
		log.Debugf("unit %s: similarity %.3f at or below threshold %.3f, keeping original payload", req.Address, similarity, threshold)
		return req.Payload, nil
	}
	return content, nil
}

func (co *Collaborator) similarity(ctx context.Context, generated, original string) (float64, error) {
	model := co.EmbeddingsModel
	if model == "" {
		model = config.DefaultEmbeddingsModel
	}
	generatedVec, err := co.Client.Embedding(ctx, generated, model)
	if err != nil {
		return 0, err
	}
	originalVec, err := co.Client.Embedding(ctx, original, model)
	if err != nil {
		return 0, err
	}
	return CosineSimilarity(generatedVec, originalVec), nil
}
