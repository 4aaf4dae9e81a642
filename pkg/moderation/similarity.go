package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/vigilant-labs/vigil/pkg/httputil"
)

// similarityThreshold is the cosine similarity above which content counts
// as matching indexed spam phrasing.
const similarityThreshold = 0.75

// EmbeddingProvider supplies text embeddings for the spam index.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SpamPhrase is one indexed example of known spam phrasing.
type SpamPhrase struct {
	Text     string `yaml:"text"`
	Language string `yaml:"language"`
}

// SpamIndex holds an in-memory vector index of known spam phrasing and
// answers nearest-neighbor similarity queries against it.
type SpamIndex struct {
	db         *chromem.DB
	collection *chromem.Collection
	mu         sync.RWMutex
	ready      bool
}

// NewSpamIndex builds an index over the given embedding provider.
func NewSpamIndex(embedder EmbeddingProvider) (*SpamIndex, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is nil")
	}

	db := chromem.NewDB()
	embeddingFunc := func(ctx context.Context, text string) ([]float32, error) {
		return embedder.Embed(ctx, text)
	}

	collection, err := db.CreateCollection("spam_phrases", nil, embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}

	return &SpamIndex{db: db, collection: collection}, nil
}

// LoadPhrases embeds and indexes the spam corpus. Must be called before the
// index reports Ready.
func (s *SpamIndex) LoadPhrases(ctx context.Context, phrases []SpamPhrase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(phrases) == 0 {
		return fmt.Errorf("no phrases to index")
	}

	docs := make([]chromem.Document, len(phrases))
	for i, p := range phrases {
		docs[i] = chromem.Document{
			ID:      fmt.Sprintf("phrase_%d", i),
			Content: p.Text,
			Metadata: map[string]string{
				"language": p.Language,
			},
		}
	}

	// Sequential insert keeps load on the embedding endpoint predictable.
	if err := s.collection.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("failed to add phrases: %w", err)
	}

	s.ready = true
	return nil
}

// Ready implements SimilarityIndex.
func (s *SpamIndex) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// Similarity implements SimilarityIndex. Queries are lowercased before
// embedding for better similarity matching.
func (s *SpamIndex) Similarity(ctx context.Context, content string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.ready {
		return 0, fmt.Errorf("spam index not loaded")
	}

	results, err := s.collection.Query(ctx, strings.ToLower(content), 1, nil, nil)
	if err != nil {
		return 0, fmt.Errorf("query failed: %w", err)
	}
	if len(results) == 0 {
		return 0, nil
	}
	return float64(results[0].Similarity), nil
}

// OllamaEmbedder calls an Ollama-compatible /api/embeddings endpoint.
type OllamaEmbedder struct {
	model   string
	baseURL string
	client  *http.Client
}

// NewOllamaEmbedder creates an embedder against the given base URL.
func NewOllamaEmbedder(model, baseURL string) *OllamaEmbedder {
	return &OllamaEmbedder{
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httputil.MediumClient(),
	}
}

// Embed implements EmbeddingProvider.
func (o *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	reqBody := map[string]string{
		"model":  o.model,
		"prompt": text,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/embeddings", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httputil.DrainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		body, _ := httputil.ReadErrorBody(resp.Body)
		return nil, fmt.Errorf("embedding endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return result.Embedding, nil
}
