// Package profile keeps slow-changing facts about a user's brand and
// preferences across sessions, backed by an embedded vector database so new
// sessions can recall what earlier campaigns established.
package profile

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/campaignkit/campaignkit/core"
)

// Embedder converts text to a vector for similarity recall.
//
// Implementations: LocalEmbedder (deterministic, offline), or any
// API-backed embedder in production.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// Store holds per-user profile facts. Each user gets their own chromem
// collection for namespace isolation.
type Store struct {
	db          *chromem.DB
	collections map[string]*chromem.Collection
	mu          sync.RWMutex
	embedder    Embedder
	log         zerolog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreLogger sets the store logger.
func WithStoreLogger(log zerolog.Logger) StoreOption {
	return func(s *Store) { s.log = log }
}

// NewStore builds an in-process profile store.
func NewStore(embedder Embedder, opts ...StoreOption) (*Store, error) {
	if embedder == nil {
		return nil, errors.New("profile: embedder is required")
	}
	s := &Store{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
		embedder:    embedder,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) collection(userID string) (*chromem.Collection, error) {
	s.mu.RLock()
	col, ok := s.collections[userID]
	s.mu.RUnlock()
	if ok {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if col, ok := s.collections[userID]; ok {
		return col, nil
	}

	name := fmt.Sprintf("user_%s", userID)
	col, err := s.db.CreateCollection(name, nil, nil)
	if err != nil {
		return nil, errors.Wrap(err, "creating profile collection")
	}
	s.collections[userID] = col
	return col, nil
}

// Record stores one profile fact for a user.
func (s *Store) Record(ctx context.Context, userID, fact string) error {
	fact = strings.TrimSpace(fact)
	if fact == "" {
		return nil
	}
	col, err := s.collection(userID)
	if err != nil {
		return err
	}
	emb, err := s.embedder.Embed(ctx, fact)
	if err != nil {
		return errors.Wrap(err, "embedding profile fact")
	}
	doc := chromem.Document{
		ID:        uuid.NewString(),
		Content:   fact,
		Embedding: emb,
		Metadata: map[string]string{
			"user_id":    userID,
			"created_at": time.Now().UTC().Format(time.RFC3339),
		},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return errors.Wrap(err, "storing profile fact")
	}
	s.log.Debug().Str("user_id", userID).Msg("[profile] recorded fact")
	return nil
}

// Recall returns up to limit facts most similar to the query, best first.
func (s *Store) Recall(ctx context.Context, userID, query string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 5
	}
	col, err := s.collection(userID)
	if err != nil {
		return nil, err
	}
	emb, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "embedding profile query")
	}

	// chromem requires nResults <= collection size; retry smaller.
	var results []chromem.Result
	for n := limit; n >= 1; n-- {
		results, err = col.QueryEmbedding(ctx, emb, n, map[string]string{"user_id": userID}, nil)
		if err == nil {
			break
		}
		if isInsufficientDocs(err) {
			if n == 1 {
				return nil, nil
			}
			continue
		}
		return nil, errors.Wrap(err, "querying profile facts")
	}

	facts := make([]string, 0, len(results))
	for _, r := range results {
		facts = append(facts, r.Content)
	}
	return facts, nil
}

// SeedContext recalls a user's established preferences and plants them into
// a fresh session context so returning users are not asked everything again.
func (s *Store) SeedContext(ctx context.Context, userID string, cm *core.ContextModel) error {
	facts, err := s.Recall(ctx, userID, "brand voice, preferred platforms, campaign preferences", 5)
	if err != nil {
		return err
	}
	if len(facts) == 0 {
		return nil
	}
	delta := core.Delta{core.SlotPreferences: core.ListValue(facts...)}
	if err := cm.Apply(delta, core.StageGreeting); err != nil {
		return errors.Wrap(err, "seeding context with profile facts")
	}
	s.log.Info().Str("user_id", userID).Int("facts", len(facts)).Msg("[profile] seeded session context")
	return nil
}

func isInsufficientDocs(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") || strings.Contains(msg, "number of documents")
}
