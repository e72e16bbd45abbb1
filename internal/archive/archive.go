// Package archive persists finished calls: one row per call, the turn
// transcript, and an embedding per transcript entry so past conversations can
// be searched semantically.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/talkwire-ai/talkwire/pkg/provider/embeddings"
	"github.com/talkwire-ai/talkwire/pkg/types"
)

// CallRecord summarizes one finished call.
type CallRecord struct {
	CallID    string
	AccountID string
	CallerID  string
	StartedAt time.Time
	EndedAt   time.Time
	Turns     int

	// Outcome records how the call ended: "completed", "silence_timeout",
	// "degraded", "insufficient_balance", "error".
	Outcome string
}

// TranscriptEntry is one archived conversation turn.
type TranscriptEntry struct {
	CallID   string
	Seq      int
	Role     types.Role
	Text     string
	SpokenAt time.Time
}

// SearchHit pairs a transcript entry with its cosine distance to the query.
type SearchHit struct {
	Entry    TranscriptEntry
	Distance float64
}

// Store is the persistence contract for archived calls.
type Store interface {
	// SaveCall upserts the call summary row.
	SaveCall(ctx context.Context, rec CallRecord) error

	// SaveTranscript stores the call's transcript entries. embeddings is
	// parallel to entries and may be nil when no embedding provider is
	// configured.
	SaveTranscript(ctx context.Context, entries []TranscriptEntry, embeddings [][]float32) error

	// SearchTranscripts returns the topK entries for the account closest to
	// the query embedding, most similar first.
	SearchTranscripts(ctx context.Context, accountID string, embedding []float32, topK int) ([]SearchHit, error)
}

// Archiver writes finished calls to a Store, embedding transcript text when
// an embedding provider is available.
type Archiver struct {
	store Store
	embed embeddings.Provider // nil disables semantic indexing
}

// NewArchiver creates an Archiver. embed may be nil; transcripts are then
// stored without embeddings and SearchCalls is unavailable.
func NewArchiver(store Store, embed embeddings.Provider) *Archiver {
	return &Archiver{store: store, embed: embed}
}

// ArchiveCall persists the call summary and its transcript. An embedding
// failure downgrades to keyword-less storage rather than losing the
// transcript.
func (a *Archiver) ArchiveCall(ctx context.Context, rec CallRecord, transcript []types.Message) error {
	if err := a.store.SaveCall(ctx, rec); err != nil {
		return fmt.Errorf("archive: save call %s: %w", rec.CallID, err)
	}

	entries := make([]TranscriptEntry, 0, len(transcript))
	texts := make([]string, 0, len(transcript))
	for i, msg := range transcript {
		if msg.Content == "" {
			continue
		}
		entries = append(entries, TranscriptEntry{
			CallID:   rec.CallID,
			Seq:      i,
			Role:     msg.Role,
			Text:     msg.Content,
			SpokenAt: msg.Timestamp,
		})
		texts = append(texts, msg.Content)
	}
	if len(entries) == 0 {
		return nil
	}

	var vectors [][]float32
	if a.embed != nil {
		vecs, err := a.embed.Embed(ctx, texts)
		if err != nil {
			slog.Warn("transcript embedding failed, archiving without index",
				"callID", rec.CallID, "error", err)
		} else {
			vectors = vecs
		}
	}

	if err := a.store.SaveTranscript(ctx, entries, vectors); err != nil {
		return fmt.Errorf("archive: save transcript %s: %w", rec.CallID, err)
	}
	return nil
}

// SearchCalls finds transcript entries for the account semantically close to
// query. Nothing in the call path consumes it; it exists for external
// tooling built over the archive, such as support dashboards and offline
// transcript review.
func (a *Archiver) SearchCalls(ctx context.Context, accountID, query string, topK int) ([]SearchHit, error) {
	if a.embed == nil {
		return nil, fmt.Errorf("archive: no embedding provider configured")
	}
	vecs, err := a.embed.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("archive: embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("archive: expected 1 query embedding, got %d", len(vecs))
	}
	hits, err := a.store.SearchTranscripts(ctx, accountID, vecs[0], topK)
	if err != nil {
		return nil, fmt.Errorf("archive: search: %w", err)
	}
	return hits, nil
}
