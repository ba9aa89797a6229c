package memext

import (
	"context"
	"fmt"

	"sage/pkg/protocol"
	"sage/pkg/store"

	"github.com/google/uuid"
)

// Persist writes extracted candidates into the store. For each candidate it
// searches existing memories of the same type for one exceeding the dedup
// threshold; a hit is merged in place (importance raised to the max, content
// replaced, expiry extended) instead of inserting a new row. Returns counts
// of inserted and merged memories.
func (e *Extractor) Persist(ctx context.Context, st *store.Store, namespace, profileID string, cands []protocol.Memory) (inserted, merged int, err error) {
	for _, c := range cands {
		existing, err := st.SearchMemories(ctx, c.Content, store.MemorySearchOpts{
			ProfileID: profileID,
			Type:      c.Type,
			Limit:     5,
		})
		if err != nil {
			return inserted, merged, fmt.Errorf("search for merge: %w", err)
		}

		var hit *protocol.Memory
		for i := range existing {
			if ContentSimilarity(existing[i].Content, c.Content) >= e.cfg.DedupThreshold {
				hit = &existing[i]
				break
			}
		}

		if hit != nil {
			importance := hit.Importance
			if c.Importance > importance {
				importance = c.Importance
			}
			expiry := hit.ExpiresAt
			if c.ExpiresAt > expiry {
				expiry = c.ExpiresAt
			}
			if err := st.UpdateMemory(ctx, hit.ID, c.Content, importance, expiry); err != nil {
				return inserted, merged, fmt.Errorf("merge memory: %w", err)
			}
			merged++
			continue
		}

		c.ID = uuid.NewString()
		c.Namespace = namespace
		c.ProfileID = profileID
		if err := st.CreateMemory(ctx, c); err != nil {
			return inserted, merged, fmt.Errorf("insert memory: %w", err)
		}
		inserted++
	}
	return inserted, merged, nil
}
