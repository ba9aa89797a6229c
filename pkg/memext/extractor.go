package memext

import (
	"sort"
	"strings"
	"time"
	"unicode"

	"sage/pkg/protocol"
)

// Config holds Extractor tuning knobs.
type Config struct {
	MinImportance  float64 // floor below which candidates are dropped (default 0.3)
	MaxPerSession  int     // cap on candidates per summary (default 10)
	DedupThreshold float64 // content similarity threshold for merges (default 0.7)
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.MinImportance == 0 {
		out.MinImportance = 0.3
	}
	if out.MaxPerSession == 0 {
		out.MaxPerSession = 10
	}
	if out.DedupThreshold == 0 {
		out.DedupThreshold = 0.7
	}
	return out
}

// Extractor is the stateless pattern engine. One instance is shared by the
// orchestration service; it holds only the compiled table and config.
type Extractor struct {
	cfg      Config
	patterns []pattern

	// nowFunc allows tests to control extraction timestamps.
	nowFunc func() time.Time
}

// New creates an Extractor with the embedded pattern table.
func New(cfg Config) (*Extractor, error) {
	pats, err := loadPatterns()
	if err != nil {
		return nil, err
	}
	return &Extractor{cfg: cfg.withDefaults(), patterns: pats, nowFunc: time.Now}, nil
}

// Extract mines memory candidates from a session summary. Candidates carry
// type, content, importance, optional expiry, and provenance metadata; the
// persistence step assigns ids and namespace/profile ownership.
func (e *Extractor) Extract(sum protocol.SessionSummary) []protocol.Memory {
	now := e.nowFunc()
	blob := summaryBlob(sum)

	var cands []protocol.Memory
	for _, p := range e.patterns {
		for _, m := range p.re.FindAllStringSubmatch(blob, -1) {
			content := strings.TrimSpace(strings.TrimRight(m[1], ".。"))
			if content == "" {
				continue
			}
			cands = append(cands, e.candidate(sum, now, p.Type, content, p.Importance, p.ExpiryDays))
		}
	}

	// Structural extractors: one memory per recorded error and decision.
	for _, errText := range sum.Errors {
		if errText = strings.TrimSpace(errText); errText != "" {
			cands = append(cands, e.candidate(sum, now, protocol.MemoryExperience,
				"encountered: "+errText, 0.5, 30))
		}
	}
	for _, dec := range sum.Decisions {
		if dec = strings.TrimSpace(dec); dec != "" {
			cands = append(cands, e.candidate(sum, now, protocol.MemoryKnowledge, dec, 0.7, 0))
		}
	}

	// In-batch dedup by same-type content similarity, keeping the
	// higher-importance variant.
	var kept []protocol.Memory
	for _, c := range cands {
		dup := -1
		for i, k := range kept {
			if k.Type == c.Type && ContentSimilarity(k.Content, c.Content) >= e.cfg.DedupThreshold {
				dup = i
				break
			}
		}
		if dup < 0 {
			kept = append(kept, c)
		} else if c.Importance > kept[dup].Importance {
			kept[dup] = c
		}
	}

	// Importance floor, sort descending, per-session cap.
	filtered := kept[:0]
	for _, c := range kept {
		if c.Importance >= e.cfg.MinImportance {
			filtered = append(filtered, c)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Importance > filtered[j].Importance
	})
	if len(filtered) > e.cfg.MaxPerSession {
		filtered = filtered[:e.cfg.MaxPerSession]
	}
	return filtered
}

// candidate stamps one memory candidate with provenance metadata.
func (e *Extractor) candidate(sum protocol.SessionSummary, now time.Time, typ protocol.MemoryType, content string, importance float64, expiryDays int) protocol.Memory {
	m := protocol.Memory{
		Type:       typ,
		Content:    content,
		Importance: importance,
		Metadata: protocol.MemoryMetadata{
			Source:      "summary_extraction",
			SessionID:   sum.SessionID,
			ExtractedAt: now.UTC().Format(time.RFC3339),
			Keywords:    contentKeywords(content),
		},
	}
	if expiryDays > 0 {
		m.ExpiresAt = now.UTC().Add(time.Duration(expiryDays) * 24 * time.Hour).Format(time.DateTime)
	}
	return m
}

// summaryBlob concatenates the summary's free-text fields into one scan
// target for the pattern table.
func summaryBlob(sum protocol.SessionSummary) string {
	parts := []string{sum.RecentActivity}
	parts = append(parts, sum.CodeChanges...)
	parts = append(parts, sum.Decisions...)
	for _, td := range sum.Todos {
		parts = append(parts, td.Title)
	}
	return strings.Join(parts, "\n")
}

// ContentSimilarity returns the Jaccard similarity of two contents' token
// sets. Text without spaces (CJK) falls back to rune bigrams so the measure
// stays meaningful for both locales the pattern table covers.
func ContentSimilarity(a, b string) float64 {
	sa, sb := tokenSet(a), tokenSet(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	inter := 0
	for t := range sa {
		if _, ok := sb[t]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(sa)+len(sb)-inter)
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	out := make(map[string]struct{})
	for _, f := range fields {
		runes := []rune(f)
		if len(runes) > 1 && isCJK(runes[0]) {
			for i := 0; i+1 < len(runes); i++ {
				out[string(runes[i:i+2])] = struct{}{}
			}
			continue
		}
		if len(runes) >= 2 {
			out[f] = struct{}{}
		}
	}
	return out
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r)
}

// contentKeywords returns up to eight distinctive tokens for provenance
// metadata.
func contentKeywords(content string) []string {
	set := tokenSet(content)
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	if len(out) > 8 {
		out = out[:8]
	}
	return out
}
