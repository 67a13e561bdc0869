package dict

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"unicode/utf8"
)

// Resolver applies dictionary substitutions to normalized text.
//
// Resolution is a single left-to-right pass over the input: at each position
// the longest matching surface wins, matched regions are consumed (a reading
// is never re-matched), and unmatched text is copied through unchanged.
// Matching is case-insensitive for ASCII letters only, so byte offsets stay
// aligned for non-ASCII text.
type Resolver struct {
	store Store
	log   *slog.Logger
}

// NewResolver creates a Resolver over the given store.
func NewResolver(store Store, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{store: store, log: log}
}

// Apply substitutes dictionary readings into text for the given guild.
// Guild entries shadow global entries with the same surface. A store failure
// fails open: the text is returned unchanged so speech keeps flowing.
func (r *Resolver) Apply(ctx context.Context, guildID, text string) string {
	if text == "" {
		return text
	}

	entries, err := r.store.Entries(ctx, guildID)
	if err != nil {
		r.log.Warn("dictionary lookup failed, reading text as-is",
			"guild_id", guildID, "err", err)
		return text
	}
	if len(entries) == 0 {
		return text
	}

	return Substitute(text, effective(entries))
}

// Substitute runs the single-pass substitution of entries into text.
// Entries must already be deduplicated per surface; order is irrelevant.
func Substitute(text string, entries []Entry) string {
	cands := make([]candidate, 0, len(entries))
	for _, e := range entries {
		if e.Surface == "" {
			continue
		}
		cands = append(cands, candidate{folded: asciiFold(e.Surface), entry: e})
	}
	if len(cands) == 0 {
		return text
	}

	// Longest surface first; priority then recency break length ties.
	// The first prefix match at a position is then the winner.
	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if len(a.folded) != len(b.folded) {
			return len(a.folded) > len(b.folded)
		}
		if a.entry.Priority != b.entry.Priority {
			return a.entry.Priority > b.entry.Priority
		}
		return a.entry.CreatedAt.After(b.entry.CreatedAt)
	})

	folded := asciiFold(text)

	var out strings.Builder
	out.Grow(len(text))
	for i := 0; i < len(text); {
		matched := false
		for _, c := range cands {
			if strings.HasPrefix(folded[i:], c.folded) {
				out.WriteString(c.entry.Reading)
				i += len(c.folded)
				matched = true
				break
			}
		}
		if !matched {
			_, size := utf8.DecodeRuneInString(text[i:])
			out.WriteString(text[i : i+size])
			i += size
		}
	}
	return out.String()
}

type candidate struct {
	folded string
	entry  Entry
}

// effective collapses a merged entry list so that a guild entry shadows a
// global entry with the same (case-folded) surface.
func effective(entries []Entry) []Entry {
	bySurface := make(map[string]Entry, len(entries))
	for _, e := range entries {
		key := asciiFold(e.Surface)
		cur, ok := bySurface[key]
		if !ok || (cur.Scope == GlobalScope && e.Scope != GlobalScope) {
			bySurface[key] = e
		}
	}
	out := make([]Entry, 0, len(bySurface))
	for _, e := range bySurface {
		out = append(out, e)
	}
	return out
}

// asciiFold lowercases ASCII letters only, preserving byte length so folded
// offsets map one-to-one onto the original string.
func asciiFold(s string) string {
	hasUpper := false
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= 'A' && c <= 'Z' {
			hasUpper = true
			break
		}
	}
	if !hasUpper {
		return s
	}
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
