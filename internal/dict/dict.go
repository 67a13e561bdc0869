// Package dict implements reading substitution: per-guild and global word
// dictionaries merged into one view and applied to normalized text in a
// single pass.
package dict

import (
	"context"
	"time"
)

// GlobalScope is the scope value of entries shared by every guild.
const GlobalScope = ""

// Entry is one surface-to-reading substitution.
type Entry struct {
	// Scope is the owning guild ID, or GlobalScope for shared entries.
	Scope string

	// Surface is the text to replace. Unique within a scope.
	Surface string

	// Reading is the replacement spoken in its place.
	Reading string

	// Priority breaks ties between same-length matches. Higher wins.
	Priority int

	CreatedAt time.Time
}

// Store is the persistence boundary for dictionary entries.
type Store interface {
	// Entries returns the merged entry set visible to a guild: the
	// guild's own entries plus the global scope.
	Entries(ctx context.Context, guildID string) ([]Entry, error)

	// List returns the entries of exactly one scope.
	List(ctx context.Context, scope string) ([]Entry, error)

	// Add inserts or replaces the entry for (scope, surface).
	Add(ctx context.Context, e Entry) error

	// Remove deletes the entry for (scope, surface). Removing an absent
	// entry is not an error; ok reports whether anything was deleted.
	Remove(ctx context.Context, scope, surface string) (ok bool, err error)
}
