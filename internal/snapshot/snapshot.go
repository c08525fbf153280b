// Package snapshot holds the gateway's in-memory copy of project and API key
// configuration. A Snapshot is immutable once built; the Store swaps whole
// snapshots atomically so request handlers never observe a partial update.
package snapshot

import (
	"fmt"
	"net/url"
	"time"
)

// RateLimitPolicy describes a project's request quota.
type RateLimitPolicy struct {
	RequestsPerWindow int           `json:"requests_per_window"`
	Window            time.Duration `json:"window"`
	Burst             int           `json:"burst"`
}

// ProjectEntry is one configured tenant. Entries are immutable once part of
// a snapshot; refreshes replace the whole snapshot rather than mutating it.
type ProjectEntry struct {
	ProjectID        string
	UpstreamBaseURL  string
	AllowedKeyHashes []string
	// RateLimitPolicy is nil when the control plane supplied no policy;
	// the limiter then applies its strictest default, never unlimited.
	RateLimitPolicy *RateLimitPolicy
}

// Snapshot is an immutable, versioned collection of project entries plus a
// reverse index from key hash to owning project. Key hashes are globally
// unique across projects.
type Snapshot struct {
	version   int64
	fetchedAt time.Time

	projects  map[string]*ProjectEntry
	byKeyHash map[string]*ProjectEntry
}

// Build validates entries and assembles a snapshot. A snapshot is either
// fully valid or never created: empty input, malformed upstream URLs, empty
// or duplicate key hashes all fail the build so the caller can discard the
// fetch and keep serving the previous snapshot.
func Build(version int64, fetchedAt time.Time, entries []*ProjectEntry) (*Snapshot, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("snapshot must contain at least one project")
	}

	projects := make(map[string]*ProjectEntry, len(entries))
	byKeyHash := make(map[string]*ProjectEntry)

	for _, entry := range entries {
		if entry == nil {
			return nil, fmt.Errorf("snapshot contains a nil project entry")
		}
		if entry.ProjectID == "" {
			return nil, fmt.Errorf("project entry is missing a project ID")
		}
		if _, exists := projects[entry.ProjectID]; exists {
			return nil, fmt.Errorf("duplicate project ID %q", entry.ProjectID)
		}

		u, err := url.Parse(entry.UpstreamBaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("project %q has an invalid upstream URL %q", entry.ProjectID, entry.UpstreamBaseURL)
		}

		if len(entry.AllowedKeyHashes) == 0 {
			return nil, fmt.Errorf("project %q has no allowed key hashes", entry.ProjectID)
		}
		for _, hash := range entry.AllowedKeyHashes {
			if len(hash) != 64 {
				return nil, fmt.Errorf("project %q has a malformed key hash", entry.ProjectID)
			}
			if owner, exists := byKeyHash[hash]; exists {
				return nil, fmt.Errorf("key hash shared between projects %q and %q", owner.ProjectID, entry.ProjectID)
			}
			byKeyHash[hash] = entry
		}

		projects[entry.ProjectID] = entry
	}

	return &Snapshot{
		version:   version,
		fetchedAt: fetchedAt,
		projects:  projects,
		byKeyHash: byKeyHash,
	}, nil
}

// Version returns the snapshot's monotonic version.
func (s *Snapshot) Version() int64 {
	return s.version
}

// FetchedAt returns when the snapshot was fetched from the control plane.
func (s *Snapshot) FetchedAt() time.Time {
	return s.fetchedAt
}

// Lookup resolves a key hash to its owning project entry.
func (s *Snapshot) Lookup(keyHash string) (*ProjectEntry, bool) {
	entry, ok := s.byKeyHash[keyHash]
	return entry, ok
}

// ProjectCount returns the number of configured projects.
func (s *Snapshot) ProjectCount() int {
	return len(s.projects)
}

// KeyCount returns the number of indexed key hashes.
func (s *Snapshot) KeyCount() int {
	return len(s.byKeyHash)
}
