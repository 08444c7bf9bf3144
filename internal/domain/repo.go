package domain

import "time"

// RepoRecord is a projection of FileRecord by (Owner, Repo), carrying
// enrichment fields populated by the metadata fetch pass. It is absent
// from the result store until that pass runs for a given repository.
type RepoRecord struct {
	Owner string
	Repo  string

	Description   string
	Stars         int
	Forks         int
	Watchers      int
	Topics        []string
	License       string
	Language      string
	DefaultBranch string

	CreatedAt time.Time
	UpdatedAt time.Time
	PushedAt  time.Time
}

// Key returns the "owner/repo" identifier used as the map key in the
// repo_metadata.json sidecar dump.
func (r RepoRecord) Key() string {
	return r.Owner + "/" + r.Repo
}
