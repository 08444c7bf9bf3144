package domain

// FileRecord is one discovered source file, uniquely identified by the
// tuple (Owner, Repo, Ref, Path). It is created exactly once per tuple
// by the collector and never mutated after creation.
type FileRecord struct {
	// Owner is the repository owner (user or organization) login.
	Owner string

	// Repo is the repository name, without the owner prefix.
	Repo string

	// Ref is the git ref the search hit was resolved against — usually
	// the repository's default branch at the time of the search.
	Ref string

	// Path is the file path within the repository, relative to the
	// repository root.
	Path string

	// SHA is the blob content hash reported by the host for this file.
	SHA string

	// Size is the file's byte size. The collector leaves it zero, since
	// code search reports no per-item size.
	Size int64

	// URL is the browsable URL for the file (html_url from the search
	// result), used as the stable external identifier in sidecar JSON
	// dumps. It is the host's web page for the file, not a raw-content
	// download URL.
	URL string
}

// Key returns the (owner, repo, ref, path) tuple joined as a single
// string, suitable for use as a map key or log field. It is never
// parsed back into its parts; callers that need the parts keep them
// separately.
func (f FileRecord) Key() string {
	return f.Owner + "/" + f.Repo + "/" + f.Ref + "/" + f.Path
}

// RepoKey returns the (owner, repo) tuple joined as "owner/repo".
func (f FileRecord) RepoKey() string {
	return f.Owner + "/" + f.Repo
}

// ContentPath returns the path under a content root this file's bytes
// are stored at: owner/repo/blob/ref/path.
func (f FileRecord) ContentPath() string {
	return f.Owner + "/" + f.Repo + "/blob/" + f.Ref + "/" + f.Path
}
