// Package config loads the environment-variable configuration ghshard
// needs to run: the host API token and the on-disk paths C1 and C3
// default to. It is deliberately thin — a settings wizard or layered
// config file format is out of scope for this collector (spec.md
// marks "environment/settings loading" as an external collaborator);
// this package carries only the ambient minimum every run needs.
package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// AppName names the subdirectory used under the user's cache and home
// directories.
const AppName = "ghshard"

// ErrMissingToken is returned when neither GITHUB_TOKEN nor GH_TOKEN is set.
var ErrMissingToken = errors.New("config: GITHUB_TOKEN (or GH_TOKEN) is not set")

// Config holds the resolved configuration for a single run.
type Config struct {
	// Token is the host API token, read from GITHUB_TOKEN or, failing
	// that, GH_TOKEN (for parity with the gh CLI's own convention).
	Token string

	// CacheDir is C1's cache root. Defaults to ~/.cache/ghshard.
	CacheDir string

	// DBPath is C3's result store path. Defaults to ./files.db.
	DBPath string

	// ContentDir is C5's content-pass output root. Defaults to ./content.
	ContentDir string

	// SkipCache disables C1 reads (writes still occur).
	SkipCache bool

	// GraphQL selects the batched graph strategy over the per-item
	// REST strategy for C5 passes.
	GraphQL bool

	// BatchSize overrides the default batch size for the graph
	// strategy (50 for content/metadata, 20 for history) when > 0.
	BatchSize int
}

// Load reads configuration from the environment. It first attempts to
// load a .env file from the working directory via godotenv; a missing
// .env file is not an error, since most runs rely on an already
// exported GITHUB_TOKEN.
func Load() (*Config, error) {
	_ = godotenv.Load()

	token := os.Getenv("GITHUB_TOKEN")
	if token == "" {
		token = os.Getenv("GH_TOKEN")
	}
	if token == "" {
		return nil, ErrMissingToken
	}

	cacheDir, err := DefaultCacheDir()
	if err != nil {
		return nil, err
	}

	return &Config{
		Token:      token,
		CacheDir:   cacheDir,
		DBPath:     "files.db",
		ContentDir: "content",
	}, nil
}

// DefaultCacheDir returns ~/.cache/ghshard, creating no directories.
func DefaultCacheDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", AppName), nil
}
