package cliutil

import (
	"encoding/json"
	"fmt"
	"os"
)

// WriteJSONMap writes v (expected to be a map[string]T, the output
// shape every enrichment pass produces) to path as indented JSON,
// creating the file if absent and truncating it otherwise.
func WriteJSONMap(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cliutil: create %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("cliutil: encode %s: %w", path, err)
	}
	return nil
}
