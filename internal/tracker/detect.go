package tracker

import (
	"os"
	"path/filepath"
)

// detectKind probes "<projectRoot>/.ralph" for a known backing file, in the
// same priority order the Markdown/JSON/YAML backends are documented in
// spec.md §6: Markdown PRD first (the common case), then JSON, then YAML.
func detectKind(projectRoot string) string {
	dir := filepath.Join(projectRoot, ".ralph")
	candidates := []struct {
		file string
		kind string
	}{
		{"PRD.md", "markdown"},
		{"prd.json", "json"},
		{"tasks.yaml", "yaml"},
	}
	for _, c := range candidates {
		if _, err := os.Stat(filepath.Join(dir, c.file)); err == nil {
			return c.kind
		}
	}
	return "markdown"
}
