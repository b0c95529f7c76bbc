package config

import (
	"os"
	"path/filepath"
)

// candidateLists names, per file-path field, the ordered fallback filenames
// to try (relative to "<root>/.ralph/") when the configured primary path is
// absent. This is what keeps a stale filename in an old ralph.toml from
// crashing a downstream component: PROMPT.md was the original name before
// PROMPT_build.md, and the resolver still knows about it (see the Open
// Question in spec.md §9 about the two coexisting).
var candidateLists = map[string][]string{
	"prompt": {"PROMPT_build.md", "PROMPT.md"},
	"prd":    {"PRD.md", "prd.json", "tasks.yaml"},
}

// resolveFilePaths resolves cfg.Files.Prompt and cfg.Files.PRD under
// "<root>/.ralph/": the configured name if that file exists, else the first
// candidate that exists, else the configured value unresolved (a fresh
// project has none of these files yet; the engine creates them on first
// use). The other cfg.Files fields are left as configured.
func resolveFilePaths(cfg *Config, projectRoot string) {
	dir := filepath.Join(projectRoot, ".ralph")

	cfg.Files.Prompt = resolveOne(dir, "prompt", cfg.Files.Prompt)
	cfg.Files.PRD = resolveOne(dir, "prd", cfg.Files.PRD)
}

func resolveOne(dir, field, configured string) string {
	if configured != "" {
		if exists(filepath.Join(dir, configured)) {
			return configured
		}
	}
	for _, candidate := range candidateLists[field] {
		if exists(filepath.Join(dir, candidate)) {
			return candidate
		}
	}
	if configured != "" {
		return configured
	}
	if candidates := candidateLists[field]; len(candidates) > 0 {
		return candidates[0]
	}
	return configured
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
