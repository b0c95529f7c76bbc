package gate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jscraik/ralph-gold/internal/config"
	"github.com/jscraik/ralph-gold/internal/state"
)

// ReviewRunner is the gates.review backend contract: given a diff, produce a
// tri-state verdict plus raw output for the receipt. Two implementations
// exist per gates.review.backend = "runner|repoprompt" (spec.md §6):
// runnerReview re-uses the agent-subprocess path like Judge; the
// repoprompt backend (original_source's repoprompt.py) instead calls a
// local RepoPrompt review-tool HTTP endpoint.
type ReviewRunner interface {
	Review(ctx context.Context, dir string, diff string) (state.TriState, string, error)
}

// NewReviewRunner selects a ReviewRunner implementation by
// cfg.Backend ("runner" default, "repoprompt" alternative).
func NewReviewRunner(cfg config.ReviewConfig, run AgentRunner) ReviewRunner {
	if cfg.Backend == "repoprompt" {
		return &repoPromptReview{cfg: cfg}
	}
	return &runnerReview{cfg: cfg, run: run}
}

type runnerReview struct {
	cfg config.ReviewConfig
	run AgentRunner
}

func (r *runnerReview) Review(ctx context.Context, dir, diff string) (state.TriState, string, error) {
	if !r.cfg.Enabled {
		return state.Absent, "", nil
	}
	prompt := r.cfg.Prompt + "\n\n" + truncateChars(diff, r.cfg.MaxDiffChars)
	output, err := r.run(ctx, dir, r.cfg.Agent, prompt)
	if err != nil {
		return state.Absent, "", err
	}
	verdict := parseVerdict(output, "REVIEW_OK")
	if r.cfg.RequiredToken != "" && verdict == state.Absent {
		return state.False, output, nil
	}
	return verdict, output, nil
}

// repoPromptReview talks to a local RepoPrompt review-tool HTTP endpoint, as
// the original's repoprompt.py does (spec.md's "repoprompt" review backend
// enum value). It is grounded on the original's plain request/response
// contract: POST the diff, read back an {"approved": bool} JSON body.
type repoPromptReview struct {
	cfg    config.ReviewConfig
	client *http.Client
}

type repoPromptRequest struct {
	Prompt string `json:"prompt"`
	Diff   string `json:"diff"`
}

type repoPromptResponse struct {
	Approved bool   `json:"approved"`
	Comment  string `json:"comment"`
}

func (r *repoPromptReview) Review(ctx context.Context, dir, diff string) (state.TriState, string, error) {
	if !r.cfg.Enabled {
		return state.Absent, "", nil
	}
	client := r.client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	body, err := json.Marshal(repoPromptRequest{Prompt: r.cfg.Prompt, Diff: truncateChars(diff, r.cfg.MaxDiffChars)})
	if err != nil {
		return state.Absent, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://localhost:8675/review", bytes.NewReader(body))
	if err != nil {
		return state.Absent, "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		// RepoPrompt is a best-effort local tool; its absence degrades to
		// "no verdict" rather than failing the iteration.
		return state.Absent, "", nil
	}
	defer resp.Body.Close()

	var decoded repoPromptResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return state.Absent, "", fmt.Errorf("repoprompt: decode response: %w", err)
	}
	return state.FromBool(decoded.Approved), decoded.Comment, nil
}
