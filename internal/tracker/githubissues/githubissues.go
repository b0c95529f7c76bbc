// Package githubissues implements the GitHub issue Tracker backend
// (spec.md §4.C): tasks are open issues, filtered to those carrying
// cfg.LabelFilter when it is set, sorted by (milestone number, created_at),
// with acceptance criteria parsed from an "## Acceptance Criteria" Markdown
// section in the issue body. Writes (closing, commenting, adding labels)
// are best-effort and never raise out of the engine: a failed close or
// block comment makes MarkTaskDone/BlockTask return false, other write
// errors are ignored, and no failure is logged.
package githubissues

import (
	"context"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v68/github"

	"github.com/jscraik/ralph-gold/internal/config"
	"github.com/jscraik/ralph-gold/internal/state"
	"github.com/jscraik/ralph-gold/internal/tracker"
)

func init() {
	tracker.Register("github_issues", func(projectRoot string) (tracker.Tracker, error) {
		// The registry Factory signature carries only a project root; the
		// GitHub backend additionally needs tracker.github.* settings, so
		// this factory always returns NeedsConfigError and the backend is
		// constructed with NewWithConfig instead of tracker.New("github_issues", ...).
		return nil, &NeedsConfigError{}
	})
}

// NeedsConfigError is returned by the bare registry factory: the GitHub
// backend cannot be constructed from a project root alone.
type NeedsConfigError struct{}

func (e *NeedsConfigError) Error() string {
	return "github_issues tracker requires tracker.github config; use NewWithConfig"
}

var groupLabelPattern = regexp.MustCompile(`^group:(.+)$`)
var acceptanceHeadingPattern = regexp.MustCompile(`(?i)^#+\s*acceptance criteria\s*$`)
var bulletPattern = regexp.MustCompile(`^\s*[-*]\s+(.+?)\s*$`)

// API is the subset of go-github's surface this backend needs, so tests can
// inject a fake without standing up an HTTP server.
type API interface {
	ListOpenIssues(ctx context.Context, owner, repo string) ([]*github.Issue, error)
	CloseIssue(ctx context.Context, owner, repo string, number int) error
	AddLabels(ctx context.Context, owner, repo string, number int, labels []string) error
	Comment(ctx context.Context, owner, repo, body string, number int) error
}

type ghAPI struct{ client *github.Client }

func (a *ghAPI) ListOpenIssues(ctx context.Context, owner, repo string) ([]*github.Issue, error) {
	var all []*github.Issue
	opts := &github.IssueListByRepoOptions{State: "open", ListOptions: github.ListOptions{PerPage: 100}}
	for {
		issues, resp, err := a.client.Issues.ListByRepo(ctx, owner, repo, opts)
		if err != nil {
			return nil, err
		}
		all = append(all, issues...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

func (a *ghAPI) CloseIssue(ctx context.Context, owner, repo string, number int) error {
	_, _, err := a.client.Issues.Edit(ctx, owner, repo, number, &github.IssueRequest{State: github.Ptr("closed")})
	return err
}

func (a *ghAPI) AddLabels(ctx context.Context, owner, repo string, number int, labels []string) error {
	_, _, err := a.client.Issues.AddLabelsToIssue(ctx, owner, repo, number, labels)
	return err
}

func (a *ghAPI) Comment(ctx context.Context, owner, repo, body string, number int) error {
	_, _, err := a.client.Issues.CreateComment(ctx, owner, repo, number, &github.IssueComment{Body: github.Ptr(body)})
	return err
}

// Tracker is the GitHub-backed implementation.
type Tracker struct {
	api    API
	owner  string
	repo   string
	cfg    config.GitHubConfig

	mu        sync.Mutex
	cached    []state.Task
	cachedAt  time.Time
}

// NewWithConfig constructs a GitHub Tracker from tracker.github settings.
func NewWithConfig(cfg config.GitHubConfig) (tracker.Tracker, error) {
	owner, repo, ok := strings.Cut(cfg.Repo, "/")
	if !ok {
		return nil, &InvalidRepoError{Repo: cfg.Repo}
	}
	client, err := authenticate(cfg)
	if err != nil {
		return nil, err
	}
	return &Tracker{api: &ghAPI{client: client}, owner: owner, repo: repo, cfg: cfg}, nil
}

// InvalidRepoError is returned when tracker.github.repo is not "owner/repo".
type InvalidRepoError struct{ Repo string }

func (e *InvalidRepoError) Error() string { return "github_issues: invalid repo " + e.Repo }

// authenticate resolves a token per spec.md's auth_method enum: "gh_cli"
// shells out to `gh auth token` (the original's github_auth.py approach),
// "token" reads the configured environment variable.
func authenticate(cfg config.GitHubConfig) (*github.Client, error) {
	switch cfg.AuthMethod {
	case "token":
		return github.NewClient(nil).WithAuthToken(tokenFromEnv(cfg.TokenEnv)), nil
	default: // "gh_cli" and empty both default to the gh CLI
		out, err := exec.Command("gh", "auth", "token").Output()
		if err != nil {
			return nil, &AuthError{Cause: err}
		}
		return github.NewClient(nil).WithAuthToken(strings.TrimSpace(string(out))), nil
	}
}

// AuthError wraps a failure to resolve GitHub credentials.
type AuthError struct{ Cause error }

func (e *AuthError) Error() string { return "github_issues: auth failed: " + e.Cause.Error() }
func (e *AuthError) Unwrap() error { return e.Cause }

func tokenFromEnv(name string) string {
	if name == "" {
		name = "GITHUB_TOKEN"
	}
	return os.Getenv(name)
}

func itoa(n int) string { return strconv.Itoa(n) }

// atoiSafe parses a task ID back into an issue number; IDs originate
// from itoa(issue.GetNumber()) so a parse failure means the ID came
// from a different tracker backend and is a caller bug, not user input.
func atoiSafe(id string) int {
	n, _ := strconv.Atoi(id)
	return n
}

// fetch returns the cached task list, refreshing it from GitHub if the
// cache has expired or has never been populated. Any API failure degrades
// to "no selectable task" per the Tracker contract rather than propagating.
func (t *Tracker) fetch() []state.Task {
	t.mu.Lock()
	defer t.mu.Unlock()

	ttl := time.Duration(t.cfg.CacheTTLSeconds) * time.Second
	if ttl > 0 && time.Since(t.cachedAt) < ttl && t.cached != nil {
		return t.cached
	}

	issues, err := t.api.ListOpenIssues(context.Background(), t.owner, t.repo)
	if err != nil {
		if t.cached != nil {
			return t.cached // serve stale cache rather than nothing
		}
		return nil
	}
	tasks := issuesToTasks(issues, t.cfg)
	t.cached = tasks
	t.cachedAt = time.Now()
	return tasks
}

func issuesToTasks(issues []*github.Issue, cfg config.GitHubConfig) []state.Task {
	excluded := map[string]struct{}{}
	for _, l := range cfg.ExcludeLabels {
		excluded[l] = struct{}{}
	}

	var filtered []*github.Issue
	for _, issue := range issues {
		if issue.PullRequestLinks != nil {
			continue // issues endpoint also returns PRs; skip them
		}
		labels := labelNames(issue)
		if cfg.LabelFilter != "" && !containsLabel(labels, cfg.LabelFilter) {
			continue
		}
		if anyExcluded(labels, excluded) {
			continue
		}
		filtered = append(filtered, issue)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		mi, mj := milestoneNumber(filtered[i]), milestoneNumber(filtered[j])
		if mi != mj {
			return mi < mj
		}
		ci, cj := createdAt(filtered[i]), createdAt(filtered[j])
		return ci.Before(cj)
	})

	tasks := make([]state.Task, 0, len(filtered))
	for _, issue := range filtered {
		tasks = append(tasks, issueToTask(issue))
	}
	return tasks
}

func issueToTask(issue *github.Issue) state.Task {
	labels := labelNames(issue)
	group := "default"
	for _, l := range labels {
		if m := groupLabelPattern.FindStringSubmatch(l); m != nil {
			group = m[1]
			break
		}
	}
	return state.Task{
		ID:         itoa(issue.GetNumber()),
		Title:      issue.GetTitle(),
		Acceptance: parseAcceptance(issue.GetBody()),
		Group:      group,
		Status:     state.StatusOpen,
	}
}

func parseAcceptance(body string) []string {
	var out []string
	inSection := false
	for _, line := range strings.Split(body, "\n") {
		if acceptanceHeadingPattern.MatchString(strings.TrimSpace(line)) {
			inSection = true
			continue
		}
		if inSection && strings.HasPrefix(strings.TrimSpace(line), "#") {
			break
		}
		if !inSection {
			continue
		}
		if m := bulletPattern.FindStringSubmatch(line); m != nil {
			out = append(out, m[1])
		}
	}
	return out
}

func labelNames(issue *github.Issue) []string {
	names := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		names = append(names, l.GetName())
	}
	return names
}

func containsLabel(labels []string, want string) bool {
	for _, l := range labels {
		if l == want {
			return true
		}
	}
	return false
}

func anyExcluded(labels []string, excluded map[string]struct{}) bool {
	for _, l := range labels {
		if _, ok := excluded[l]; ok {
			return true
		}
	}
	return false
}

func milestoneNumber(issue *github.Issue) int {
	if issue.Milestone == nil {
		return int(^uint(0) >> 1) // unmilestoned issues sort last
	}
	return issue.Milestone.GetNumber()
}

func createdAt(issue *github.Issue) time.Time {
	return issue.GetCreatedAt().Time
}

func (t *Tracker) PeekNextTask(exclude map[string]struct{}) (state.Task, bool) {
	tasks := t.fetch()
	for _, task := range tasks {
		if _, skip := exclude[task.ID]; skip {
			continue
		}
		return task, true // dependencies are not expressed in the issue model
	}
	return state.Task{}, false
}

func (t *Tracker) ClaimNextTask() (state.Task, bool) {
	task, ok := t.PeekNextTask(nil)
	if !ok {
		return task, false
	}
	if len(t.cfg.AddLabelsOnStart) > 0 {
		_ = t.api.AddLabels(context.Background(), t.owner, t.repo, atoiSafe(task.ID), t.cfg.AddLabelsOnStart)
	}
	return task, true
}

func (t *Tracker) Counts() (done, total int) {
	tasks := t.fetch()
	return 0, len(tasks) // "done" issues are closed and excluded from ListOpenIssues
}

func (t *Tracker) AllDone() bool {
	return len(t.fetch()) == 0
}

func (t *Tracker) AllBlocked() bool {
	return false // the GitHub backend has no blocked-issue convention
}

func (t *Tracker) IsTaskDone(id string) bool {
	for _, task := range t.fetch() {
		if task.ID == id {
			return false
		}
	}
	return true // not open anymore => treated as done
}

func (t *Tracker) ForceTaskOpen(id string) bool {
	return false // reopening a closed GitHub issue is not wired; manual-merge-era safety valve
}

func (t *Tracker) BlockTask(id, reason string) bool {
	if err := t.api.Comment(context.Background(), t.owner, t.repo, "ralph-gold: blocked — "+reason, atoiSafe(id)); err != nil {
		return false
	}
	return true
}

func (t *Tracker) BranchName() (string, bool) {
	return "", false
}

// MarkTaskDone closes the issue backing id and, per tracker.github config,
// comments and/or relabels it. It is not part of the Tracker interface —
// file-backed trackers have no equivalent write because the coding agent
// edits their status directly — so the engine type-asserts for it once an
// iteration's effective exit signal is true; closing, commenting and
// relabeling are each separately gated on cfg.CloseOnDone/CommentOnDone/
// AddLabelsOnDone below.
func (t *Tracker) MarkTaskDone(id string) bool {
	number := atoiSafe(id)
	ctx := context.Background()
	if t.cfg.CloseOnDone {
		if err := t.api.CloseIssue(ctx, t.owner, t.repo, number); err != nil {
			return false
		}
	}
	if t.cfg.CommentOnDone {
		_ = t.api.Comment(ctx, t.owner, t.repo, "ralph-gold: marked done", number)
	}
	if len(t.cfg.AddLabelsOnDone) > 0 {
		_ = t.api.AddLabels(ctx, t.owner, t.repo, number, t.cfg.AddLabelsOnDone)
	}
	t.mu.Lock()
	t.cached = nil // force a refetch so the closed issue drops out
	t.mu.Unlock()
	return true
}

func (t *Tracker) GetParallelGroups() map[string][]state.Task {
	tasks := t.fetch()
	if len(tasks) == 0 {
		return map[string][]state.Task{}
	}
	groups := map[string][]state.Task{}
	for _, task := range tasks {
		groups[task.EffectiveGroup()] = append(groups[task.EffectiveGroup()], task)
	}
	return groups
}
