// Package config loads and merges Ralph-Gold's layered TOML configuration.
//
// Layers, lowest to highest priority: built-in defaults, "<root>/.ralph/ralph.toml",
// "<root>/ralph.toml", then an optional file named by $RALPH_CONFIG. Later
// layers override earlier ones key-by-key (deep merge, not whole-struct
// replacement).
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// Config is the process-lifetime, immutable-after-load configuration tree.
type Config struct {
	Loop     LoopConfig     `toml:"loop"`
	Files    FilesConfig    `toml:"files"`
	Runners  map[string]RunnerConfig `toml:"runners"`
	Gates    GatesConfig    `toml:"gates"`
	Git      GitConfig      `toml:"git"`
	Tracker  TrackerConfig  `toml:"tracker"`
	Parallel ParallelConfig `toml:"parallel"`
	Output   OutputConfig   `toml:"output"`
	Adaptive AdaptiveConfig `toml:"adaptive"`
	Watch    WatchConfig    `toml:"watch"`
}

// LoopConfig holds §4.G/§4.H/§4.I loop parameters and per-mode overrides.
type LoopConfig struct {
	Mode                      string                    `toml:"mode"`
	MaxIterations             int                       `toml:"max_iterations"`
	NoProgressLimit           int                       `toml:"no_progress_limit"`
	RateLimitPerHour          int                       `toml:"rate_limit_per_hour"`
	SleepSecondsBetweenIters  int                       `toml:"sleep_seconds_between_iters"`
	RunnerTimeoutSeconds      int                       `toml:"runner_timeout_seconds"`
	MaxAttemptsPerTask        int                       `toml:"max_attempts_per_task"`
	SkipBlockedTasks          bool                      `toml:"skip_blocked_tasks"`
	HeartbeatSeconds          int                       `toml:"heartbeat_seconds"`
	MaxRuntimeSeconds         int                       `toml:"max_runtime_seconds"`
	RateLimitPolicy           string                    `toml:"rate_limit_policy"` // wait|stop
	NoProgressPolicy          string                    `toml:"no_progress_policy"` // stop|continue
	Modes                     map[string]ModeOverride   `toml:"modes"`
	NotifyOn                  []string                  `toml:"notify_on"`
}

// ModeOverride is a per-mode override of a subset of LoopConfig fields.
type ModeOverride struct {
	MaxIterations            *int `toml:"max_iterations"`
	NoProgressLimit          *int `toml:"no_progress_limit"`
	RateLimitPerHour         *int `toml:"rate_limit_per_hour"`
	SleepSecondsBetweenIters *int `toml:"sleep_seconds_between_iters"`
	RunnerTimeoutSeconds     *int `toml:"runner_timeout_seconds"`
	MaxAttemptsPerTask       *int `toml:"max_attempts_per_task"`
}

// FilesConfig names the durable-memory files the Prompt Builder points the
// agent at, and the tracker backing file candidates.
type FilesConfig struct {
	PRD       string `toml:"prd"`
	Progress  string `toml:"progress"`
	Prompt    string `toml:"prompt"`
	Plan      string `toml:"plan"`
	Judge     string `toml:"judge"`
	Review    string `toml:"review"`
	Agents    string `toml:"agents"`
	SpecsDir  string `toml:"specs_dir"`
	Feedback  string `toml:"feedback"`
}

// RunnerConfig is an ordered argv template for one agent kind.
type RunnerConfig struct {
	Argv []string `toml:"argv"`
}

// GatesConfig configures the Gate Runner and its optional judge/review passes.
type GatesConfig struct {
	Commands       []string        `toml:"commands"`
	FailFast       bool            `toml:"fail_fast"`
	OutputMode     string          `toml:"output_mode"` // full|summary|errors_only
	MaxOutputLines int             `toml:"max_output_lines"`
	PrecommitHook  string          `toml:"precommit_hook"`
	LLMJudge       LLMJudgeConfig  `toml:"llm_judge"`
	Review         ReviewConfig    `toml:"review"`
	Prek           PrekConfig      `toml:"prek"`
}

type LLMJudgeConfig struct {
	Enabled       bool   `toml:"enabled"`
	Agent         string `toml:"agent"`
	Prompt        string `toml:"prompt"`
	MaxDiffChars  int    `toml:"max_diff_chars"`
}

type ReviewConfig struct {
	Enabled      bool   `toml:"enabled"`
	Backend      string `toml:"backend"` // runner|repoprompt
	Agent        string `toml:"agent"`
	Prompt       string `toml:"prompt"`
	MaxDiffChars int    `toml:"max_diff_chars"`
	RequiredToken string `toml:"required_token"`
}

type PrekConfig struct {
	Enabled bool     `toml:"enabled"`
	Argv    []string `toml:"argv"`
}

// GitConfig configures branch/commit behavior around iterations.
type GitConfig struct {
	BranchStrategy        string `toml:"branch_strategy"` // none|per_prd|task
	BaseBranch            string `toml:"base_branch"`
	BranchPrefix          string `toml:"branch_prefix"`
	AutoCommit            bool   `toml:"auto_commit"`
	CommitMessageTemplate string `toml:"commit_message_template"`
	AmendIfNeeded         bool   `toml:"amend_if_needed"`
}

// TrackerConfig selects and configures the task tracker backend.
type TrackerConfig struct {
	Kind   string       `toml:"kind"` // auto|markdown|json|yaml|beads|github_issues
	Plugin string       `toml:"plugin"`
	GitHub GitHubConfig `toml:"github"`
}

type GitHubConfig struct {
	Repo            string   `toml:"repo"`
	AuthMethod      string   `toml:"auth_method"` // gh_cli|token
	TokenEnv        string   `toml:"token_env"`
	LabelFilter     string   `toml:"label_filter"`
	ExcludeLabels   []string `toml:"exclude_labels"`
	CloseOnDone     bool     `toml:"close_on_done"`
	CommentOnDone   bool     `toml:"comment_on_done"`
	AddLabelsOnStart []string `toml:"add_labels_on_start"`
	AddLabelsOnDone  []string `toml:"add_labels_on_done"`
	CacheTTLSeconds int      `toml:"cache_ttl_seconds"`
}

// ParallelConfig configures the Parallel Executor and Worktree Manager.
type ParallelConfig struct {
	Enabled      bool   `toml:"enabled"`
	MaxWorkers   int    `toml:"max_workers"`
	WorktreeRoot string `toml:"worktree_root"`
	Strategy     string `toml:"strategy"`     // queue|group
	MergePolicy  string `toml:"merge_policy"` // manual|auto_merge
	MaxTasks     int    `toml:"max_tasks"`
}

// OutputConfig controls verbosity and format.
type OutputConfig struct {
	Verbosity string `toml:"verbosity"` // quiet|normal|verbose
	Format    string `toml:"format"`    // text|json
}

// AdaptiveConfig configures §4.L adaptive timeout and the optional SLO
// feedback loop (an original_source/slo.py supplement, see SPEC_FULL.md).
type AdaptiveConfig struct {
	Enabled            bool    `toml:"enabled"`
	FailureScaling     bool    `toml:"failure_scaling"`
	FailureMultiplier  float64 `toml:"failure_multiplier"`
	DefaultModeTimeout int     `toml:"default_mode_timeout"`
	MinTimeout         int     `toml:"min_timeout"`
	MaxTimeout         int     `toml:"max_timeout"`
	SLOEnabled         bool    `toml:"slo_enabled"`
	SLOWindow          int     `toml:"slo_window"`
	SLOMarginSeconds   int     `toml:"slo_margin_seconds"`
	SLOBumpMultiplier  float64 `toml:"slo_bump_multiplier"`
}

// WatchConfig configures the Watch Driver (spec.md §4.M): file-change
// patterns to watch, debounce window, and optional auto-commit on a
// passing gate run.
type WatchConfig struct {
	Patterns    []string `toml:"patterns"`
	DebounceMs  int      `toml:"debounce_ms"`
	AutoCommit  bool     `toml:"auto_commit"`
	PollSeconds int      `toml:"poll_seconds"`
}

// Allowed enum values, named so validation errors can list them verbatim.
var (
	allowedModes         = []string{"speed", "quality", "exploration"}
	allowedStrategies    = []string{"queue", "group"}
	allowedMergePolicies = []string{"manual", "auto_merge"}
	allowedVerbosities   = []string{"quiet", "normal", "verbose"}
	allowedFormats       = []string{"text", "json"}
)

// defaultRunners returns the default runner argv templates for known agents,
// per spec.md §4.A.
func defaultRunners() map[string]RunnerConfig {
	return map[string]RunnerConfig{
		"codex":   {Argv: []string{"codex", "exec", "--full-auto", "-"}},
		"claude":  {Argv: []string{"claude", "--output-format", "stream-json", "-p"}},
		"copilot": {Argv: []string{"gh", "copilot", "suggest", "--type", "shell", "--prompt"}},
	}
}

// Default returns the built-in default configuration, the base layer every
// merge starts from.
func Default() Config {
	return Config{
		Loop: LoopConfig{
			Mode:                     "speed",
			MaxIterations:            0,
			NoProgressLimit:          3,
			RateLimitPerHour:         0,
			SleepSecondsBetweenIters: 2,
			RunnerTimeoutSeconds:     600,
			MaxAttemptsPerTask:       3,
			HeartbeatSeconds:         60,
			MaxRuntimeSeconds:        0,
			RateLimitPolicy:          "wait",
			NoProgressPolicy:         "stop",
		},
		Files: FilesConfig{
			PRD:      "PRD.md",
			Progress: "progress.md",
			Prompt:   "PROMPT_build.md",
			Plan:     "PROMPT_plan.md",
			Judge:    "PROMPT_judge.md",
			Review:   "PROMPT_review.md",
			Agents:   "AGENTS.md",
			SpecsDir: "specs",
			Feedback: "feedback.md",
		},
		Runners: defaultRunners(),
		Gates: GatesConfig{
			OutputMode: "summary",
		},
		Git: GitConfig{
			BranchStrategy: "none",
		},
		Tracker: TrackerConfig{
			Kind: "auto",
		},
		Parallel: ParallelConfig{
			MaxWorkers:   1,
			WorktreeRoot: "..",
			Strategy:     "queue",
			MergePolicy:  "manual",
		},
		Output: OutputConfig{
			Verbosity: "normal",
			Format:    "text",
		},
		Adaptive: AdaptiveConfig{
			DefaultModeTimeout: 180,
			MinTimeout:         30,
			MaxTimeout:         1800,
			FailureMultiplier:  1.5,
			SLOWindow:          20,
			SLOMarginSeconds:   30,
			SLOBumpMultiplier:  1.25,
		},
		Watch: WatchConfig{
			Patterns:    []string{"**/*.go", "**/*.md"},
			DebounceMs:  500,
			PollSeconds: 1,
		},
	}
}

// LoadConfig is total: it never fails because a config file is missing, only
// because a present file is unreadable/unparseable or a loaded value fails
// enum/range validation.
func LoadConfig(projectRoot string) (Config, error) {
	cfg := Default()

	layerPaths := []string{
		filepath.Join(projectRoot, ".ralph", "ralph.toml"),
		filepath.Join(projectRoot, "ralph.toml"),
	}
	if extra := os.Getenv("RALPH_CONFIG"); extra != "" {
		layerPaths = append(layerPaths, extra)
	}

	for _, path := range layerPaths {
		layer, ok, err := loadLayer(path)
		if err != nil {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
		if !ok {
			continue
		}
		cfg = mergeLayer(cfg, layer)
	}

	applyModeOverrides(&cfg)
	resolveFilePaths(&cfg, projectRoot)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadLayer(path string) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, false, nil
		}
		return Config{}, false, err
	}
	var layer Config
	if err := toml.Unmarshal(data, &layer); err != nil {
		return Config{}, false, err
	}
	// The merge cannot tell an explicit max_workers = 0 from an absent key,
	// so an explicit value below 1 is rejected here, per layer.
	var probe struct {
		Parallel struct {
			MaxWorkers *int `toml:"max_workers"`
		} `toml:"parallel"`
	}
	if err := toml.Unmarshal(data, &probe); err == nil && probe.Parallel.MaxWorkers != nil && *probe.Parallel.MaxWorkers < 1 {
		return Config{}, false, fmt.Errorf("parallel.max_workers must be >= 1, got %d", *probe.Parallel.MaxWorkers)
	}
	return layer, true, nil
}

// applyModeOverrides folds loop.modes.<mode> into the active loop.* fields,
// after all layers have merged (so a later-layer mode selection still picks
// up earlier-layer mode override tables).
func applyModeOverrides(cfg *Config) {
	override, ok := cfg.Loop.Modes[cfg.Loop.Mode]
	if !ok {
		return
	}
	if override.MaxIterations != nil {
		cfg.Loop.MaxIterations = *override.MaxIterations
	}
	if override.NoProgressLimit != nil {
		cfg.Loop.NoProgressLimit = *override.NoProgressLimit
	}
	if override.RateLimitPerHour != nil {
		cfg.Loop.RateLimitPerHour = *override.RateLimitPerHour
	}
	if override.SleepSecondsBetweenIters != nil {
		cfg.Loop.SleepSecondsBetweenIters = *override.SleepSecondsBetweenIters
	}
	if override.RunnerTimeoutSeconds != nil {
		cfg.Loop.RunnerTimeoutSeconds = *override.RunnerTimeoutSeconds
	}
	if override.MaxAttemptsPerTask != nil {
		cfg.Loop.MaxAttemptsPerTask = *override.MaxAttemptsPerTask
	}
}

func validate(cfg Config) error {
	if err := requireEnum("loop.mode", cfg.Loop.Mode, allowedModes); err != nil {
		return err
	}
	if err := requireEnum("parallel.strategy", cfg.Parallel.Strategy, allowedStrategies); err != nil {
		return err
	}
	if err := requireEnum("parallel.merge_policy", cfg.Parallel.MergePolicy, allowedMergePolicies); err != nil {
		return err
	}
	if err := requireEnum("output.verbosity", cfg.Output.Verbosity, allowedVerbosities); err != nil {
		return err
	}
	if err := requireEnum("output.format", cfg.Output.Format, allowedFormats); err != nil {
		return err
	}
	if cfg.Parallel.MaxWorkers < 1 {
		return fmt.Errorf("parallel.max_workers must be >= 1, got %d", cfg.Parallel.MaxWorkers)
	}
	return nil
}

func requireEnum(field, value string, allowed []string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("invalid %s %q, allowed: %v", field, value, allowed)
}
