package config

// mergeLayer deep-merges a higher-priority layer onto a base configuration.
// Scalars: non-zero-value fields in layer win. Slices: a non-nil slice in
// layer replaces the base slice wholesale (TOML arrays are not merged
// element-wise). Maps: merged key-by-key so a mode override table in one
// layer does not erase mode overrides declared in another.
func mergeLayer(base, layer Config) Config {
	base.Loop = mergeLoop(base.Loop, layer.Loop)
	base.Files = mergeFiles(base.Files, layer.Files)
	base.Runners = mergeRunners(base.Runners, layer.Runners)
	base.Gates = mergeGates(base.Gates, layer.Gates)
	base.Git = mergeGit(base.Git, layer.Git)
	base.Tracker = mergeTracker(base.Tracker, layer.Tracker)
	base.Parallel = mergeParallel(base.Parallel, layer.Parallel)
	base.Output = mergeOutput(base.Output, layer.Output)
	base.Adaptive = mergeAdaptive(base.Adaptive, layer.Adaptive)
	base.Watch = mergeWatch(base.Watch, layer.Watch)
	return base
}

func mergeLoop(base, layer LoopConfig) LoopConfig {
	if layer.Mode != "" {
		base.Mode = layer.Mode
	}
	if layer.MaxIterations != 0 {
		base.MaxIterations = layer.MaxIterations
	}
	if layer.NoProgressLimit != 0 {
		base.NoProgressLimit = layer.NoProgressLimit
	}
	if layer.RateLimitPerHour != 0 {
		base.RateLimitPerHour = layer.RateLimitPerHour
	}
	if layer.SleepSecondsBetweenIters != 0 {
		base.SleepSecondsBetweenIters = layer.SleepSecondsBetweenIters
	}
	if layer.RunnerTimeoutSeconds != 0 {
		base.RunnerTimeoutSeconds = layer.RunnerTimeoutSeconds
	}
	if layer.MaxAttemptsPerTask != 0 {
		base.MaxAttemptsPerTask = layer.MaxAttemptsPerTask
	}
	if layer.SkipBlockedTasks {
		base.SkipBlockedTasks = true
	}
	if layer.HeartbeatSeconds != 0 {
		base.HeartbeatSeconds = layer.HeartbeatSeconds
	}
	if layer.MaxRuntimeSeconds != 0 {
		base.MaxRuntimeSeconds = layer.MaxRuntimeSeconds
	}
	if layer.RateLimitPolicy != "" {
		base.RateLimitPolicy = layer.RateLimitPolicy
	}
	if layer.NoProgressPolicy != "" {
		base.NoProgressPolicy = layer.NoProgressPolicy
	}
	if layer.NotifyOn != nil {
		base.NotifyOn = layer.NotifyOn
	}
	if layer.Modes != nil {
		if base.Modes == nil {
			base.Modes = map[string]ModeOverride{}
		}
		for name, override := range layer.Modes {
			base.Modes[name] = override
		}
	}
	return base
}

func mergeFiles(base, layer FilesConfig) FilesConfig {
	if layer.PRD != "" {
		base.PRD = layer.PRD
	}
	if layer.Progress != "" {
		base.Progress = layer.Progress
	}
	if layer.Prompt != "" {
		base.Prompt = layer.Prompt
	}
	if layer.Plan != "" {
		base.Plan = layer.Plan
	}
	if layer.Judge != "" {
		base.Judge = layer.Judge
	}
	if layer.Review != "" {
		base.Review = layer.Review
	}
	if layer.Agents != "" {
		base.Agents = layer.Agents
	}
	if layer.SpecsDir != "" {
		base.SpecsDir = layer.SpecsDir
	}
	if layer.Feedback != "" {
		base.Feedback = layer.Feedback
	}
	return base
}

func mergeRunners(base, layer map[string]RunnerConfig) map[string]RunnerConfig {
	if layer == nil {
		return base
	}
	if base == nil {
		base = map[string]RunnerConfig{}
	}
	for name, rc := range layer {
		base[name] = rc
	}
	return base
}

func mergeGates(base, layer GatesConfig) GatesConfig {
	if layer.Commands != nil {
		base.Commands = layer.Commands
	}
	if layer.FailFast {
		base.FailFast = true
	}
	if layer.OutputMode != "" {
		base.OutputMode = layer.OutputMode
	}
	if layer.MaxOutputLines != 0 {
		base.MaxOutputLines = layer.MaxOutputLines
	}
	if layer.PrecommitHook != "" {
		base.PrecommitHook = layer.PrecommitHook
	}
	if layer.LLMJudge.Enabled {
		base.LLMJudge = layer.LLMJudge
	}
	if layer.Review.Enabled {
		base.Review = layer.Review
	}
	if layer.Prek.Enabled {
		base.Prek = layer.Prek
	}
	return base
}

func mergeGit(base, layer GitConfig) GitConfig {
	if layer.BranchStrategy != "" {
		base.BranchStrategy = layer.BranchStrategy
	}
	if layer.BaseBranch != "" {
		base.BaseBranch = layer.BaseBranch
	}
	if layer.BranchPrefix != "" {
		base.BranchPrefix = layer.BranchPrefix
	}
	if layer.AutoCommit {
		base.AutoCommit = true
	}
	if layer.CommitMessageTemplate != "" {
		base.CommitMessageTemplate = layer.CommitMessageTemplate
	}
	if layer.AmendIfNeeded {
		base.AmendIfNeeded = true
	}
	return base
}

func mergeTracker(base, layer TrackerConfig) TrackerConfig {
	if layer.Kind != "" {
		base.Kind = layer.Kind
	}
	if layer.Plugin != "" {
		base.Plugin = layer.Plugin
	}
	gh := base.GitHub
	if layer.GitHub.Repo != "" {
		gh.Repo = layer.GitHub.Repo
	}
	if layer.GitHub.AuthMethod != "" {
		gh.AuthMethod = layer.GitHub.AuthMethod
	}
	if layer.GitHub.TokenEnv != "" {
		gh.TokenEnv = layer.GitHub.TokenEnv
	}
	if layer.GitHub.LabelFilter != "" {
		gh.LabelFilter = layer.GitHub.LabelFilter
	}
	if layer.GitHub.ExcludeLabels != nil {
		gh.ExcludeLabels = layer.GitHub.ExcludeLabels
	}
	if layer.GitHub.CloseOnDone {
		gh.CloseOnDone = true
	}
	if layer.GitHub.CommentOnDone {
		gh.CommentOnDone = true
	}
	if layer.GitHub.AddLabelsOnStart != nil {
		gh.AddLabelsOnStart = layer.GitHub.AddLabelsOnStart
	}
	if layer.GitHub.AddLabelsOnDone != nil {
		gh.AddLabelsOnDone = layer.GitHub.AddLabelsOnDone
	}
	if layer.GitHub.CacheTTLSeconds != 0 {
		gh.CacheTTLSeconds = layer.GitHub.CacheTTLSeconds
	}
	base.GitHub = gh
	return base
}

func mergeParallel(base, layer ParallelConfig) ParallelConfig {
	if layer.Enabled {
		base.Enabled = true
	}
	if layer.MaxWorkers != 0 {
		base.MaxWorkers = layer.MaxWorkers
	}
	if layer.WorktreeRoot != "" {
		base.WorktreeRoot = layer.WorktreeRoot
	}
	if layer.Strategy != "" {
		base.Strategy = layer.Strategy
	}
	if layer.MergePolicy != "" {
		base.MergePolicy = layer.MergePolicy
	}
	if layer.MaxTasks != 0 {
		base.MaxTasks = layer.MaxTasks
	}
	return base
}

func mergeOutput(base, layer OutputConfig) OutputConfig {
	if layer.Verbosity != "" {
		base.Verbosity = layer.Verbosity
	}
	if layer.Format != "" {
		base.Format = layer.Format
	}
	return base
}

func mergeAdaptive(base, layer AdaptiveConfig) AdaptiveConfig {
	if layer.Enabled {
		base.Enabled = true
	}
	if layer.FailureScaling {
		base.FailureScaling = true
	}
	if layer.FailureMultiplier != 0 {
		base.FailureMultiplier = layer.FailureMultiplier
	}
	if layer.DefaultModeTimeout != 0 {
		base.DefaultModeTimeout = layer.DefaultModeTimeout
	}
	if layer.MinTimeout != 0 {
		base.MinTimeout = layer.MinTimeout
	}
	if layer.MaxTimeout != 0 {
		base.MaxTimeout = layer.MaxTimeout
	}
	if layer.SLOEnabled {
		base.SLOEnabled = true
	}
	if layer.SLOWindow != 0 {
		base.SLOWindow = layer.SLOWindow
	}
	if layer.SLOMarginSeconds != 0 {
		base.SLOMarginSeconds = layer.SLOMarginSeconds
	}
	if layer.SLOBumpMultiplier != 0 {
		base.SLOBumpMultiplier = layer.SLOBumpMultiplier
	}
	return base
}

func mergeWatch(base, layer WatchConfig) WatchConfig {
	if layer.Patterns != nil {
		base.Patterns = layer.Patterns
	}
	if layer.DebounceMs != 0 {
		base.DebounceMs = layer.DebounceMs
	}
	if layer.AutoCommit {
		base.AutoCommit = true
	}
	if layer.PollSeconds != 0 {
		base.PollSeconds = layer.PollSeconds
	}
	return base
}
