// Package prompt builds the short, plain-text prompt the Iteration Engine
// hands to the agent subprocess (spec.md §4.D): a preamble naming the loop,
// the durable-memory files the agent should read, the iteration rules, the
// selected task (if any), and the exit-signal protocol instruction. Template
// rendering follows the teacher's buildPromptForPhase idiom: text/template
// over a small data struct, built up through a strings.Builder.
package prompt

import (
	"strings"
	"text/template"

	"github.com/jscraik/ralph-gold/internal/config"
	"github.com/jscraik/ralph-gold/internal/state"
)

const preambleTemplate = `You are operating inside an autonomous ralph-gold loop (iteration {{.Iteration}}).

Read these files before acting, in this order:
{{range .MemoryFiles}}  - {{.}}
{{end}}
Rules for this iteration:
  - Work on exactly one task.
  - Run the project's gate commands before you consider the task done.
  - Update the tracker (PRD) to reflect the task's true status.
  - Commit your changes with a clear message.

`

const taskTemplate = `Selected task:
  ID: {{.ID}}
  Title: {{.Title}}
{{if .Acceptance}}  Acceptance criteria:
{{range .Acceptance}}    - {{.}}
{{end}}{{end}}`

const noTaskBlock = "No task is currently selectable (backlog may be empty, blocked, or exhausted).\n"

const exitProtocol = `
When you are completely finished — the task is done, gates pass, and the working tree is clean — end your output with exactly one line:
  EXIT_SIGNAL: true
Otherwise, if more work remains, end your output with:
  EXIT_SIGNAL: false
`

// Build renders the full prompt for one iteration. task is the nil-safe
// pointer returned by the tracker (nil means "no task selected").
func Build(cfg config.Config, iteration int, task *state.Task) (string, error) {
	memoryFiles := []string{cfg.Files.Prompt, cfg.Files.Agents, cfg.Files.PRD, cfg.Files.Progress}

	var out strings.Builder

	preambleTmpl, err := template.New("preamble").Parse(preambleTemplate)
	if err != nil {
		return "", err
	}
	if err := preambleTmpl.Execute(&out, struct {
		Iteration   int
		MemoryFiles []string
	}{iteration, memoryFiles}); err != nil {
		return "", err
	}

	if task == nil {
		out.WriteString(noTaskBlock)
	} else {
		taskTmpl, err := template.New("task").Parse(taskTemplate)
		if err != nil {
			return "", err
		}
		if err := taskTmpl.Execute(&out, task); err != nil {
			return "", err
		}
	}

	out.WriteString(exitProtocol)
	return out.String(), nil
}
