// Command ralph is a thin Cobra CLI wiring the iteration engine and its
// collaborators, mirroring how the teacher's cmd/ao is a thin layer over
// its internal/* packages (spec.md explicitly scopes the CLI surface,
// scaffold/init, doctor, diagnostics, convert and statistics reports out of
// the core; this binary exists only to keep the module buildable and
// demonstrate wiring, per SPEC_FULL.md §1).
package main

import (
	"os"

	"github.com/jscraik/ralph-gold/internal/rlog"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		rlog.New(rlog.Normal).Error("%v", err)
		os.Exit(exitCodeFor(err))
	}
}
