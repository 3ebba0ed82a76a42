package gm

import (
	"context"
	"fmt"
	"strings"
)

// repairLogTail bounds how much of a repair agent's output
// runRepairAgent returns to its caller (spec §4.6 Building "tail of the
// build log (bounded context)").
const repairLogTail = 4000

// mergeRepairPrompt is the fixed prompt template for resolving a
// conflicted merge (spec §4.6 Merging step 4 "approved").
const mergeRepairPrompt = `A git merge left conflict markers in the working tree. Resolve every conflict by editing the affected files, then stage and commit the result. Do not abort the merge.`

// runRepairAgent spawns the same subprocess backend used for teammates
// against workDir (spec §9: "the GM invokes the same subprocess backend
// it uses for teammates... a process in CWD=repo with a prompt and
// env"), drains its output into a bounded tail, and blocks for exit.
func (p *pipeline) runRepairAgent(ctx context.Context, workDir, prompt string) (tail string, err error) {
	proc, err := p.backend.Spawn(ctx, workDir, prompt, nil)
	if err != nil {
		return "", fmt.Errorf("spawn repair agent: %w", err)
	}

	var b strings.Builder
	for line := range proc.Lines() {
		b.WriteString(line.Data)
		b.WriteByte('\n')
	}

	if err := proc.Wait(); err != nil {
		return tailOf(b.String(), repairLogTail), fmt.Errorf("repair agent: %w", err)
	}
	return tailOf(b.String(), repairLogTail), nil
}

func tailOf(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// buildFixPrompt and testFixPrompt are the fixed prompt templates for
// the build/test repair cycles (spec §4.6 Building/Testing).
func buildFixPrompt(log string) string {
	return fmt.Sprintf("The project build is failing. Fix the build so it succeeds. Recent build output:\n%s", log)
}

func testFixPrompt(log string) string {
	return fmt.Sprintf("The project test suite is failing. Fix the tests or the code so the suite passes. Recent test output:\n%s", log)
}

