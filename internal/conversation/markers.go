package conversation

import (
	"fmt"
	"regexp"
	"strings"
)

// Textual protocol of the collapsed transcript. The rehydrator re-derives all
// loop-detection state from these fixed markers, so any change here must keep
// the scanning patterns below in sync.
const (
	taskOpenMarker  = "<task-context>"
	taskCloseMarker = "</task-context>"

	userTurnMarker      = "[user]"
	assistantTurnMarker = "[assistant]"
	noteMarker          = "[note]"

	toolResultOpenPrefix = "--- tool result: "
	toolResultOpenSuffix = " ---"
	toolResultClose      = "--- end tool result ---"

	// noOutputText is the literal no-output sentinel. It is also the fallback
	// placeholder for empty tool content, so an empty result and an explicit
	// "(no output)" result are the same event.
	noOutputText = "(no output)"

	// interruptPrefix marks a tool-result body that was replaced by a stop
	// instruction. The rehydrator must not mistake these for genuine results.
	interruptPrefix = "[loop interrupted] "
)

func toolResultBlock(summary, body string) string {
	return toolResultOpenPrefix + summary + toolResultOpenSuffix + "\n" + body + "\n" + toolResultClose
}

func isInterruptionNotice(body string) bool {
	return strings.HasPrefix(body, interruptPrefix)
}

func noOutputStop(summary string) string {
	return interruptPrefix + fmt.Sprintf("You already ran %q and it produced no output. Do not run it again; it will not produce output now either. Move on to the next step of the task.", summary)
}

func identicalStop(kind toolKind, summary string) string {
	switch kind {
	case toolRead:
		return interruptPrefix + fmt.Sprintf("You already read this file (%q) and the result is unchanged. Use the result shown earlier instead of reading it again.", summary)
	case toolShell:
		return interruptPrefix + fmt.Sprintf("You already ran this command (%q) and got the identical result. Do not run it again. If the command seemed to hang, it was likely waiting for interactive input; cancel it and use a non-interactive form instead.", summary)
	default:
		return interruptPrefix + fmt.Sprintf("You already made this call (%q) and got the identical result. Use the earlier result instead of repeating it.", summary)
	}
}

func familyStop(family string, count int) string {
	return interruptPrefix + fmt.Sprintf("You have inspected %q %d times without changing anything. Stop inspecting and proceed with the edits the task requires.", family, count)
}

func globalStop(count int) string {
	return interruptPrefix + fmt.Sprintf("You are stuck in an inspection loop: %d read-only calls since the last modification. Stop gathering context and write code now.", count)
}

// Advisory note line formats. These exact shapes are re-parsed by the
// rehydrator, which takes the maximum of a scanned count and any count
// recoverable from a matching line.
const (
	noOutputNoteLine   = "- %q ran %d times with no output"
	identicalNoteLine  = "- %q returned the same result %d times"
	suppressedNoteLine = "- inspection family %q suppressed %d times"
)

var (
	noOutputNoteRe   = regexp.MustCompile(`(?m)^- "((?:[^"\\]|\\.)*)" ran (\d+) times with no output$`)
	identicalNoteRe  = regexp.MustCompile(`(?m)^- "((?:[^"\\]|\\.)*)" returned the same result (\d+) times$`)
	suppressedNoteRe = regexp.MustCompile(`(?m)^- inspection family "((?:[^"\\]|\\.)*)" suppressed (\d+) times$`)

	// branchRangeDiffRe spots "git diff a..b" style summaries, a family that is
	// frequently misused: an empty branch-range diff means identical branches.
	branchRangeDiffRe = regexp.MustCompile(`git diff\s+\S+\.\.\.?\S+`)

	skillTagRe = regexp.MustCompile(`<skill>([A-Za-z0-9._-]+)</skill>`)
)

func noteBlock(lines []string) string {
	return noteMarker + "\n" + strings.Join(lines, "\n")
}

// unquoteNoteKey reverses the %q escaping applied when a summary was embedded
// in an advisory line.
func unquoteNoteKey(quoted string) string {
	replacer := strings.NewReplacer(`\"`, `"`, `\\`, `\`, `\n`, "\n", `\t`, "\t")
	return replacer.Replace(quoted)
}
