package conversation

import (
	"strings"

	"github.com/monoturn/monoturn/internal/scaffold"
)

// assembly is the working result of one collapse pass: the flattened task
// body, the system text carried into the envelope, and the images collected
// from newly processed user turns.
type assembly struct {
	body     string
	system   string
	images   []ImagePart
	skill    string
	reused   bool
	detector *detector
}

// assemble walks the message history, reusing the most recent wrapped turn as
// the transcript seed when permitted, and processes every message after it
// through sanitization and loop detection.
func (e *Engine) assemble(messages []Message, ignoreWrapped bool) assembly {
	out := assembly{skill: activeSkill(messages)}

	for _, msg := range messages {
		if msg.Role == RoleSystem && !msg.Placeholder {
			out.system = msg.Text
			break
		}
	}

	anchor := -1
	seed := ""
	if !ignoreWrapped {
		anchor = findWrappedTurn(messages, out.skill)
		if anchor >= 0 {
			if body, ok := extractTaskBody(messages[anchor].Text); ok {
				seed = body
				out.reused = true
			} else {
				anchor = -1
			}
		}
	}

	det := newDetector(e.limits, rehydrate(seed))
	out.detector = det
	contexts := resolveCallContexts(messages)

	blocks := make([]string, 0, len(messages)+2)
	seeded := false
	if seed != "" {
		blocks = append(blocks, seed)
		seeded = true
	}
	appended := false

	for i := anchor + 1; i < len(messages); i++ {
		msg := messages[i]
		switch msg.Role {
		case RoleSystem:
			// Carried separately in the envelope.
		case RoleUser:
			if isWrappedTurn(msg.Text) {
				// A stale wrapped turn that was not selected as the seed is
				// our own machinery, not user input; re-embedding it would
				// nest envelopes.
				continue
			}
			blocks = append(blocks, userTurnMarker+"\n"+msg.Text)
			out.images = append(out.images, msg.Images...)
			appended = true
		case RoleAssistant:
			// Tool-call-only turns with no residual text are dropped; any
			// reasoning text survives as a labeled block.
			if !msg.Placeholder && msg.Text != "" {
				blocks = append(blocks, assistantTurnMarker+"\n"+msg.Text)
				appended = true
			}
		case RoleTool:
			ctx, ok := contexts[msg.ToolCallID]
			if !ok {
				ctx = callContext{name: "tool", summary: "tool"}
			}
			body := det.observe(classifyTool(ctx.name), ctx.summary, msg.Text)
			blocks = append(blocks, toolResultBlock(ctx.summary, body))
			appended = true
		}
	}

	notes := det.advisoryNotes()
	if out.skill != "" && appended {
		notes = append(notes, noteBlock([]string{
			"Active skill <skill>" + out.skill + "</skill>: stay within this skill's task. Do not start unrelated work while it is active.",
		}))
	}
	if seeded && len(notes) > 0 {
		// Fresh notes carry the merged counts, so the seed's earlier note
		// blocks are stale text now. Without this the transcript accumulates a
		// near-duplicate note set every turn.
		if trimmed := stripNoteBlocks(seed); trimmed != "" {
			blocks[0] = trimmed
		} else {
			blocks = blocks[1:]
		}
	}
	blocks = append(blocks, notes...)

	out.body = strings.Join(blocks, "\n\n")
	return out
}

// stripNoteBlocks removes the advisory note blocks a previous collapse emitted
// into the seed. A note block is a run of non-blank lines opened by the note
// marker; lines inside tool-result blocks are left alone since a result body
// may contain the marker text verbatim.
func stripNoteBlocks(seed string) string {
	lines := strings.Split(seed, "\n")
	kept := make([]string, 0, len(lines))
	inResult := false
	dropping := false
	for _, line := range lines {
		switch {
		case inResult:
			kept = append(kept, line)
			if line == toolResultClose {
				inResult = false
			}
		case dropping:
			if line == "" {
				dropping = false
			}
		case line == noteMarker:
			dropping = true
		default:
			if strings.HasPrefix(line, toolResultOpenPrefix) && strings.HasSuffix(line, toolResultOpenSuffix) {
				inResult = true
			}
			kept = append(kept, line)
		}
	}
	out := strings.Join(kept, "\n")
	for strings.Contains(out, "\n\n\n") {
		out = strings.ReplaceAll(out, "\n\n\n", "\n\n")
	}
	return strings.Trim(out, "\n")
}

// findWrappedTurn locates the most recent user message that already carries
// the full envelope shape. When a skill is active, that turn must carry the
// same skill tag or there is no reuse at all; an older tagged wrapped turn
// belongs to a finished task and must not seed this one.
func findWrappedTurn(messages []Message, skill string) int {
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if msg.Role != RoleUser || !isWrappedTurn(msg.Text) {
			continue
		}
		if skill != "" && !strings.Contains(msg.Text, "<skill>"+skill+"</skill>") {
			return -1
		}
		return i
	}
	return -1
}

func isWrappedTurn(text string) bool {
	return strings.Contains(text, taskOpenMarker) &&
		strings.Contains(text, taskCloseMarker) &&
		strings.Contains(text, scaffold.ProgressMarker) &&
		strings.Contains(text, scaffold.EnvironmentMarker)
}

// extractTaskBody pulls the embedded task body out of a wrapped turn using
// index-based boundaries: the first opening marker and the last closing
// marker. Greedy-regex extraction would truncate early when quoted file
// content inside the body contains its own marker pair. A body that
// legitimately ends before an unrelated later closing marker is still
// over-captured; that ambiguity is inherent to the textual format.
func extractTaskBody(text string) (string, bool) {
	open := strings.Index(text, taskOpenMarker)
	if open < 0 {
		return "", false
	}
	closing := strings.LastIndex(text, taskCloseMarker)
	if closing < 0 || closing < open+len(taskOpenMarker) {
		return "", false
	}
	body := text[open+len(taskOpenMarker) : closing]
	return strings.Trim(body, "\n"), true
}

// activeSkill returns the skill tag present in the latest plain (non-wrapped)
// user turn, or empty when none is active.
func activeSkill(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if msg.Role != RoleUser || msg.Placeholder || isWrappedTurn(msg.Text) {
			continue
		}
		if match := skillTagRe.FindStringSubmatch(msg.Text); match != nil {
			return match[1]
		}
		return ""
	}
	return ""
}
