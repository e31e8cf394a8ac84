package conversation

import (
	"regexp"
	"strconv"
	"strings"
)

// rehydrate reconstructs loop-detection state from the text of a previously
// collapsed transcript. The engine keeps no state between invocations, so
// everything the detector knows must be recoverable from the markers and
// advisory lines it emitted earlier. Counts are merged per key by maximum:
// a lower fresh reconstruction never erases evidence of a prior loop.
func rehydrate(prior string) *loopState {
	state := newLoopState()
	if strings.TrimSpace(prior) == "" {
		return state
	}

	scanToolResultBlocks(prior, func(summary, body string) {
		kind := kindFromSummary(summary)
		if isMutationKind(kind) {
			state.mutations++
			state.resetInspection()
			return
		}
		if family, inspection := inspectionFamily(kind, summary); inspection {
			state.familyCounts[family]++
			state.sinceMutation++
		}
		if isInterruptionNotice(body) {
			// Replacement notices carry no result text; their counts are
			// recovered from the advisory lines below.
			return
		}
		if body == noOutputText {
			state.noOutputCounts[summary]++
			state.noOutputSeen[summary] = true
			return
		}
		state.seenSignatures[signature(summary, body)] = true
	})

	mergeNoteCounts(prior, noOutputNoteRe, state.noOutputCounts)
	for summary := range state.noOutputCounts {
		state.noOutputSeen[summary] = true
	}
	mergeNoteCounts(prior, identicalNoteRe, state.repeatCounts)
	mergeNoteCounts(prior, suppressedNoteRe, state.familySuppressed)

	// Per-family counts are authoritative when the sequential figure fell
	// short, which happens when blocks predate the last wrapped transcript.
	if sum := sumCounts(state.familyCounts); sum > state.sinceMutation {
		state.sinceMutation = sum
	}
	return state
}

// scanToolResultBlocks walks the fixed delimiter pairs in order and invokes
// visit with each embedded (summary, body) pair. Blocks that lost their
// closing delimiter are skipped rather than guessed at.
func scanToolResultBlocks(text string, visit func(summary, body string)) {
	rest := text
	for {
		start := strings.Index(rest, toolResultOpenPrefix)
		if start < 0 {
			return
		}
		rest = rest[start+len(toolResultOpenPrefix):]

		headerEnd := strings.Index(rest, "\n")
		if headerEnd < 0 {
			return
		}
		header := rest[:headerEnd]
		if !strings.HasSuffix(header, toolResultOpenSuffix) {
			continue
		}
		summary := strings.TrimSuffix(header, toolResultOpenSuffix)
		rest = rest[headerEnd+1:]

		bodyEnd := strings.Index(rest, "\n"+toolResultClose)
		if bodyEnd < 0 {
			return
		}
		visit(summary, rest[:bodyEnd])
		rest = rest[bodyEnd+len(toolResultClose)+1:]
	}
}

// kindFromSummary maps a canonical summary back to its tool class. Summaries
// are the identity keys, so their fixed prefixes are enough to resolve class
// without the original tool name.
func kindFromSummary(summary string) toolKind {
	switch {
	case strings.HasPrefix(summary, "$ "):
		return toolShell
	case strings.HasPrefix(summary, "read "):
		return toolRead
	case strings.HasPrefix(summary, "write "):
		return toolWrite
	case strings.HasPrefix(summary, "edit "):
		return toolEdit
	default:
		return toolOther
	}
}

func mergeNoteCounts(text string, pattern *regexp.Regexp, counts map[string]int) {
	for _, match := range pattern.FindAllStringSubmatch(text, -1) {
		key := unquoteNoteKey(match[1])
		value, err := strconv.Atoi(match[2])
		if err != nil {
			continue
		}
		if value > counts[key] {
			counts[key] = value
		}
	}
}

func sumCounts(counts map[string]int) int {
	total := 0
	for _, count := range counts {
		total += count
	}
	return total
}
