package conversation

import (
	"fmt"
	"sort"
)

// Thresholds are the loop-detection policy limits. They are configuration,
// not logic: a family is suppressed once its running count exceeds
// FamilyLimit, and any inspection is suppressed once the cumulative count
// since the last mutation exceeds GlobalLimit.
type Thresholds struct {
	FamilyLimit int
	GlobalLimit int
}

// DefaultThresholds returns the stock policy limits.
func DefaultThresholds() Thresholds {
	return Thresholds{FamilyLimit: 4, GlobalLimit: 8}
}

func (t Thresholds) withDefaults() Thresholds {
	defaults := DefaultThresholds()
	if t.FamilyLimit <= 0 {
		t.FamilyLimit = defaults.FamilyLimit
	}
	if t.GlobalLimit <= 0 {
		t.GlobalLimit = defaults.GlobalLimit
	}
	return t
}

// loopState is the bookkeeping reconstructed from a prior collapsed
// transcript and advanced while new tool results are processed. All counts
// are monotonically non-decreasing until a mutation resets them.
type loopState struct {
	noOutputCounts   map[string]int  // per summary
	noOutputSeen     map[string]bool // summaries already seen with no output
	repeatCounts     map[string]int  // identical-result repeats per summary
	seenSignatures   map[string]bool // (summary, result) pairs
	familyCounts     map[string]int  // per inspection family
	familySuppressed map[string]int  // suppressions recorded per family
	sinceMutation    int             // inspection calls since the last mutation
	mutations        int             // cumulative write/edit calls
}

func newLoopState() *loopState {
	return &loopState{
		noOutputCounts:   make(map[string]int),
		noOutputSeen:     make(map[string]bool),
		repeatCounts:     make(map[string]int),
		seenSignatures:   make(map[string]bool),
		familyCounts:     make(map[string]int),
		familySuppressed: make(map[string]int),
	}
}

// resetInspection clears the state a mutation invalidates: once the world has
// changed, prior "already inspected" evidence is stale. Advisory history
// (repeat and suppression tallies) survives so notes stay informative.
func (s *loopState) resetInspection() {
	s.noOutputCounts = make(map[string]int)
	s.noOutputSeen = make(map[string]bool)
	s.seenSignatures = make(map[string]bool)
	s.familyCounts = make(map[string]int)
	s.sinceMutation = 0
}

func signature(summary, result string) string {
	return summary + "\x00" + result
}

// detector applies the per-result classification pipeline and records which
// suppression classes fired during the current invocation.
type detector struct {
	limits Thresholds
	state  *loopState

	toolEntries         int
	noOutputStops       int
	identicalStops      int
	familyStops         int
	globalStops         int
	familySuppressedNow bool
	globalSuppressedNow bool
}

func newDetector(limits Thresholds, state *loopState) *detector {
	return &detector{limits: limits.withDefaults(), state: state}
}

// observe classifies one tool result and returns the transcript body for it:
// either the literal result or a corrective stop instruction. Counters are
// updated regardless of the outcome so rehydration from the emitted text
// reconstructs the same state.
func (d *detector) observe(kind toolKind, summary, result string) string {
	d.toolEntries++
	st := d.state

	if isMutationKind(kind) {
		st.mutations++
		st.resetInspection()
		return result
	}

	family, inspection := inspectionFamily(kind, summary)
	if inspection {
		st.familyCounts[family]++
		st.sinceMutation++
	}

	if result == noOutputText {
		st.noOutputCounts[summary]++
		if st.noOutputSeen[summary] {
			d.noOutputStops++
			return noOutputStop(summary)
		}
		st.noOutputSeen[summary] = true
	} else {
		sig := signature(summary, result)
		if st.seenSignatures[sig] {
			st.repeatCounts[summary]++
			d.identicalStops++
			return identicalStop(kind, summary)
		}
		st.seenSignatures[sig] = true
	}

	if inspection {
		if st.familyCounts[family] > d.limits.FamilyLimit {
			st.familySuppressed[family]++
			d.familySuppressedNow = true
			d.familyStops++
			return familyStop(family, st.familyCounts[family])
		}
		if st.sinceMutation > d.limits.GlobalLimit {
			d.globalSuppressedNow = true
			d.globalStops++
			return globalStop(st.sinceMutation)
		}
	}
	return result
}

// advisoryNotes renders the post-processing notes. They fire only when this
// invocation actually processed tool results, which keeps re-collapsing an
// unchanged transcript idempotent.
func (d *detector) advisoryNotes() []string {
	if d.toolEntries == 0 {
		return nil
	}
	st := d.state
	var notes []string

	if lines := noOutputNoteLines(st); len(lines) > 0 {
		notes = append(notes, noteBlock(append([]string{"Commands that repeatedly produced no output; do not run these again:"}, lines...)))
	}
	if lines := identicalNoteLines(st); len(lines) > 0 {
		notes = append(notes, noteBlock(append([]string{"Calls repeated with identical results; reuse the earlier output instead:"}, lines...)))
	}
	if lines := suppressedNoteLines(st); len(lines) > 0 {
		hint := "Resume editing; re-inspect only what your last change affected."
		if st.mutations == 0 {
			hint = "You have not modified anything yet. Start making the edits the task requires."
		}
		notes = append(notes, noteBlock(append(append([]string{"Inspection loops were interrupted:"}, lines...), hint)))
	} else if d.globalSuppressedNow || (st.sinceMutation > d.limits.GlobalLimit && len(st.familySuppressed) == 0) {
		// Cross-family evasion: the global ceiling was crossed without any
		// single family tripping its own limit. Mutually exclusive with the
		// per-family note above.
		notes = append(notes, noteBlock([]string{fmt.Sprintf(
			"You have made %d read-only inspection calls without modifying anything. Varying the command does not count as progress. Stop inspecting and write code now.",
			st.sinceMutation)}))
	}
	return notes
}

func noOutputNoteLines(st *loopState) []string {
	var lines []string
	for _, summary := range sortedKeysOver(st.noOutputCounts, 1) {
		line := fmt.Sprintf(noOutputNoteLine, summary, st.noOutputCounts[summary])
		if branchRangeDiffRe.MatchString(summary) {
			line += " (an empty branch-range diff means the branches are identical; use \"git log\" to compare them instead)"
		}
		lines = append(lines, line)
	}
	return lines
}

func identicalNoteLines(st *loopState) []string {
	var lines []string
	for _, summary := range sortedKeysOver(st.repeatCounts, 0) {
		lines = append(lines, fmt.Sprintf(identicalNoteLine, summary, st.repeatCounts[summary]))
	}
	return lines
}

func suppressedNoteLines(st *loopState) []string {
	var lines []string
	for _, family := range sortedKeysOver(st.familySuppressed, 0) {
		lines = append(lines, fmt.Sprintf(suppressedNoteLine, family, st.familySuppressed[family]))
	}
	return lines
}

// sortedKeysOver returns the keys whose count exceeds min, sorted for
// deterministic note output.
func sortedKeysOver(counts map[string]int, min int) []string {
	keys := make([]string, 0, len(counts))
	for key, count := range counts {
		if count > min {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}
