package conversation

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/monoturn/monoturn/internal/scaffold"
)

func newTestEngine() *Engine {
	return NewEngine(DefaultThresholds(), scaffold.Default())
}

// assistantCall builds an assistant turn declaring one tool call.
func assistantCall(id, name, args string) string {
	return fmt.Sprintf(`{"role":"assistant","content":"","tool_calls":[{"id":%q,"name":%q,"arguments":%q}]}`, id, name, args)
}

func toolResult(id, text string) string {
	return fmt.Sprintf(`{"role":"tool","tool_call_id":%q,"content":%q}`, id, text)
}

// wrappedUserMessage renders an envelope back into a user message the way the
// agent runtime would replay it on the next turn.
func wrappedUserMessage(t *testing.T, e *Engine, env Envelope) string {
	t.Helper()
	rendered := e.Messages(env)
	user := rendered[len(rendered)-1]
	raw, err := json.Marshal(user)
	if err != nil {
		t.Fatalf("marshal wrapped turn: %v", err)
	}
	return string(raw)
}

func TestCollapse_EnvelopeShape(t *testing.T) {
	e := newTestEngine()
	payload := []byte(`{"model":"solo-1","messages":[
		{"role":"system","content":"you are a coding agent"},
		{"role":"user","content":"fix the build"},
		` + assistantCall("c1", "bash", `{"command":"ls"}`) + `,
		` + toolResult("c1", "main.go") + `
	]}`)

	out, stats := e.CollapseRequestBody(payload, Options{})
	if stats.ToolResults != 1 {
		t.Fatalf("expected 1 processed tool result, got %d", stats.ToolResults)
	}
	if gjson.GetBytes(out, "model").String() != "solo-1" {
		t.Fatalf("payload fields outside messages must survive, body=%s", out)
	}
	msgs := gjson.GetBytes(out, "messages")
	if msgs.Get("#").Int() != 2 {
		t.Fatalf("expected system + user, got %s", msgs.Raw)
	}
	if msgs.Get("0.role").String() != "system" || msgs.Get("0.content").String() != "you are a coding agent" {
		t.Fatalf("system message must be carried verbatim, got %s", msgs.Get("0").Raw)
	}
	if msgs.Get("1.role").String() != "user" {
		t.Fatalf("second message must be the user envelope, got %s", msgs.Get("1").Raw)
	}

	parts := msgs.Get("1.content")
	if parts.Get("#").Int() != 3 {
		t.Fatalf("expected task + progress + environment parts, got %s", parts.Raw)
	}
	task := parts.Get("0.text").String()
	if !strings.HasPrefix(task, taskOpenMarker) || !strings.HasSuffix(task, taskCloseMarker) {
		t.Fatalf("task block markers missing: %q", task)
	}
	if !strings.Contains(task, "[user]\nfix the build") {
		t.Fatalf("user turn missing from task body: %q", task)
	}
	if !strings.Contains(task, toolResultOpenPrefix+"$ ls"+toolResultOpenSuffix) {
		t.Fatalf("tool result block missing from task body: %q", task)
	}
	if !strings.Contains(parts.Get("1.text").String(), scaffold.ProgressMarker) {
		t.Fatalf("progress scaffold missing: %s", parts.Get("1").Raw)
	}
	if !strings.Contains(parts.Get("2.text").String(), scaffold.EnvironmentMarker) {
		t.Fatalf("environment scaffold missing: %s", parts.Get("2").Raw)
	}
}

func TestCollapse_NoSystemMessageYieldsSingleUserTurn(t *testing.T) {
	e := newTestEngine()
	out, _ := e.CollapseRequestBody([]byte(`{"messages":[{"role":"user","content":"hello"}]}`), Options{})
	msgs := gjson.GetBytes(out, "messages")
	if msgs.Get("#").Int() != 1 || msgs.Get("0.role").String() != "user" {
		t.Fatalf("expected exactly one user turn, got %s", msgs.Raw)
	}
}

func TestCollapse_IdempotentOnUnchangedHistory(t *testing.T) {
	e := newTestEngine()
	first := e.Collapse(ParseMessagesFromJSON(t, `[
		{"role":"user","content":"refactor the parser"},
		`+assistantCall("c1", "bash", `{"command":"ls"}`)+`,
		`+toolResult("c1", "parser.go lexer.go")+`
	]`), Options{})

	replay := `[` + wrappedUserMessage(t, e, first) + `]`
	second := e.Collapse(ParseMessagesFromJSON(t, replay), Options{})
	if !second.Stats.Reused {
		t.Fatalf("wrapped turn should be reused")
	}
	if second.TaskBody != first.TaskBody {
		t.Fatalf("re-collapsing an unchanged transcript must reproduce the task body:\nfirst:  %q\nsecond: %q", first.TaskBody, second.TaskBody)
	}

	third := e.Collapse(ParseMessagesFromJSON(t, `[`+wrappedUserMessage(t, e, second)+`]`), Options{})
	if third.TaskBody != first.TaskBody {
		t.Fatalf("idempotence must hold across repeated collapses")
	}
}

func TestCollapse_IgnoreWrappedHistoryStartsFresh(t *testing.T) {
	e := newTestEngine()
	first := e.Collapse(ParseMessagesFromJSON(t, `[{"role":"user","content":"old task"}]`), Options{})

	history := `[` + wrappedUserMessage(t, e, first) + `,{"role":"user","content":"new task"}]`
	fresh := e.Collapse(ParseMessagesFromJSON(t, history), Options{IgnoreWrappedHistory: true})
	if fresh.Stats.Reused {
		t.Fatalf("fresh collapse must not reuse wrapped history")
	}
	if strings.Contains(fresh.TaskBody, "old task") {
		t.Fatalf("fresh collapse must drop the prior transcript, got %q", fresh.TaskBody)
	}
	if !strings.Contains(fresh.TaskBody, "new task") {
		t.Fatalf("fresh collapse must keep the new user turn, got %q", fresh.TaskBody)
	}
}

func TestCollapse_SuffixAgainstPrefixMatchesFullHistory(t *testing.T) {
	e := newTestEngine()

	prefix := `{"role":"user","content":"inspect the repo"},
		` + assistantCall("c1", "bash", `{"command":"ls"}`) + `,
		` + toolResult("c1", "a.go b.go") + `,
		` + assistantCall("c2", "bash", `{"command":"ls -la"}`) + `,
		` + toolResult("c2", "a.go b.go .git")

	suffix := assistantCall("c3", "bash", `{"command":"ls ."}`) + `,
		` + toolResult("c3", "a.go b.go") + `,
		` + assistantCall("c4", "bash", `{"command":"ls -a"}`) + `,
		` + toolResult("c4", "a.go b.go .hidden") + `,
		` + assistantCall("c5", "bash", `{"command":"ls -al"}`) + `,
		` + toolResult("c5", "long listing")

	full := e.Collapse(ParseMessagesFromJSON(t, `[`+prefix+`,`+suffix+`]`), Options{})

	collapsed := e.Collapse(ParseMessagesFromJSON(t, `[`+prefix+`]`), Options{})
	staged := e.Collapse(ParseMessagesFromJSON(t, `[`+wrappedUserMessage(t, e, collapsed)+`,`+suffix+`]`), Options{})

	// The 5th listing exceeds the family limit in both runs.
	if full.Stats.FamilyStops != 1 {
		t.Fatalf("full history should suppress the 5th listing, stats=%+v", full.Stats)
	}
	if staged.Stats.FamilyStops != 1 {
		t.Fatalf("staged history must reach the same suppression decision, stats=%+v", staged.Stats)
	}
	if !strings.Contains(staged.TaskBody, familyStop("ls .", 5)) {
		t.Fatalf("staged suppression should carry the same family count, body=%q", staged.TaskBody)
	}
}

func TestCollapse_MultiLineCommandRepeatSurvivesRehydration(t *testing.T) {
	e := newTestEngine()
	turn := func(id string) string {
		return assistantCall(id, "bash", `{"command":"echo one\necho two"}`) + `,
			` + toolResult(id, "one\ntwo")
	}

	full := e.Collapse(ParseMessagesFromJSON(t, `[{"role":"user","content":"go"},`+turn("c1")+`,`+turn("c2")+`]`), Options{})
	if full.Stats.IdenticalStops != 1 {
		t.Fatalf("repeat of the same multi-line command should be suppressed, stats=%+v", full.Stats)
	}

	prefix := e.Collapse(ParseMessagesFromJSON(t, `[{"role":"user","content":"go"},`+turn("c1")+`]`), Options{})
	staged := e.Collapse(ParseMessagesFromJSON(t, `[`+wrappedUserMessage(t, e, prefix)+`,`+turn("c2")+`]`), Options{})
	if staged.Stats.IdenticalStops != 1 {
		t.Fatalf("staged run must reach the same suppression decision, stats=%+v", staged.Stats)
	}
}

func TestCollapse_UnresolvedToolCallGetsGenericLabel(t *testing.T) {
	e := newTestEngine()
	env := e.Collapse(ParseMessagesFromJSON(t, `[
		{"role":"user","content":"go"},
		{"role":"tool","tool_call_id":"missing","content":"orphan result"}
	]`), Options{})
	if !strings.Contains(env.TaskBody, toolResultOpenPrefix+"tool"+toolResultOpenSuffix) {
		t.Fatalf("unresolved call should be labeled generically, got %q", env.TaskBody)
	}
	if !strings.Contains(env.TaskBody, "orphan result") {
		t.Fatalf("orphan result text must survive, got %q", env.TaskBody)
	}
}

func TestCollapse_AssistantReasoningSurvivesToolOnlyTurnsDropped(t *testing.T) {
	e := newTestEngine()
	env := e.Collapse(ParseMessagesFromJSON(t, `[
		{"role":"user","content":"go"},
		{"role":"assistant","content":"I will inspect the repo first.","tool_calls":[{"id":"c1","name":"bash","arguments":"{\"command\":\"ls\"}"}]},
		`+toolResult("c1", "a.go")+`,
		`+assistantCall("c2", "bash", `{"command":"cat a.go"}`)+`,
		`+toolResult("c2", "package a")+`
	]`), Options{})
	if !strings.Contains(env.TaskBody, assistantTurnMarker+"\nI will inspect the repo first.") {
		t.Fatalf("assistant reasoning text must be preserved, got %q", env.TaskBody)
	}
	if strings.Contains(env.TaskBody, "(empty response)") {
		t.Fatalf("tool-call-only turns must be dropped entirely, got %q", env.TaskBody)
	}
}

func TestCollapse_SkillTagGatesReuseAndAddsScopeNote(t *testing.T) {
	e := newTestEngine()

	first := e.Collapse(ParseMessagesFromJSON(t, `[
		{"role":"user","content":"<skill>review</skill> review this diff"}
	]`), Options{})
	if !strings.Contains(first.TaskBody, "Active skill <skill>review</skill>") {
		t.Fatalf("scoping note missing, got %q", first.TaskBody)
	}
	if first.Skill != "review" {
		t.Fatalf("expected active skill review, got %q", first.Skill)
	}

	// Same skill: wrapped turn is reused.
	same := e.Collapse(ParseMessagesFromJSON(t, `[
		`+wrappedUserMessage(t, e, first)+`,
		{"role":"user","content":"<skill>review</skill> continue"}
	]`), Options{})
	if !same.Stats.Reused {
		t.Fatalf("same-skill history should be reused")
	}

	// Different skill: the prior wrapped turn belongs to another task.
	other := e.Collapse(ParseMessagesFromJSON(t, `[
		`+wrappedUserMessage(t, e, first)+`,
		{"role":"user","content":"<skill>deploy</skill> ship it"}
	]`), Options{})
	if other.Stats.Reused {
		t.Fatalf("a wrapped turn with a different skill tag must not seed the transcript")
	}
}

func TestCollapse_SkillGateBindsToMostRecentWrappedTurn(t *testing.T) {
	e := newTestEngine()
	tagged := e.Collapse(ParseMessagesFromJSON(t, `[
		{"role":"user","content":"<skill>review</skill> review this diff"}
	]`), Options{})
	untagged := e.Collapse(ParseMessagesFromJSON(t, `[
		{"role":"user","content":"unrelated work"}
	]`), Options{})

	// The most recent wrapped turn lacks the active tag; an older tagged one
	// must not seed the transcript in its place.
	out := e.Collapse(ParseMessagesFromJSON(t, `[
		`+wrappedUserMessage(t, e, tagged)+`,
		`+wrappedUserMessage(t, e, untagged)+`,
		{"role":"user","content":"<skill>review</skill> continue"}
	]`), Options{})
	if out.Stats.Reused {
		t.Fatalf("reuse must be refused when the latest wrapped turn lacks the tag")
	}
	if strings.Contains(out.TaskBody, "review this diff") {
		t.Fatalf("stale tagged transcript must not leak into the fresh body, got %q", out.TaskBody)
	}
	if !strings.Contains(out.TaskBody, "continue") {
		t.Fatalf("new user turn missing, got %q", out.TaskBody)
	}
}

func TestCollapse_NotesDoNotAccumulateAcrossTurns(t *testing.T) {
	e := newTestEngine()
	flaky := func(id string) string {
		return assistantCall(id, "bash", `{"command":"./flaky.sh"}`) + `,
			` + toolResult(id, "(no output)")
	}

	first := e.Collapse(ParseMessagesFromJSON(t, `[{"role":"user","content":"go"},`+flaky("c1")+`,`+flaky("c2")+`]`), Options{})
	if !strings.Contains(first.TaskBody, "ran 2 times with no output") {
		t.Fatalf("first collapse should note the repeated no-output command, got %q", first.TaskBody)
	}

	second := e.Collapse(ParseMessagesFromJSON(t, `[`+wrappedUserMessage(t, e, first)+`,`+flaky("c3")+`]`), Options{})
	header := "Commands that repeatedly produced no output"
	if got := strings.Count(second.TaskBody, header); got != 1 {
		t.Fatalf("expected exactly one no-output note after re-collapse, got %d in %q", got, second.TaskBody)
	}
	if !strings.Contains(second.TaskBody, "ran 3 times with no output") {
		t.Fatalf("re-emitted note must carry the merged count, got %q", second.TaskBody)
	}
	if strings.Contains(second.TaskBody, "ran 2 times with no output") {
		t.Fatalf("stale note line must be stripped from the seed, got %q", second.TaskBody)
	}
}

func TestCollapse_ImagesCarriedIntoEnvelope(t *testing.T) {
	e := newTestEngine()
	out, _ := e.CollapseRequestBody([]byte(`{"messages":[
		{"role":"user","content":[
			{"type":"text","text":"what is in this screenshot"},
			{"type":"image","source":{"media_type":"image/png","data":"iVBORw0"}}
		]}
	]}`), Options{})
	parts := gjson.GetBytes(out, "messages.0.content")
	if parts.Get("#").Int() != 4 {
		t.Fatalf("expected 3 text parts + 1 image, got %s", parts.Raw)
	}
	url := parts.Get("3.image_url.url").String()
	if !strings.HasPrefix(url, "data:image/png;base64,") {
		t.Fatalf("image must be carried as a data URL, got %q", url)
	}
}

func TestCollapse_TaskBodyWithNestedMarkersExtractsFully(t *testing.T) {
	e := newTestEngine()
	quoted := "the template contains " + taskOpenMarker + " and " + taskCloseMarker + " literally"
	first := e.Collapse(ParseMessagesFromJSON(t, `[
		{"role":"user","content":`+jsonString(quoted)+`}
	]`), Options{})

	second := e.Collapse(ParseMessagesFromJSON(t, `[`+wrappedUserMessage(t, e, first)+`]`), Options{})
	if second.TaskBody != first.TaskBody {
		t.Fatalf("nested markers inside quoted content must not truncate extraction:\nfirst:  %q\nsecond: %q", first.TaskBody, second.TaskBody)
	}
}

func TestCollapseRequestBody_MalformedPayloadReturnedUnchanged(t *testing.T) {
	e := newTestEngine()
	for _, payload := range []string{`{}`, `{"messages":"nope"}`, `not json at all`} {
		out, stats := e.CollapseRequestBody([]byte(payload), Options{})
		if string(out) != payload {
			t.Fatalf("payload %q must pass through unchanged, got %q", payload, out)
		}
		if stats.ToolResults != 0 {
			t.Fatalf("no tool results expected for %q", payload)
		}
	}
}

func jsonString(s string) string {
	raw, _ := json.Marshal(s)
	return string(raw)
}
