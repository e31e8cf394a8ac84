package conversation

import (
	"encoding/json"
	"strings"
)

const maxArgumentSummaryLength = 240

type toolKind int

const (
	toolOther toolKind = iota
	toolShell
	toolRead
	toolWrite
	toolEdit
)

// callContext describes one resolved tool invocation: its tool name and the
// canonical one-line summary used as the identity key for loop detection.
type callContext struct {
	name    string
	summary string
}

// resolveCallContexts scans the full message list once and builds a lookup
// from call id to invocation context. Later declarations for the same id
// overwrite earlier ones so the most complete representation wins.
func resolveCallContexts(messages []Message) map[string]callContext {
	contexts := make(map[string]callContext)
	for _, msg := range messages {
		for _, call := range msg.ToolCalls {
			if call.ID == "" || call.Name == "" {
				continue
			}
			contexts[call.ID] = callContext{
				name:    call.Name,
				summary: summarizeCall(call.Name, call.Arguments),
			}
		}
	}
	return contexts
}

// summarizeCall renders a tool invocation as a short canonical line. Two calls
// are treated as identical by loop detection iff these summaries are equal.
// The summary doubles as a tool-result block header in the collapsed
// transcript, so it must never contain a line break: a multi-line command
// would split the header and make the block unscannable on rehydration.
func summarizeCall(name, rawArgs string) string {
	return oneLine(rawSummary(name, rawArgs))
}

func rawSummary(name, rawArgs string) string {
	args := parseArguments(rawArgs)
	switch classifyTool(name) {
	case toolShell:
		if cmd := stringField(args, "command", "cmd", "script"); cmd != "" {
			return "$ " + cmd
		}
	case toolRead:
		if path := pathField(args); path != "" {
			return "read " + path
		}
	case toolWrite:
		if path := pathField(args); path != "" {
			return "write " + path
		}
	case toolEdit:
		if path := pathField(args); path != "" {
			return "edit " + path
		}
	}
	if len(args) == 0 {
		return name
	}
	compact, err := json.Marshal(args)
	if err != nil {
		return name
	}
	summary := name + " " + string(compact)
	if runes := []rune(summary); len(runes) > maxArgumentSummaryLength {
		summary = string(runes[:maxArgumentSummaryLength])
	}
	return summary
}

// classifyTool buckets a tool name into the classes loop detection cares
// about. Matching is insensitive to case, spaces, hyphens, and underscores so
// "read_file", "ReadFile", and "read-file" land in the same bucket.
func classifyTool(name string) toolKind {
	switch normalizeToolKey(name) {
	case "bash", "shell", "sh", "exec", "terminal", "runcommand", "execcommand", "executecommand", "runshellcommand", "runterminalcmd":
		return toolShell
	case "read", "readfile", "viewfile", "openfile", "catfile", "view":
		return toolRead
	case "write", "writefile", "createfile", "savefile", "filewrite":
		return toolWrite
	case "edit", "editfile", "fileedit", "multiedit", "strreplace", "strreplaceeditor", "applypatch", "patchfile", "appendfile":
		return toolEdit
	default:
		return toolOther
	}
}

// isMutationKind reports whether a tool class changes persistent state. A
// mutation invalidates every prior "you already inspected this" conclusion.
func isMutationKind(kind toolKind) bool {
	return kind == toolWrite || kind == toolEdit
}

// oneLine collapses all whitespace runs, including line breaks, into single
// spaces.
func oneLine(s string) string {
	if !strings.ContainsAny(s, "\n\r") {
		return s
	}
	return strings.Join(strings.Fields(s), " ")
}

func normalizeToolKey(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.ReplaceAll(key, " ", "")
	key = strings.ReplaceAll(key, "-", "")
	key = strings.ReplaceAll(key, "_", "")
	return key
}

// parseArguments decodes tool arguments that may arrive as an object or as a
// string requiring a parse. A malformed argument string becomes {"raw": s}
// rather than failing.
func parseArguments(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "{}" || raw == "null" {
		return nil
	}
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return map[string]any{"raw": raw}
	}
	switch v := decoded.(type) {
	case map[string]any:
		if len(v) == 0 {
			return nil
		}
		return v
	case nil:
		return nil
	default:
		return map[string]any{"raw": raw}
	}
}

func stringField(args map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := args[key].(string); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

func pathField(args map[string]any) string {
	return stringField(args, "path", "file_path", "filePath", "file", "filename", "target_file")
}
