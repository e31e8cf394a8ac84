package conversation

import "strings"

// Inspection families group read-only probes that should count as the same
// repeated action despite superficial argument differences ("ls", "ls -la",
// "ls -la ." are one probe). Only the leading segment of a compound command
// participates so chaining an already-penalized command with a new one does
// not reset its family.

// inspectionFamily returns the normalized family key for a call and whether
// the call qualifies as an inspection at all.
func inspectionFamily(kind toolKind, summary string) (string, bool) {
	switch kind {
	case toolRead:
		if strings.HasPrefix(summary, "read ") {
			return summary, true
		}
		return "read", true
	case toolShell:
		return shellFamily(strings.TrimPrefix(summary, "$ "))
	default:
		return "", false
	}
}

// shellFamily classifies a shell command line. Qualifying verbs are the fixed
// read-only set: directory listing, file viewing, search, version-control
// status/diff/log/show, working-directory query, and tool-presence query.
func shellFamily(command string) (string, bool) {
	segment := leadingSegment(command)
	fields := strings.Fields(segment)
	if len(fields) == 0 {
		return "", false
	}
	verb := fields[0]
	rest := fields[1:]

	switch verb {
	case "ls", "ll", "dir", "tree":
		target := firstOperand(rest)
		if target == "" {
			target = "."
		}
		return "ls " + target, true
	case "cat", "head", "tail", "less", "more", "bat":
		if operand := firstOperand(rest); operand != "" {
			return "cat " + operand, true
		}
		return "cat", true
	case "git":
		if sub := gitSubcommand(rest); sub != "" {
			return "git " + sub, true
		}
		return "", false
	case "pwd":
		return "pwd", true
	case "which", "whereis", "type", "command":
		return strings.Join(fields, " "), true
	case "grep", "egrep", "fgrep", "rg", "ag", "find", "fd", "wc", "stat", "file":
		return strings.Join(fields, " "), true
	default:
		return "", false
	}
}

// leadingSegment takes the part of a command before the first "&&", "||", or
// ";" and collapses its whitespace.
func leadingSegment(command string) string {
	cut := len(command)
	for _, sep := range []string{"&&", "||", ";"} {
		if idx := strings.Index(command, sep); idx >= 0 && idx < cut {
			cut = idx
		}
	}
	return strings.Join(strings.Fields(command[:cut]), " ")
}

// firstOperand returns the first argument that is neither a flag nor a bare
// number. Numbers are treated as flag values ("head -n 20 main.go").
func firstOperand(fields []string) string {
	for _, field := range fields {
		if strings.HasPrefix(field, "-") || isNumeric(field) {
			continue
		}
		return field
	}
	return ""
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// gitSubcommand extracts the read-only git subcommand, skipping flags and
// paths. Only status, diff, log, and show qualify as inspections.
func gitSubcommand(fields []string) string {
	for _, field := range fields {
		if strings.HasPrefix(field, "-") {
			continue
		}
		switch field {
		case "status", "diff", "log", "show":
			return field
		}
		return ""
	}
	return ""
}
