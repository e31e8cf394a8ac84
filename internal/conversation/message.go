// Package conversation implements the transcript-collapsing and loop-detection
// engine that sits between a tool-using agent and an upstream chat endpoint
// expecting a single conversational turn. The engine is stateless across
// invocations: all bookkeeping is rehydrated from the previously emitted
// collapsed transcript text.
package conversation

import (
	"strings"
	"unicode"

	"github.com/tidwall/gjson"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a tool invocation declared by an assistant turn, in any of the
// wire shapes an agent runtime may have recorded it.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw argument text, parsed lazily with fallback
}

// ImagePart carries an inline image attachment from a user turn.
type ImagePart struct {
	MimeType string
	Data     string // base64 payload or full data: URL
}

// Message is the internal canonical form of one conversational turn. Wire
// shape differences are resolved once, at parse time; nothing downstream
// branches on how the runtime encoded its content.
type Message struct {
	Role        Role
	Text        string
	Images      []ImagePart
	ToolCallID  string
	ToolCalls   []ToolCall
	Placeholder bool // true when Text is a role fallback for empty content
}

// ParseMessages decodes a raw messages array into canonical messages. It
// tolerates string content, ordered part arrays, missing content, and the
// three supported tool-call encodings. It is total: malformed entries degrade
// to placeholder text rather than failing.
func ParseMessages(messages gjson.Result) []Message {
	if !messages.Exists() || !messages.IsArray() {
		return nil
	}
	out := make([]Message, 0, len(messages.Array()))
	messages.ForEach(func(_, raw gjson.Result) bool {
		out = append(out, parseMessage(raw))
		return true
	})
	return out
}

func parseMessage(raw gjson.Result) Message {
	msg := Message{
		Role:       normalizeRole(raw.Get("role").String()),
		ToolCallID: firstString(raw.Get("tool_call_id").String(), raw.Get("toolCallId").String(), raw.Get("tool_use_id").String()),
	}

	content := raw.Get("content")
	switch {
	case content.Type == gjson.String:
		msg.Text = sanitizeText(content.String())
	case content.IsArray():
		msg.Text, msg.Images, msg.ToolCalls = parseContentParts(content, msg.Role)
	case content.Exists() && content.Type != gjson.Null:
		msg.Text = sanitizeText(content.String())
	}

	// Message-level tool call lists. Entries either carry name/arguments at the
	// top level or nest them one level deeper under "function". Later entries
	// for an id overwrite earlier ones at resolution time.
	for _, key := range []string{"tool_calls", "toolCalls", "toolInvocations"} {
		if list := raw.Get(key); list.IsArray() {
			list.ForEach(func(_, entry gjson.Result) bool {
				if call, ok := parseToolCallEntry(entry); ok {
					msg.ToolCalls = append(msg.ToolCalls, call)
				}
				return true
			})
		}
	}

	if strings.TrimSpace(msg.Text) == "" {
		msg.Text = fallbackText(msg.Role)
		msg.Placeholder = true
	}
	return msg
}

func parseContentParts(content gjson.Result, role Role) (string, []ImagePart, []ToolCall) {
	textParts := make([]string, 0, 4)
	var images []ImagePart
	var calls []ToolCall

	content.ForEach(func(_, part gjson.Result) bool {
		switch strings.ToLower(strings.TrimSpace(part.Get("type").String())) {
		case "text", "input_text", "output_text":
			if text := sanitizeText(part.Get("text").String()); text != "" {
				textParts = append(textParts, text)
			}
		case "image", "input_image", "image_url":
			// Images are only meaningful on user turns.
			if role == RoleUser {
				if img, ok := parseImagePart(part); ok {
					images = append(images, img)
				}
			}
		case "tool_call", "tool_use":
			if call, ok := parseToolCallEntry(part); ok {
				calls = append(calls, call)
			}
		default:
			if text := sanitizeText(part.Get("text").String()); text != "" {
				textParts = append(textParts, text)
			}
		}
		return true
	})
	return strings.Join(textParts, "\n\n"), images, calls
}

func parseToolCallEntry(entry gjson.Result) (ToolCall, bool) {
	call := ToolCall{
		ID:   firstString(entry.Get("id").String(), entry.Get("tool_use_id").String(), entry.Get("toolCallId").String()),
		Name: strings.TrimSpace(entry.Get("name").String()),
	}
	args := entry.Get("arguments")
	if !args.Exists() {
		args = entry.Get("input")
	}
	if call.Name == "" {
		// Nested shape: {"id": ..., "function": {"name": ..., "arguments": ...}}
		fn := entry.Get("function")
		if fn.Exists() {
			call.Name = strings.TrimSpace(fn.Get("name").String())
			if nested := fn.Get("arguments"); nested.Exists() {
				args = nested
			}
		}
	}
	if args.Exists() {
		if args.Type == gjson.String {
			call.Arguments = args.String()
		} else {
			call.Arguments = args.Raw
		}
	}
	if call.ID == "" || call.Name == "" {
		return ToolCall{}, false
	}
	return call, true
}

func parseImagePart(part gjson.Result) (ImagePart, bool) {
	if source := part.Get("source"); source.Exists() {
		mime := strings.TrimSpace(source.Get("media_type").String())
		data := strings.TrimSpace(source.Get("data").String())
		if data == "" {
			return ImagePart{}, false
		}
		return ImagePart{MimeType: mime, Data: data}, true
	}
	if url := strings.TrimSpace(part.Get("image_url.url").String()); url != "" {
		return ImagePart{Data: url}, true
	}
	if url := strings.TrimSpace(part.Get("image_url").String()); url != "" && !strings.HasPrefix(url, "{") {
		return ImagePart{Data: url}, true
	}
	return ImagePart{}, false
}

func normalizeRole(role string) Role {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "system", "developer":
		return RoleSystem
	case "assistant", "model":
		return RoleAssistant
	case "tool", "function":
		return RoleTool
	default:
		return RoleUser
	}
}

// fallbackText supplies role-appropriate placeholder content so a message is
// never empty. The tool fallback doubles as the no-output sentinel used by
// loop detection.
func fallbackText(role Role) string {
	switch role {
	case RoleTool:
		return noOutputText
	case RoleAssistant:
		return "(empty response)"
	default:
		return "(empty message)"
	}
}

// sanitizeText normalizes line endings and drops control characters other
// than newline and tab, then trims surrounding whitespace.
func sanitizeText(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var builder strings.Builder
	builder.Grow(len(text))
	for _, r := range text {
		switch {
		case r == '\r':
			continue
		case r == '\n', r == '\t':
			builder.WriteRune(r)
		case unicode.IsControl(r):
			continue
		default:
			builder.WriteRune(r)
		}
	}
	return strings.TrimSpace(builder.String())
}

func firstString(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
