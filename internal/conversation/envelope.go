package conversation

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/monoturn/monoturn/internal/scaffold"
)

// Engine collapses a multi-turn tool conversation into the bounded envelope
// the upstream endpoint expects: one optional system message plus exactly one
// user turn. It holds only policy (thresholds) and templates (scaffold); all
// per-conversation state is rehydrated from text on every call.
type Engine struct {
	limits Thresholds
	blocks scaffold.Blocks
}

// NewEngine constructs an engine with the given detection thresholds and
// scaffold blocks. Zero thresholds select the defaults.
func NewEngine(limits Thresholds, blocks scaffold.Blocks) *Engine {
	if blocks.Progress == "" || blocks.Environment == "" {
		defaults := scaffold.Default()
		if blocks.Progress == "" {
			blocks.Progress = defaults.Progress
		}
		if blocks.Environment == "" {
			blocks.Environment = defaults.Environment
		}
	}
	return &Engine{limits: limits.withDefaults(), blocks: blocks}
}

// Options control one collapse invocation.
type Options struct {
	// IgnoreWrappedHistory disables reuse of a previously wrapped turn. The
	// host session layer sets it at session start or model switch to avoid
	// cross-task carryover.
	IgnoreWrappedHistory bool
}

// Stats summarizes what one collapse pass did, for logging and metrics.
type Stats struct {
	ToolResults    int
	NoOutputStops  int
	IdenticalStops int
	FamilyStops    int
	GlobalStops    int
	Reused         bool
}

// Envelope is the collapsed form of a conversation, ready to be rendered as
// an outgoing message list.
type Envelope struct {
	System   string // first system turn, verbatim; empty when absent
	TaskBody string // flattened transcript, without the task markers
	Skill    string
	Images   []ImagePart
	Stats    Stats
}

// Collapse runs the full pipeline over an in-memory message list. It is pure
// computation, total over its input, and safe on an empty history.
func (e *Engine) Collapse(messages []Message, opts Options) Envelope {
	result := e.assemble(messages, opts.IgnoreWrappedHistory)
	det := result.detector
	return Envelope{
		System:   result.system,
		TaskBody: result.body,
		Skill:    result.skill,
		Images:   result.images,
		Stats: Stats{
			ToolResults:    det.toolEntries,
			NoOutputStops:  det.noOutputStops,
			IdenticalStops: det.identicalStops,
			FamilyStops:    det.familyStops,
			GlobalStops:    det.globalStops,
			Reused:         result.reused,
		},
	}
}

// TaskBlock returns the task body wrapped in its marker pair.
func (env Envelope) TaskBlock() string {
	return taskOpenMarker + "\n" + env.TaskBody + "\n" + taskCloseMarker
}

// Messages renders the envelope as the replacement message list: the system
// message when present, then one user message whose content is the task
// block, the progress block, the environment block, and any carried images,
// in that order.
func (e *Engine) Messages(env Envelope) []map[string]any {
	parts := []any{
		map[string]any{"type": "text", "text": env.TaskBlock()},
		map[string]any{"type": "text", "text": e.blocks.Progress},
		map[string]any{"type": "text", "text": e.blocks.Environment},
	}
	for _, img := range env.Images {
		parts = append(parts, imageContentPart(img))
	}

	out := make([]map[string]any, 0, 2)
	if strings.TrimSpace(env.System) != "" {
		out = append(out, map[string]any{"role": "system", "content": env.System})
	}
	out = append(out, map[string]any{"role": "user", "content": parts})
	return out
}

// CollapseRequestBody is the raw-body entry point: it parses the "messages"
// array of an upstream-bound chat request, collapses it, and rewrites the
// payload in place. On any failure it returns the payload unchanged; reduced
// fidelity, never a crash.
func (e *Engine) CollapseRequestBody(payload []byte, opts Options) ([]byte, Stats) {
	root := gjson.ParseBytes(payload)
	messages := ParseMessages(root.Get("messages"))
	if len(messages) == 0 {
		return payload, Stats{}
	}
	env := e.Collapse(messages, opts)

	rendered := e.Messages(env)
	raw, err := json.Marshal(rendered)
	if err != nil {
		return payload, env.Stats
	}
	out, err := sjson.SetRawBytes(payload, "messages", raw)
	if err != nil {
		return payload, env.Stats
	}
	return out, env.Stats
}

func imageContentPart(img ImagePart) map[string]any {
	url := img.Data
	if !strings.HasPrefix(url, "data:") && img.MimeType != "" {
		url = "data:" + img.MimeType + ";base64," + img.Data
	}
	return map[string]any{
		"type":      "image_url",
		"image_url": map[string]any{"url": url},
	}
}
