// Package scaffold supplies the fixed template blocks the upstream envelope
// format requires: a progress checklist instruction block and an environment
// description block. The collapse engine treats both as opaque text; only the
// marker lines matter to it, for recognizing previously wrapped turns.
package scaffold

import (
	"fmt"
	"os"
	"strings"
)

// Marker lines identifying each block inside a wrapped user turn. Captured
// overrides must carry them so reuse detection keeps working; Load prepends
// them when an override omits them.
const (
	ProgressMarker    = "<progress-checklist>"
	EnvironmentMarker = "<environment-notes>"
)

// Blocks holds the two scaffold text blocks injected into every collapsed
// user turn.
type Blocks struct {
	Progress    string
	Environment string
}

const defaultProgress = ProgressMarker + `
Before responding, restate the task briefly, list what has already been done,
and state the single next step you will take. Do not repeat completed steps.
Prefer making the required change over gathering more context.`

const defaultEnvironment = EnvironmentMarker + `
You are operating through a tool-using coding agent. Tool results from earlier
turns appear above as labeled blocks inside the task context. Treat them as
ground truth; they are not reproduced elsewhere.`

// Default returns the static scaffold blocks compiled into the binary.
func Default() Blocks {
	return Blocks{Progress: defaultProgress, Environment: defaultEnvironment}
}

// Load builds scaffold blocks from optional capture files, falling back to
// the static defaults for any path left empty.
func Load(progressFile, environmentFile string) (Blocks, error) {
	blocks := Default()
	if progressFile != "" {
		text, err := readBlock(progressFile, ProgressMarker)
		if err != nil {
			return Blocks{}, err
		}
		blocks.Progress = text
	}
	if environmentFile != "" {
		text, err := readBlock(environmentFile, EnvironmentMarker)
		if err != nil {
			return Blocks{}, err
		}
		blocks.Environment = text
	}
	return blocks, nil
}

func readBlock(path, marker string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("scaffold: read %s: %w", path, err)
	}
	text := strings.TrimSpace(string(data))
	if !strings.Contains(text, marker) {
		text = marker + "\n" + text
	}
	return text, nil
}
