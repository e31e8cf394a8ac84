package provider

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

func init() {
	Register(DialectPrompt, Adapter{
		BuildRequest: buildPromptRequest,
		ExtractText:  extractPromptText,
	})
}

// buildPromptRequest flattens the collapsed message list into a single
// prompt string. The system message leads, then every text part of the user
// turn in order. Image parts cannot be carried and are dropped.
func buildPromptRequest(model string, collapsed []byte) ([]byte, error) {
	root := gjson.ParseBytes(collapsed)
	var sections []string
	for _, message := range root.Get("messages").Array() {
		content := message.Get("content")
		if content.Type == gjson.String {
			if text := content.String(); text != "" {
				sections = append(sections, text)
			}
			continue
		}
		for _, part := range content.Array() {
			if part.Get("type").String() != "text" {
				continue
			}
			if text := part.Get("text").String(); text != "" {
				sections = append(sections, text)
			}
		}
	}
	if len(sections) == 0 {
		return nil, fmt.Errorf("collapsed request has no text content")
	}

	body := []byte(`{}`)
	var err error
	if model == "" {
		model = root.Get("model").String()
	}
	if model != "" {
		body, err = sjson.SetBytes(body, "model", model)
		if err != nil {
			return nil, fmt.Errorf("set model: %w", err)
		}
	}
	body, err = sjson.SetBytes(body, "prompt", strings.Join(sections, "\n\n"))
	if err != nil {
		return nil, fmt.Errorf("set prompt: %w", err)
	}
	if maxTokens := root.Get("max_tokens"); maxTokens.Exists() {
		body, err = sjson.SetBytes(body, "max_tokens", maxTokens.Int())
		if err != nil {
			return nil, fmt.Errorf("set max_tokens: %w", err)
		}
	}
	return body, nil
}

func extractPromptText(response []byte) (string, error) {
	root := gjson.ParseBytes(response)
	if errMsg := root.Get("error.message"); errMsg.Exists() {
		return "", fmt.Errorf("upstream error: %s", errMsg.String())
	}
	if text := root.Get("choices.0.text"); text.Exists() {
		return text.String(), nil
	}
	if text := root.Get("completion"); text.Exists() {
		return text.String(), nil
	}
	return "", fmt.Errorf("upstream response has no completion text")
}
