package provider

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

func init() {
	Register(DialectChat, Adapter{
		BuildRequest: buildChatRequest,
		ExtractText:  extractChatText,
	})
}

// buildChatRequest keeps the collapsed body as-is, overriding the model and
// forcing a non-streaming response.
func buildChatRequest(model string, collapsed []byte) ([]byte, error) {
	out := collapsed
	var err error
	if model != "" {
		out, err = sjson.SetBytes(out, "model", model)
		if err != nil {
			return nil, fmt.Errorf("set model: %w", err)
		}
	}
	out, err = sjson.SetBytes(out, "stream", false)
	if err != nil {
		return nil, fmt.Errorf("set stream: %w", err)
	}
	return out, nil
}

func extractChatText(response []byte) (string, error) {
	root := gjson.ParseBytes(response)
	if errMsg := root.Get("error.message"); errMsg.Exists() {
		return "", fmt.Errorf("upstream error: %s", errMsg.String())
	}
	content := root.Get("choices.0.message.content")
	if !content.Exists() {
		return "", fmt.Errorf("upstream response has no completion content")
	}
	return content.String(), nil
}
