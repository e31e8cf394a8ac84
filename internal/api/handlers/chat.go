// Package handlers contains the HTTP handlers for the API surface: the
// collapsing chat completion endpoint and the model listing.
package handlers

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/monoturn/monoturn/internal/api/middleware"
	"github.com/monoturn/monoturn/internal/conversation"
	apierrors "github.com/monoturn/monoturn/internal/errors"
	"github.com/monoturn/monoturn/internal/provider"
	"github.com/monoturn/monoturn/internal/session"
)

const (
	sessionHeader = "X-Session-Id"
	freshHeader   = "X-Fresh-Session"
)

// ChatHandler serves POST /v1/chat/completions. It collapses the incoming
// conversation into the bounded envelope, forwards it upstream, and returns
// the completion in chat format.
type ChatHandler struct {
	engine      *conversation.Engine
	flags       *session.FreshFlags
	adapter     provider.Adapter
	upstreamURL string
	model       string
	client      *http.Client
}

// NewChatHandler wires a chat handler. model may be empty, in which case the
// client's requested model is forwarded as-is.
func NewChatHandler(engine *conversation.Engine, flags *session.FreshFlags, adapter provider.Adapter, upstreamURL, model string, client *http.Client) *ChatHandler {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	return &ChatHandler{
		engine:      engine,
		flags:       flags,
		adapter:     adapter,
		upstreamURL: upstreamURL,
		model:       model,
		client:      client,
	}
}

// Handle processes one chat completion request.
func (h *ChatHandler) Handle(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		respondError(c, apierrors.InvalidRequest("could not read request body", err))
		return
	}
	if !gjson.ValidBytes(body) {
		respondError(c, apierrors.InvalidRequest("request body is not valid JSON", nil))
		return
	}

	opts := h.collapseOptions(c)
	collapsed, stats := h.engine.CollapseRequestBody(body, opts)
	middleware.RecordCollapse(stats)
	logCollapse(c, stats)

	upstreamBody, err := h.adapter.BuildRequest(h.model, collapsed)
	if err != nil {
		respondError(c, apierrors.Internal("could not build upstream request", err))
		return
	}

	respBody, status, err := h.forward(c, upstreamBody)
	if err != nil {
		respondError(c, apierrors.Upstream(0, err.Error(), err))
		return
	}
	if status != http.StatusOK {
		forwardUpstreamError(c, status, respBody)
		return
	}

	text, err := h.adapter.ExtractText(respBody)
	if err != nil {
		respondError(c, apierrors.Upstream(0, err.Error(), err))
		return
	}

	c.Data(http.StatusOK, "application/json", completionResponse(h.responseModel(body), text, respBody))
}

// collapseOptions resolves the per-session fresh flag. A request carrying
// X-Fresh-Session marks the session, and the mark is consumed exactly once.
func (h *ChatHandler) collapseOptions(c *gin.Context) conversation.Options {
	sessionID := strings.TrimSpace(c.GetHeader(sessionHeader))
	if sessionID == "" {
		return conversation.Options{}
	}
	if strings.EqualFold(c.GetHeader(freshHeader), "true") {
		h.flags.MarkFresh(sessionID)
	}
	return conversation.Options{IgnoreWrappedHistory: h.flags.ConsumeFresh(sessionID)}
}

func (h *ChatHandler) forward(c *gin.Context, body []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost, h.upstreamURL, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("upstream request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read upstream response: %w", err)
	}
	return respBody, resp.StatusCode, nil
}

func (h *ChatHandler) responseModel(requestBody []byte) string {
	if h.model != "" {
		return h.model
	}
	return gjson.GetBytes(requestBody, "model").String()
}

// completionResponse renders the chat completion reply. Upstream usage is
// carried over when present.
func completionResponse(model, text string, upstream []byte) []byte {
	out := []byte(`{"object":"chat.completion"}`)
	out, _ = sjson.SetBytes(out, "id", "chatcmpl-"+uuid.NewString())
	out, _ = sjson.SetBytes(out, "created", time.Now().Unix())
	out, _ = sjson.SetBytes(out, "model", model)
	out, _ = sjson.SetBytes(out, "choices.0.index", 0)
	out, _ = sjson.SetBytes(out, "choices.0.message.role", "assistant")
	out, _ = sjson.SetBytes(out, "choices.0.message.content", text)
	out, _ = sjson.SetBytes(out, "choices.0.finish_reason", "stop")
	if usage := gjson.GetBytes(upstream, "usage"); usage.Exists() {
		out, _ = sjson.SetRawBytes(out, "usage", []byte(usage.Raw))
	}
	return out
}

func forwardUpstreamError(c *gin.Context, status int, body []byte) {
	if gjson.ValidBytes(body) && gjson.GetBytes(body, "error").Exists() {
		c.Data(status, "application/json", body)
		return
	}
	respondError(c, apierrors.Upstream(status, fmt.Sprintf("upstream returned status %d", status), nil))
}

func respondError(c *gin.Context, err *apierrors.APIError) {
	c.Abort()
	c.Data(err.HTTPStatus, "application/json", err.Body())
}

func logCollapse(c *gin.Context, stats conversation.Stats) {
	fields := log.Fields{
		"tool_results":    stats.ToolResults,
		"no_output_stops": stats.NoOutputStops,
		"identical_stops": stats.IdenticalStops,
		"family_stops":    stats.FamilyStops,
		"global_stops":    stats.GlobalStops,
		"reused":          stats.Reused,
	}
	if sessionID := strings.TrimSpace(c.GetHeader(sessionHeader)); sessionID != "" {
		fields["session_id"] = sessionID
	}
	log.WithFields(fields).Debug("collapsed conversation")
}
