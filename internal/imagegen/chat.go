package imagegen

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var (
	markdownImagePattern = regexp.MustCompile(`!\[[^\]]*\]\((https?://[^)\s]+)\)`)
	dataURIPattern       = regexp.MustCompile(`data:(image/[A-Za-z0-9.+-]+);base64,([A-Za-z0-9+/=]+)`)
)

// ChatClient drives an OpenAI-compatible chat completions endpoint whose
// model answers with a markdown image link or an inline data URI.
type ChatClient struct {
	apiKey  string
	baseURL string
	model   string
	client  httpDoer
	log     *slog.Logger
}

func NewChatClient(apiKey, baseURL, model string, client *http.Client, log *slog.Logger) *ChatClient {
	if model == "" {
		model = "gemini-3-pro-image-preview"
	}
	if client == nil {
		client = &http.Client{}
	}
	return &ChatClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  client,
		log:     log,
	}
}

func (c *ChatClient) Name() string { return "chat" }

func (c *ChatClient) Generate(ctx context.Context, req Request) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, TimeoutFor(req.Resolution))
	defer cancel()

	payload, err := c.buildPayload(req)
	if err != nil {
		return nil, err
	}

	raw, err := postJSON(ctx, c.client, c.Name(), c.baseURL+"/chat/completions", map[string]string{
		"Authorization": "Bearer " + c.apiKey,
	}, payload)
	if err != nil {
		return nil, err
	}

	parsed := gjson.ParseBytes(raw)
	if msg := parsed.Get("error.message"); msg.Exists() {
		return nil, &Error{Vendor: c.Name(), Message: msg.String()}
	}

	choice := parsed.Get("choices.0")
	if choice.Get("finish_reason").String() == ReasonContentFilter {
		return nil, &Error{Vendor: c.Name(), Reason: ReasonContentFilter, Message: "request rejected by content policy"}
	}

	content := messageContent(choice.Get("message.content"))
	if content == "" {
		return nil, &Error{Vendor: c.Name(), Message: "response carries no content: " + truncateBody(raw)}
	}

	result, err := extractImage(content)
	if err != nil {
		return nil, &Error{Vendor: c.Name(), Message: err.Error()}
	}
	if c.log != nil {
		c.log.Info("chat generation completed", "model", c.model, "hosted", result.URL != "")
	}
	return result, nil
}

func (c *ChatClient) buildPayload(req Request) ([]byte, error) {
	payload := []byte(`{"stream":false,"messages":[{"role":"user","content":[]}]}`)
	payload, err := sjson.SetBytes(payload, "model", c.model)
	if err != nil {
		return nil, fmt.Errorf("build payload: %w", err)
	}
	payload, err = sjson.SetBytes(payload, "messages.0.content.-1", map[string]any{
		"type": "text",
		"text": req.Prompt,
	})
	if err != nil {
		return nil, fmt.Errorf("build payload: %w", err)
	}
	for _, img := range req.Images {
		if len(img.Data) == 0 {
			continue
		}
		uri := "data:" + mimeOrDefault(img.MimeType) + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
		payload, err = sjson.SetBytes(payload, "messages.0.content.-1", map[string]any{
			"type":      "image_url",
			"image_url": map[string]string{"url": uri},
		})
		if err != nil {
			return nil, fmt.Errorf("build payload: %w", err)
		}
	}
	return payload, nil
}

// messageContent flattens string or multi-part message content into text.
func messageContent(v gjson.Result) string {
	if !v.IsArray() {
		return v.String()
	}
	var parts []string
	v.ForEach(func(_, part gjson.Result) bool {
		switch part.Get("type").String() {
		case "text":
			parts = append(parts, part.Get("text").String())
		case "image_url":
			parts = append(parts, part.Get("image_url.url").String())
		}
		return true
	})
	return strings.Join(parts, "\n")
}

// extractImage prefers a markdown image link and falls back to an inline data URI.
func extractImage(content string) (*Result, error) {
	if m := markdownImagePattern.FindStringSubmatch(content); m != nil {
		return &Result{URL: m[1]}, nil
	}
	if m := dataURIPattern.FindStringSubmatch(content); m != nil {
		data, err := base64.StdEncoding.DecodeString(m[2])
		if err != nil {
			return nil, fmt.Errorf("decode inline image: %w", err)
		}
		return &Result{Data: data, MimeType: m[1]}, nil
	}
	return nil, fmt.Errorf("no image url or base64 data in response")
}
