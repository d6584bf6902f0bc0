package imagegen

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// GeminiClient calls a generateContent endpoint with image output enabled.
type GeminiClient struct {
	apiKey   string
	endpoint string
	client   httpDoer
	log      *slog.Logger
}

func NewGeminiClient(apiKey, endpoint string, client *http.Client, log *slog.Logger) *GeminiClient {
	if endpoint == "" {
		endpoint = "https://api.apiyi.com/v1beta/models/gemini-3-pro-image-preview:generateContent"
	}
	if client == nil {
		client = &http.Client{}
	}
	return &GeminiClient{apiKey: apiKey, endpoint: endpoint, client: client, log: log}
}

func (g *GeminiClient) Name() string { return "gemini" }

func (g *GeminiClient) Generate(ctx context.Context, req Request) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, TimeoutFor(req.Resolution))
	defer cancel()

	payload, err := g.buildPayload(req)
	if err != nil {
		return nil, err
	}

	raw, err := postJSON(ctx, g.client, g.Name(), g.endpoint, map[string]string{
		"Authorization": "Bearer " + g.apiKey,
	}, payload)
	if err != nil {
		return nil, err
	}

	parsed := gjson.ParseBytes(raw)
	if errResult := parsed.Get("error"); errResult.Exists() {
		msg := errResult.Get("message").String()
		if msg == "" {
			msg = "unknown error"
		}
		return nil, &Error{Vendor: g.Name(), Message: msg}
	}
	if reason := parsed.Get("promptFeedback.blockReason").String(); reason != "" {
		return nil, &Error{Vendor: g.Name(), Reason: ReasonContentFilter, Message: "prompt blocked: " + reason}
	}

	var data, mime string
	parsed.Get("candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		inline := part.Get("inlineData")
		if !inline.Exists() {
			inline = part.Get("inline_data")
		}
		if d := inline.Get("data"); d.Exists() && d.String() != "" {
			data = d.String()
			mime = inline.Get("mimeType").String()
			if mime == "" {
				mime = inline.Get("mime_type").String()
			}
			return false
		}
		return true
	})
	if data == "" {
		if parsed.Get("candidates.0.finishReason").String() == "SAFETY" {
			return nil, &Error{Vendor: g.Name(), Reason: ReasonContentFilter, Message: "response blocked by safety filter"}
		}
		return nil, &Error{Vendor: g.Name(), Message: "no image data in response: " + truncateBody(raw)}
	}

	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, &Error{Vendor: g.Name(), Message: fmt.Sprintf("decode image data: %v", err)}
	}
	if g.log != nil {
		g.log.Info("gemini generation completed", "resolution", req.Resolution, "bytes", len(decoded))
	}
	return &Result{Data: decoded, MimeType: mimeOrDefault(mime)}, nil
}

func (g *GeminiClient) buildPayload(req Request) ([]byte, error) {
	payload := []byte(`{"contents":[{"parts":[]}]}`)
	var err error
	set := func(path string, value any) {
		if err != nil {
			return
		}
		payload, err = sjson.SetBytes(payload, path, value)
	}

	set("contents.0.parts.-1", map[string]any{"text": req.Prompt})
	for _, img := range req.Images {
		if len(img.Data) == 0 {
			continue
		}
		set("contents.0.parts.-1", map[string]any{
			"inline_data": map[string]string{
				"mime_type": mimeOrDefault(img.MimeType),
				"data":      base64.StdEncoding.EncodeToString(img.Data),
			},
		})
	}
	set("generationConfig.responseModalities", []string{"IMAGE"})
	set("generationConfig.imageConfig.aspectRatio", aspectRatioOrDefault(req.AspectRatio))
	if req.Resolution != "" {
		set("generationConfig.imageConfig.image_size", req.Resolution)
	}
	if err != nil {
		return nil, fmt.Errorf("build payload: %w", err)
	}
	return payload, nil
}
