package imagegen

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// KIEClient drives the asynchronous KIE jobs API: create a task, then poll
// its record until it settles. Inputs must be publicly reachable URLs.
type KIEClient struct {
	apiKey       string
	baseURL      string
	model        string
	client       httpDoer
	log          *slog.Logger
	pollInterval time.Duration
}

func NewKIEClient(apiKey, baseURL, model string, client *http.Client, log *slog.Logger) *KIEClient {
	if client == nil {
		client = &http.Client{}
	}
	if model == "" {
		model = "nano-banana-pro"
	}
	return &KIEClient{
		apiKey:       apiKey,
		baseURL:      normalizeKIEBaseURL(baseURL),
		model:        model,
		client:       client,
		log:          log,
		pollInterval: 2 * time.Second,
	}
}

func (c *KIEClient) Name() string { return "kie" }

func (c *KIEClient) Generate(ctx context.Context, req Request) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, TimeoutFor(req.Resolution))
	defer cancel()

	input := map[string]any{
		"prompt":        req.Prompt,
		"aspect_ratio":  aspectRatioOrDefault(req.AspectRatio),
		"resolution":    req.Resolution,
		"output_format": "png",
	}
	var urls []string
	for _, img := range req.Images {
		if img.URL != "" {
			urls = append(urls, img.URL)
		}
	}
	if len(urls) > 0 {
		input["image_input"] = urls
	}

	taskID, err := c.createTask(ctx, map[string]any{"model": c.model, "input": input})
	if err != nil {
		return nil, err
	}
	return c.pollTaskStatus(ctx, taskID)
}

func (c *KIEClient) createTask(ctx context.Context, payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	if c.log != nil {
		c.log.Info("creating KIE task", "model", c.model)
	}

	raw, err := postJSON(ctx, c.client, c.Name(), c.baseURL+"/api/v1/jobs/createTask", map[string]string{
		"Authorization": "Bearer " + c.apiKey,
	}, body)
	if err != nil {
		return "", err
	}

	var createResp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			TaskID string `json:"taskId"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &createResp); err != nil {
		return "", &Error{Vendor: c.Name(), Message: fmt.Sprintf("decode create task response: %v (body=%s)", err, truncateBody(raw))}
	}
	if createResp.Code != 200 {
		return "", &Error{Vendor: c.Name(), StatusCode: createResp.Code, Message: "create task failed: " + createResp.Msg}
	}
	if createResp.Data.TaskID == "" {
		return "", &Error{Vendor: c.Name(), Message: "empty taskId in response"}
	}

	if c.log != nil {
		c.log.Info("KIE task created", "task_id", createResp.Data.TaskID)
	}
	return createResp.Data.TaskID, nil
}

// pollTaskStatus polls until the task settles or the context deadline passes.
func (c *KIEClient) pollTaskStatus(ctx context.Context, taskID string) (*Result, error) {
	params := url.Values{}
	params.Set("taskId", taskID)
	fullURL := c.baseURL + "/api/v1/jobs/recordInfo?" + params.Encode()

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return nil, fmt.Errorf("new request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", "application/json")

		raw, err := do(c.client, c.Name(), req)
		if err != nil {
			return nil, err
		}

		var statusResp struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
			Data struct {
				State      string `json:"state"`
				ResultJSON string `json:"resultJson"`
				FailCode   string `json:"failCode"`
				FailMsg    string `json:"failMsg"`
			} `json:"data"`
		}
		if err := json.Unmarshal(raw, &statusResp); err != nil {
			return nil, &Error{Vendor: c.Name(), Message: fmt.Sprintf("decode status response: %v (body=%s)", err, truncateBody(raw))}
		}
		if statusResp.Code != 200 {
			return nil, &Error{Vendor: c.Name(), StatusCode: statusResp.Code, Message: "get task status failed: " + statusResp.Msg}
		}

		switch statusResp.Data.State {
		case "success":
			var result struct {
				ResultURLs []string `json:"resultUrls"`
			}
			if err := json.Unmarshal([]byte(statusResp.Data.ResultJSON), &result); err != nil {
				return nil, &Error{Vendor: c.Name(), Message: fmt.Sprintf("parse resultJson: %v", err)}
			}
			if len(result.ResultURLs) == 0 {
				return nil, &Error{Vendor: c.Name(), Message: "no resultUrls in result"}
			}
			if c.log != nil {
				c.log.Info("KIE task completed", "task_id", taskID, "attempt", attempt+1)
			}
			return &Result{URL: result.ResultURLs[0]}, nil

		case "fail":
			failMsg := statusResp.Data.FailMsg
			if failMsg == "" {
				failMsg = "unknown error"
			}
			if c.log != nil {
				c.log.Error("KIE task failed", "task_id", taskID, "fail_code", statusResp.Data.FailCode, "fail_msg", failMsg)
			}
			e := &Error{Vendor: c.Name(), Message: fmt.Sprintf("task failed: %s (code: %s)", failMsg, statusResp.Data.FailCode)}
			if strings.Contains(strings.ToLower(failMsg), "sensitive") || strings.Contains(strings.ToLower(failMsg), "policy") {
				e.Reason = ReasonContentFilter
			}
			return nil, e

		case "waiting", "generating", "processing", "queued", "queueing":
			if c.log != nil && attempt%10 == 0 {
				c.log.Info("KIE task waiting", "task_id", taskID, "attempt", attempt+1)
			}
			select {
			case <-ctx.Done():
				return nil, classify(ctx.Err())
			case <-time.After(c.pollInterval):
			}

		default:
			return nil, &Error{Vendor: c.Name(), Message: "unknown task state: " + statusResp.Data.State}
		}
	}
}

// normalizeKIEBaseURL always targets the API host. The bare kie.ai domain
// serves the marketing site and answers with HTML.
func normalizeKIEBaseURL(raw string) string {
	const fallback = "https://api.kie.ai"
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fallback
	}
	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	if parsed.Host == "" {
		parsed.Host = parsed.Path
		parsed.Path = ""
	}
	if parsed.Host == "kie.ai" {
		parsed.Host = "api.kie.ai"
	}
	return strings.TrimRight(parsed.String(), "/")
}
