// Package imagegen wraps the third-party image generation APIs behind one
// Vendor contract. Only success or a classified failure matters to callers.
package imagegen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"
)

var (
	ErrTimeout         = errors.New("image generation timed out")
	ErrConnectionReset = errors.New("image generation connection reset")
)

// Error is a failure reported by the vendor itself.
type Error struct {
	Vendor     string
	StatusCode int
	// Reason is a machine-readable cause such as "content_filter" when the vendor gave one.
	Reason  string
	Message string
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status=%d %s", e.Vendor, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Vendor, e.Message)
}

const ReasonContentFilter = "content_filter"

// Image is an input picture. Data-based vendors use Data; URL-based vendors use URL.
type Image struct {
	Data     []byte
	MimeType string
	URL      string
}

type Request struct {
	Prompt      string
	Images      []Image
	Resolution  string
	AspectRatio string
}

// Result carries either raw bytes or a hosted URL.
type Result struct {
	Data     []byte
	MimeType string
	URL      string
}

type Vendor interface {
	Name() string
	Generate(ctx context.Context, req Request) (*Result, error)
}

type Config struct {
	Vendor  string
	APIKey  string
	BaseURL string
	Model   string
}

// New builds the configured vendor. It is called once at startup.
func New(cfg Config, log *slog.Logger) (Vendor, error) {
	switch strings.ToLower(cfg.Vendor) {
	case "chat", "":
		return NewChatClient(cfg.APIKey, cfg.BaseURL, cfg.Model, nil, log), nil
	case "gemini":
		return NewGeminiClient(cfg.APIKey, cfg.BaseURL, nil, log), nil
	case "kie":
		return NewKIEClient(cfg.APIKey, cfg.BaseURL, cfg.Model, nil, log), nil
	default:
		return nil, fmt.Errorf("unsupported generation vendor: %s", cfg.Vendor)
	}
}

var supportedAspectRatios = []string{"21:9", "16:9", "4:3", "3:2", "1:1", "9:16", "3:4", "2:3", "5:4", "4:5"}

// ValidAspectRatio accepts the empty string as the 1:1 default.
func ValidAspectRatio(ratio string) bool {
	if ratio == "" {
		return true
	}
	for _, r := range supportedAspectRatios {
		if r == ratio {
			return true
		}
	}
	return false
}

func aspectRatioOrDefault(ratio string) string {
	if ratio == "" {
		return "1:1"
	}
	return ratio
}

// TimeoutFor bounds one generation call by output resolution.
func TimeoutFor(resolution string) time.Duration {
	switch strings.ToUpper(resolution) {
	case "4K":
		return 6 * time.Minute
	case "2K":
		return 5 * time.Minute
	default:
		return 3 * time.Minute
	}
}

// classify maps transport errors onto ErrTimeout and ErrConnectionReset.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) ||
		strings.Contains(err.Error(), "connection reset") {
		return fmt.Errorf("%w: %v", ErrConnectionReset, err)
	}
	return err
}

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// postJSON sends body and returns the response body of a 2xx reply. Other
// statuses become *Error carrying a truncated body.
func postJSON(ctx context.Context, client httpDoer, vendor, url string, headers map[string]string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return do(client, vendor, req)
}

func do(client httpDoer, vendor string, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(err)
	}
	if resp.StatusCode >= 300 {
		return nil, &Error{Vendor: vendor, StatusCode: resp.StatusCode, Message: truncateBody(raw)}
	}
	return raw, nil
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}

func mimeOrDefault(m string) string {
	if m == "" {
		return "image/png"
	}
	return m
}
