package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const defaultImgurUploadURL = "https://www.imgur.la/api/1/upload"

// ImgurStore posts images to an imgur-style image host.
type ImgurStore struct {
	uploadURL string
	apiKey    string
	client    *http.Client
	now       func() time.Time
}

func NewImgurStore(uploadURL, apiKey string, client *http.Client) *ImgurStore {
	if uploadURL == "" {
		uploadURL = defaultImgurUploadURL
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &ImgurStore{uploadURL: uploadURL, apiKey: apiKey, client: client, now: time.Now}
}

func (s *ImgurStore) Upload(ctx context.Context, data []byte, contentType string, kind Kind) (string, error) {
	if len(data) == 0 {
		return "", &Error{Provider: "imgur", Op: "upload", Err: errors.New("no data to upload")}
	}

	title := "Original_"
	if kind == KindGenerated {
		title = "Generated_"
	}
	title += fmt.Sprintf("%d", s.now().UnixMilli())

	body, formType, err := s.buildForm(data, contentType, title, "AI figurine "+string(kind)+" image")
	if err != nil {
		return "", &Error{Provider: "imgur", Op: "upload", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.uploadURL, body)
	if err != nil {
		return "", &Error{Provider: "imgur", Op: "upload", Err: err}
	}
	req.Header.Set("Content-Type", formType)
	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", &Error{Provider: "imgur", Op: "upload", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{Provider: "imgur", Op: "upload", Err: err}
	}
	if resp.StatusCode >= 300 {
		return "", &Error{Provider: "imgur", Op: "upload", Err: fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))}
	}

	parsed := gjson.ParseBytes(raw)
	if success := parsed.Get("success"); success.Exists() && !success.Bool() {
		msg := parsed.Get("error.message").String()
		if msg == "" {
			msg = parsed.Get("data.error").String()
		}
		if msg == "" {
			msg = "upload rejected"
		}
		return "", &Error{Provider: "imgur", Op: "upload", Err: errors.New(msg)}
	}

	for _, p := range []string{"image.url", "data.link", "data.url"} {
		if u := parsed.Get(p).String(); u != "" {
			return u, nil
		}
	}
	return "", &Error{Provider: "imgur", Op: "upload", Err: errors.New("response carries no image url")}
}

func (s *ImgurStore) buildForm(data []byte, contentType, title, description string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("source", title+extensionFromContentType(contentType))
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("title", title); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("description", description); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
