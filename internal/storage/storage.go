// Package storage hosts uploaded originals and generated figurines and
// hands back a public reference for each.
package storage

import (
	"context"
	"fmt"
	"strings"
)

// Kind separates customer uploads from vendor output in the object layout.
type Kind string

const (
	KindOriginal  Kind = "original"
	KindGenerated Kind = "generated"
)

// Store uploads an image and returns a publicly reachable URL for it.
type Store interface {
	Upload(ctx context.Context, data []byte, contentType string, kind Kind) (string, error)
}

// Error wraps a failed storage operation.
type Error struct {
	Provider string
	Op       string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func extensionFromContentType(contentType string) string {
	switch strings.ToLower(contentType) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".bin"
	}
}
