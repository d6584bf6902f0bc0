package service

import (
	"context"
	"log/slog"
	"unicode/utf8"

	"github.com/digkill/figureshop/internal/models"
	"github.com/digkill/figureshop/internal/repository"
)

const (
	maxPayloadBytes = 60000
	maxErrorBytes   = 2000
)

// AttemptLogger writes the generation audit trail. Recording never fails the
// caller; a lost row is logged and the request carries on.
type AttemptLogger struct {
	generations *repository.GenerationRepository
	log         *slog.Logger
}

func NewAttemptLogger(generations *repository.GenerationRepository, log *slog.Logger) *AttemptLogger {
	return &AttemptLogger{generations: generations, log: log}
}

// Record appends one attempt and returns its id, or 0 when the write failed.
func (l *AttemptLogger) Record(ctx context.Context, a models.GenerationAttempt) int64 {
	a.OriginalImageRef = truncateUTF8(a.OriginalImageRef, maxPayloadBytes)
	a.GeneratedPayload = truncateUTF8(a.GeneratedPayload, maxPayloadBytes)
	a.ErrorMessage = truncateUTF8(a.ErrorMessage, maxErrorBytes)
	a.Prompt = truncateUTF8(a.Prompt, maxErrorBytes)

	id, err := l.generations.Insert(context.WithoutCancel(ctx), &a)
	if err != nil {
		l.log.Error("record generation attempt", "status", a.Status, "vendor", a.Vendor, "err", err)
		return 0
	}
	return id
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
