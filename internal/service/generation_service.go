package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/digkill/figureshop/internal/imagegen"
	"github.com/digkill/figureshop/internal/models"
	"github.com/digkill/figureshop/internal/pricing"
	"github.com/digkill/figureshop/internal/repository"
	"github.com/digkill/figureshop/internal/storage"
)

const (
	defaultGalleryLimit = 20
	maxGalleryLimit     = 50
)

type GenerationConfig struct {
	// Prompt is the preset used unless custom prompts are allowed and one is given.
	Prompt            string
	AllowCustomPrompt bool
	MaxImages         int
	MaxImageBytes     int64
}

type GenerateRequest struct {
	Code        string
	Prompt      string
	Resolution  string
	AspectRatio string
	Images      []imagegen.Image
}

type GenerateResult struct {
	AttemptID      int64    `json:"attemptId"`
	GeneratedImage string   `json:"generatedImageUrl"`
	OriginalImages []string `json:"originalImageUrls"`
	Resolution     string   `json:"resolution"`
	UnitsCharged   int      `json:"unitsCharged"`
	RemainingUses  int      `json:"remainingUses"`
}

// GenerationService runs the redeem flow: verify the code, generate, and only
// then charge it. Every outcome lands in the attempt log.
type GenerationService struct {
	cfg      GenerationConfig
	log      *slog.Logger
	codes    *CodeService
	codeRepo *repository.CodeRepository
	gens     *repository.GenerationRepository
	attempts *AttemptLogger
	vendor   imagegen.Vendor
	store    storage.Store
	now      func() time.Time
}

func NewGenerationService(cfg GenerationConfig, log *slog.Logger, codes *CodeService, codeRepo *repository.CodeRepository, gens *repository.GenerationRepository, attempts *AttemptLogger, vendor imagegen.Vendor, store storage.Store) *GenerationService {
	if cfg.MaxImages <= 0 {
		cfg.MaxImages = 4
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = 5 << 20
	}
	return &GenerationService{
		cfg:      cfg,
		log:      log,
		codes:    codes,
		codeRepo: codeRepo,
		gens:     gens,
		attempts: attempts,
		vendor:   vendor,
		store:    store,
		now:      time.Now,
	}
}

// attempt accumulates what the audit row needs as the flow progresses.
type attempt struct {
	originalRef string
	userID      *int64
	codeID      *int64
	prompt      string
}

func (s *GenerationService) Redeem(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	a := &attempt{originalRef: fmt.Sprintf("/temp/original_%d", s.now().UnixMilli())}

	resolution := pricing.NormalizeResolution(req.Resolution)
	units := pricing.UnitsFor(resolution)

	prompt, err := s.validate(&req)
	if err != nil {
		return nil, s.fail(ctx, a, err)
	}
	a.prompt = prompt

	v, rc, err := s.codes.verify(ctx, req.Code, units)
	if rc != nil {
		a.userID, a.codeID = &rc.UserID, &rc.ID
	}
	if err != nil {
		return nil, s.fail(ctx, a, err)
	}

	originals := make([]string, 0, len(req.Images))
	for i := range req.Images {
		ref, err := s.store.Upload(ctx, req.Images[i].Data, req.Images[i].MimeType, storage.KindOriginal)
		if err != nil {
			return nil, s.fail(ctx, a, fmt.Errorf("upload original: %w", err))
		}
		req.Images[i].URL = ref
		originals = append(originals, ref)
	}
	if len(originals) > 0 {
		a.originalRef = strings.Join(originals, ",")
	}

	// A dispatched generation runs to completion even if the client goes away.
	genCtx := context.WithoutCancel(ctx)
	res, err := s.vendor.Generate(genCtx, imagegen.Request{
		Prompt:      prompt,
		Images:      req.Images,
		Resolution:  resolution,
		AspectRatio: req.AspectRatio,
	})
	if err != nil {
		return nil, s.fail(ctx, a, err)
	}

	generated := res.URL
	if generated == "" {
		generated, err = s.store.Upload(genCtx, res.Data, res.MimeType, storage.KindGenerated)
		if err != nil {
			return nil, s.fail(ctx, a, fmt.Errorf("upload generated image: %w", err))
		}
	}

	if err := s.codeRepo.Consume(genCtx, v.CodeID, units); err != nil {
		if !errors.Is(err, repository.ErrQuotaExceeded) {
			err = fmt.Errorf("consume code: %w", err)
		}
		return nil, s.fail(ctx, a, err)
	}

	id := s.attempts.Record(ctx, models.GenerationAttempt{
		OriginalImageRef: a.originalRef,
		GeneratedPayload: generated,
		UserID:           a.userID,
		RedemptionCodeID: a.codeID,
		Vendor:           s.vendor.Name(),
		Prompt:           prompt,
		Status:           models.AttemptSuccess,
	})

	remaining := v.RemainingUses - units
	if rc, err := s.codeRepo.GetByID(genCtx, v.CodeID); err == nil && rc != nil {
		remaining = rc.Remaining()
	}

	s.log.Info("generation completed", "code_id", v.CodeID, "resolution", resolution, "units", units, "attempt_id", id)
	return &GenerateResult{
		AttemptID:      id,
		GeneratedImage: generated,
		OriginalImages: originals,
		Resolution:     resolution,
		UnitsCharged:   units,
		RemainingUses:  remaining,
	}, nil
}

// validate checks the submission and returns the prompt to send.
func (s *GenerationService) validate(req *GenerateRequest) (string, error) {
	if len(req.Images) > s.cfg.MaxImages {
		return "", invalidInput("最多上传 %d 张图片", s.cfg.MaxImages)
	}
	for _, img := range req.Images {
		if len(img.Data) == 0 {
			return "", invalidInput("图片内容为空")
		}
		if int64(len(img.Data)) > s.cfg.MaxImageBytes {
			return "", invalidInput("单张图片不能超过 %dMB", s.cfg.MaxImageBytes>>20)
		}
		if !strings.HasPrefix(img.MimeType, "image/") {
			return "", invalidInput("仅支持图片文件")
		}
	}
	if !imagegen.ValidAspectRatio(req.AspectRatio) {
		return "", invalidInput("不支持的图片比例：%s", req.AspectRatio)
	}

	prompt := strings.TrimSpace(req.Prompt)
	if !s.cfg.AllowCustomPrompt || prompt == "" {
		prompt = s.cfg.Prompt
	}
	if len(req.Images) == 0 && !s.cfg.AllowCustomPrompt {
		return "", invalidInput("请上传至少一张图片")
	}
	if prompt == "" {
		return "", invalidInput("请输入描述")
	}
	return prompt, nil
}

func (s *GenerationService) fail(ctx context.Context, a *attempt, err error) error {
	payload := UserMessage(err)
	var vendorErr *imagegen.Error
	if errors.As(err, &vendorErr) && vendorErr.Message != "" {
		payload = vendorErr.Message
	}
	var codeID int64
	if a.codeID != nil {
		codeID = *a.codeID
	}

	s.attempts.Record(ctx, models.GenerationAttempt{
		OriginalImageRef: a.originalRef,
		GeneratedPayload: payload,
		UserID:           a.userID,
		RedemptionCodeID: a.codeID,
		Vendor:           s.vendor.Name(),
		Prompt:           a.prompt,
		Status:           models.AttemptFailed,
		ErrorMessage:     err.Error(),
	})

	level := slog.LevelError
	if errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrCodeNotFound) || errors.Is(err, ErrQuotaExceeded) || errors.Is(err, ErrCodeExpired) {
		level = slog.LevelWarn
	}
	s.log.Log(ctx, level, "generation attempt failed", "code_id", codeID, "err", err)
	return err
}

// Gallery lists the most recent successful generations.
func (s *GenerationService) Gallery(ctx context.Context, limit int) ([]models.GenerationAttempt, error) {
	if limit <= 0 {
		limit = defaultGalleryLimit
	}
	if limit > maxGalleryLimit {
		limit = maxGalleryLimit
	}
	return s.gens.ListRecentSuccessful(ctx, limit)
}
