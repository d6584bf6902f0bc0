package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/digkill/figureshop/internal/imagegen"
	"github.com/digkill/figureshop/internal/payment"
	"github.com/digkill/figureshop/internal/service"
)

const maxWebhookBody = 64 << 10

func (s *Server) handlePackages(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.settlement.Ladder())
}

type purchaseRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		s.badRequest(w, "请求格式错误")
		return
	}
	res, err := s.settlement.Purchase(r.Context(), req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"orderId":    res.OrderID,
		"amount":     res.Amount,
		"paymentUrl": res.PaymentURL,
		"qrCodeUrl":  res.QRCodeURL,
	})
}

// handlePaymentWebhook decodes the callback from the form body and the query
// string and always answers 200 with the gateway's ack body.
func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	values := url.Values{}
	for k, v := range r.URL.Query() {
		values[k] = v
	}
	if r.Body != nil {
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			s.log.Warn("read payment webhook body", "err", err)
		}
		if body, err := url.ParseQuery(strings.TrimSpace(string(raw))); err == nil {
			for k, v := range body {
				values[k] = v
			}
		} else if len(raw) > 0 {
			s.log.Warn("payment webhook body is not form encoded", "err", err)
		}
	}

	ack := payment.AckFail
	if len(values) > 0 {
		ack = s.settlement.HandleNotification(r.Context(), payment.Params(values))
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(ack))
}

type orderStatusRequest struct {
	OrderID string `json:"orderId"`
}

func (s *Server) handleOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	if orderID == "" {
		var req orderStatusRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
			s.badRequest(w, "请求格式错误")
			return
		}
		orderID = strings.TrimSpace(req.OrderID)
	}

	status, err := s.orders.GetStatus(r.Context(), orderID)
	if errors.Is(err, service.ErrOrderNotFound) {
		s.writeJSON(w, http.StatusNotFound, map[string]string{
			"status":  "not_found",
			"message": service.UserMessage(err),
		})
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

type verifyRequest struct {
	Code string `json:"code"`
}

type verifyResponse struct {
	Valid         bool   `json:"valid"`
	Message       string `json:"message"`
	RemainingUses int    `json:"remainingUses,omitempty"`
	UsageCount    int    `json:"usageCount,omitempty"`
}

func (s *Server) handleVerifyCode(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		s.badRequest(w, "请求格式错误")
		return
	}

	v, err := s.codes.Verify(r.Context(), req.Code)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, status, verifyResponse{Message: service.UserMessage(err)})
		return
	}
	s.writeJSON(w, http.StatusOK, verifyResponse{
		Valid:         true,
		Message:       "兑换码有效",
		RemainingUses: v.RemainingUses,
		UsageCount:    v.UsageCount,
	})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	limit := int64(s.cfg.MaxImages)*s.cfg.MaxImageBytes + 1<<20
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.badRequest(w, "上传内容过大")
			return
		}
		s.badRequest(w, "请求格式错误")
		return
	}
	defer r.MultipartForm.RemoveAll()

	var files []*multipart.FileHeader
	for _, field := range []string{"images", "image"} {
		files = append(files, r.MultipartForm.File[field]...)
	}
	if len(files) > s.cfg.MaxImages {
		s.badRequest(w, "最多上传 "+strconv.Itoa(s.cfg.MaxImages)+" 张图片")
		return
	}

	images := make([]imagegen.Image, 0, len(files))
	for _, fh := range files {
		if fh.Size > s.cfg.MaxImageBytes {
			s.badRequest(w, "单张图片不能超过 "+strconv.FormatInt(s.cfg.MaxImageBytes>>20, 10)+"MB")
			return
		}
		img, err := readImage(fh)
		if err != nil {
			s.badRequest(w, "读取图片失败")
			return
		}
		images = append(images, img)
	}

	res, err := s.generation.Redeem(r.Context(), service.GenerateRequest{
		Code:        r.FormValue("code"),
		Prompt:      r.FormValue("prompt"),
		Resolution:  r.FormValue("resolution"),
		AspectRatio: r.FormValue("aspectRatio"),
		Images:      images,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":           true,
		"generatedImageUrl": res.GeneratedImage,
		"originalImageUrls": res.OriginalImages,
		"resolution":        res.Resolution,
		"unitsCharged":      res.UnitsCharged,
		"remainingUses":     res.RemainingUses,
	})
}

func readImage(fh *multipart.FileHeader) (imagegen.Image, error) {
	f, err := fh.Open()
	if err != nil {
		return imagegen.Image{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return imagegen.Image{}, err
	}
	mime := fh.Header.Get("Content-Type")
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(data)
	}
	return imagegen.Image{Data: data, MimeType: mime}, nil
}

func (s *Server) handleGallery(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := s.generation.Gallery(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	type galleryItem struct {
		ID                int64  `json:"id"`
		OriginalImageURL  string `json:"originalImageUrl"`
		GeneratedImageURL string `json:"generatedImageUrl"`
		CreatedAt         string `json:"createdAt"`
	}
	out := make([]galleryItem, 0, len(items))
	for _, it := range items {
		out = append(out, galleryItem{
			ID:                it.ID,
			OriginalImageURL:  it.OriginalImageRef,
			GeneratedImageURL: it.GeneratedPayload,
			CreatedAt:         it.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"images": out})
}
