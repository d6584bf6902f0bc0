package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/figureshop/internal/database/dbtest"
	"github.com/digkill/figureshop/internal/imagegen"
	"github.com/digkill/figureshop/internal/models"
	"github.com/digkill/figureshop/internal/payment"
	"github.com/digkill/figureshop/internal/pricing"
	"github.com/digkill/figureshop/internal/repository"
	"github.com/digkill/figureshop/internal/storage"
)

const gatewaySecret = "test-secret"

type fakeVendor struct {
	mu       sync.Mutex
	calls    int
	generate func(ctx context.Context, req imagegen.Request) (*imagegen.Result, error)
}

func (v *fakeVendor) Name() string { return "fake" }

func (v *fakeVendor) Generate(ctx context.Context, req imagegen.Request) (*imagegen.Result, error) {
	v.mu.Lock()
	v.calls++
	v.mu.Unlock()
	if v.generate != nil {
		return v.generate(ctx, req)
	}
	return &imagegen.Result{URL: "https://vendor.test/out.png"}, nil
}

func (v *fakeVendor) Calls() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

type memStore struct {
	mu      sync.Mutex
	uploads []storage.Kind
	err     error
}

func (s *memStore) Upload(_ context.Context, data []byte, _ string, kind storage.Kind) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", &storage.Error{Provider: "mem", Op: "upload", Err: s.err}
	}
	s.uploads = append(s.uploads, kind)
	return fmt.Sprintf("https://store.test/%s/%d", kind, len(s.uploads)), nil
}

type recordingAlerter struct {
	mu   sync.Mutex
	msgs []string
}

func (a *recordingAlerter) Alert(_ context.Context, text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.msgs = append(a.msgs, text)
}

func (a *recordingAlerter) Messages() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.msgs...)
}

type harness struct {
	users      *UserService
	orderRepo  *repository.OrderRepository
	codeRepo   *repository.CodeRepository
	genRepo    *repository.GenerationRepository
	codes      *CodeService
	orders     *OrderService
	settlement *SettlementService
	generation *GenerationService
	vendor     *fakeVendor
	store      *memStore
	alerts     *recordingAlerter
}

func newHarness(t *testing.T, gatewayURL string) *harness {
	t.Helper()
	db := dbtest.Open(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := &harness{
		orderRepo: repository.NewOrderRepository(db),
		codeRepo:  repository.NewCodeRepository(db),
		genRepo:   repository.NewGenerationRepository(db),
		vendor:    &fakeVendor{},
		store:     &memStore{},
		alerts:    &recordingAlerter{},
	}
	h.users = NewUserService(repository.NewUserRepository(db))
	h.codes = NewCodeService(h.codeRepo, h.users)
	h.orders = NewOrderService(h.orderRepo, h.codeRepo)

	gateway := payment.NewXunhupay(payment.XunhupayConfig{AppID: "app", Secret: gatewaySecret, APIURL: gatewayURL}, nil)
	h.settlement = NewSettlementService(SettlementConfig{
		Title:     "AI手办兑换码",
		NotifyURL: "https://shop.test/api/webhook/payment",
		ReturnURL: "https://shop.test/pay/result",
	}, log, gateway, h.orderRepo, h.codeRepo, h.users, pricing.DefaultLadder(), h.alerts)

	h.generation = NewGenerationService(GenerationConfig{
		Prompt:        "figurine",
		MaxImages:     4,
		MaxImageBytes: 1 << 20,
	}, log, h.codes, h.codeRepo, h.genRepo, NewAttemptLogger(h.genRepo, log), h.vendor, h.store)
	return h
}

func (h *harness) pendingOrder(t *testing.T, orderID, amount string) *models.Order {
	t.Helper()
	user, err := h.users.EnsureGuest(context.Background())
	require.NoError(t, err)
	order := &models.Order{OrderID: orderID, UserID: user.ID, Amount: decimal.RequireFromString(amount), Provider: "xunhupay"}
	require.NoError(t, h.orderRepo.Create(context.Background(), order))
	return order
}

func (h *harness) code(t *testing.T, usage int) string {
	t.Helper()
	codes, err := h.codes.Mint(context.Background(), MintRequest{Count: 1, UsageCount: usage})
	require.NoError(t, err)
	return codes[0].Code
}

func callback(orderID, fee, status string) map[string]string {
	p := map[string]string{
		"appid":          "app",
		"trade_order_id": orderID,
		"total_fee":      fee,
		"transaction_id": "T-" + orderID,
		"status":         status,
		"nonce_str":      "n0nce",
		"time":           "1700000000",
	}
	p["hash"] = payment.Sign(p, gatewaySecret)
	return p
}

func photo() []imagegen.Image {
	return []imagegen.Image{{Data: []byte("jpeg-bytes"), MimeType: "image/jpeg"}}
}

func TestSettlementMintsLadderAllocation(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	h.pendingOrder(t, "ORDER1", "7.99")

	ack := h.settlement.HandleNotification(ctx, callback("ORDER1", "7.99", payment.StatusPaid))
	assert.Equal(t, payment.AckSuccess, ack)

	status, err := h.orders.GetStatus(ctx, "ORDER1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, status.Status)
	require.Len(t, status.RedemptionCodes, 3)
	for _, c := range status.RedemptionCodes {
		v, err := h.codes.Verify(ctx, c)
		require.NoError(t, err)
		assert.Equal(t, 1, v.UsageCount)
		assert.Equal(t, 1, v.RemainingUses)
	}

	order, err := h.orderRepo.GetByOrderID(ctx, "ORDER1")
	require.NoError(t, err)
	assert.True(t, order.CodesIssued)
	assert.Equal(t, "T-ORDER1", order.TradeNo)
}

func TestSettlementDuplicateDeliveryMintsOnce(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	h.pendingOrder(t, "ORDER2", "19.99")
	params := callback("ORDER2", "19.99", payment.StatusPaid)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, payment.AckSuccess, h.settlement.HandleNotification(ctx, params))
		}()
	}
	wg.Wait()
	assert.Equal(t, payment.AckSuccess, h.settlement.HandleNotification(ctx, params))

	codes, err := h.codeRepo.ListAvailableByOrder(ctx, "ORDER2", 100)
	require.NoError(t, err)
	assert.Len(t, codes, 10)

	again, err := h.orderRepo.TransitionToPaid(ctx, "ORDER2", "T-ORDER2")
	require.NoError(t, err)
	assert.False(t, again)
}

func TestSettlementRejectsTamperedPayload(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	h.pendingOrder(t, "ORDER3", "2.99")

	params := callback("ORDER3", "2.99", payment.StatusPaid)
	params["total_fee"] = "2.98"
	assert.Equal(t, payment.AckFail, h.settlement.HandleNotification(ctx, params))

	params = callback("ORDER3", "2.99", payment.StatusPaid)
	delete(params, "hash")
	assert.Equal(t, payment.AckFail, h.settlement.HandleNotification(ctx, params))

	status, err := h.orders.GetStatus(ctx, "ORDER3")
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, status.Status)
	assert.Empty(t, status.RedemptionCodes)
}

func TestSettlementAcknowledgesWithoutSettling(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	h.pendingOrder(t, "ORDER4", "7.99")

	assert.Equal(t, payment.AckSuccess, h.settlement.HandleNotification(ctx, callback("MISSING", "7.99", payment.StatusPaid)))
	assert.Equal(t, payment.AckSuccess, h.settlement.HandleNotification(ctx, callback("ORDER4", "7.99", "WP")))

	status, err := h.orders.GetStatus(ctx, "ORDER4")
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, status.Status)
}

func TestSettlementAmountMismatchLeavesOrderPending(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	h.pendingOrder(t, "ORDER5", "19.99")

	ack := h.settlement.HandleNotification(ctx, callback("ORDER5", "0.01", payment.StatusPaid))
	assert.Equal(t, payment.AckSuccess, ack)

	status, err := h.orders.GetStatus(ctx, "ORDER5")
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, status.Status)
	require.Len(t, h.alerts.Messages(), 1)
	assert.Contains(t, h.alerts.Messages()[0], "ORDER5")
}

func TestRepairMintsForPaidOrdersWithoutCodes(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	h.pendingOrder(t, "ORDER6", "7.99")
	h.pendingOrder(t, "ORDER7", "2.99")
	for _, id := range []string{"ORDER6", "ORDER7"} {
		ok, err := h.orderRepo.TransitionToPaid(ctx, id, "")
		require.NoError(t, err)
		require.True(t, ok)
	}

	results, err := h.settlement.RepairAll(ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, RepairResult{OrderID: "ORDER6", Minted: 3}, results[0])
	assert.Equal(t, RepairResult{OrderID: "ORDER7", Minted: 1}, results[1])

	again, err := h.settlement.RepairOrder(ctx, "ORDER6")
	require.NoError(t, err)
	assert.True(t, again.AlreadyIssued)
	assert.Zero(t, again.Minted)

	results, err = h.settlement.RepairAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, results)

	codes, err := h.codeRepo.ListAvailableByOrder(ctx, "ORDER6", 100)
	require.NoError(t, err)
	assert.Len(t, codes, 3)
}

func TestRepairRejectsUnknownAndPendingOrders(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	h.pendingOrder(t, "ORDER8", "7.99")

	_, err := h.settlement.RepairOrder(ctx, "NOPE")
	assert.ErrorIs(t, err, ErrOrderNotFound)

	_, err = h.settlement.RepairOrder(ctx, "ORDER8")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestPurchaseCreatesPendingOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		assert.Equal(t, "7.99", r.PostForm.Get("total_fee"))
		assert.Equal(t, "https://shop.test/pay/result?orderId="+r.PostForm.Get("trade_order_id"), r.PostForm.Get("return_url"))
		_, _ = w.Write([]byte(`{"errcode":0,"url":"https://pay.test/checkout","url_qrcode":"https://pay.test/qr.png"}`))
	}))
	defer srv.Close()

	h := newHarness(t, srv.URL)
	ctx := context.Background()

	res, err := h.settlement.Purchase(ctx, decimal.RequireFromString("7.99"))
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^ORDER\d{13}-[0-9A-F]{8}$`), res.OrderID)
	assert.Equal(t, "https://pay.test/checkout", res.PaymentURL)
	assert.Equal(t, "https://pay.test/qr.png", res.QRCodeURL)

	status, err := h.orders.GetStatus(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, status.Status)
	assert.True(t, decimal.RequireFromString("7.99").Equal(status.Amount))
}

func TestPurchaseGatewayFailureKeepsOrderPending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errcode":40001,"errmsg":"invalid appid"}`))
	}))
	defer srv.Close()

	h := newHarness(t, srv.URL)
	ctx := context.Background()

	_, err := h.settlement.Purchase(ctx, decimal.RequireFromString("2.99"))
	require.ErrorIs(t, err, ErrPaymentFailed)

	orders, err := h.orders.List(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, models.OrderPending, orders[0].Status)

	_, err = h.settlement.Purchase(ctx, decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestOrderStatusUnknownOrder(t *testing.T) {
	h := newHarness(t, "")
	_, err := h.orders.GetStatus(context.Background(), "ORDER404")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestOrderStatusIsIdempotent(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	h.pendingOrder(t, "ORDER9", "19.99")
	require.Equal(t, payment.AckSuccess, h.settlement.HandleNotification(ctx, callback("ORDER9", "19.99", payment.StatusPaid)))

	first, err := h.orders.GetStatus(ctx, "ORDER9")
	require.NoError(t, err)
	second, err := h.orders.GetStatus(ctx, "ORDER9")
	require.NoError(t, err)
	assert.Len(t, first.RedemptionCodes, maxStatusCodes)
	assert.Equal(t, first.RedemptionCodes, second.RedemptionCodes)
}

func TestVerifyReasons(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	_, err := h.codes.Verify(ctx, "AI00000000")
	assert.ErrorIs(t, err, ErrCodeNotFound)
	assert.Equal(t, "兑换码无效", UserMessage(err))

	_, err = h.codes.Verify(ctx, "   ")
	assert.ErrorIs(t, err, ErrInvalidInput)

	code := h.code(t, 2)
	v, err := h.codes.Verify(ctx, "  "+strings.ToLower(code)+" ")
	require.NoError(t, err)
	assert.Equal(t, 2, v.RemainingUses)
}

func TestVerifyExpiredCode(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	codes, err := h.codes.Mint(ctx, MintRequest{Count: 1, UsageCount: 1, ExpiresInDays: 1})
	require.NoError(t, err)

	h.codes.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	_, err = h.codes.Verify(ctx, codes[0].Code)
	assert.ErrorIs(t, err, ErrCodeExpired)
	assert.Equal(t, "兑换码已过期", UserMessage(err))
}

func TestAdminMintValidation(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	_, err := h.codes.Mint(ctx, MintRequest{Count: 0, UsageCount: 1})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = h.codes.Mint(ctx, MintRequest{Count: 1, UsageCount: 0})
	assert.ErrorIs(t, err, ErrInvalidInput)

	codes, err := h.codes.Mint(ctx, MintRequest{Count: 4, UsageCount: 5})
	require.NoError(t, err)
	require.Len(t, codes, 4)
	for _, c := range codes {
		assert.Empty(t, c.OrderID)
		assert.Equal(t, 5, c.UsageCount)
		assert.Nil(t, c.ExpiresAt)
	}

	listed, err := h.codes.List(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, listed, 4)
}

func TestRedeemUntilExhausted(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	code := h.code(t, 3)

	for i := 0; i < 3; i++ {
		res, err := h.generation.Redeem(ctx, GenerateRequest{Code: code, Images: photo()})
		require.NoError(t, err)
		assert.Equal(t, "https://vendor.test/out.png", res.GeneratedImage)
		assert.Equal(t, 2-i, res.RemainingUses)
		assert.Equal(t, 1, res.UnitsCharged)
	}

	_, err := h.codes.Verify(ctx, code)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Equal(t, "兑换码使用次数已达上限", UserMessage(err))

	_, err = h.generation.Redeem(ctx, GenerateRequest{Code: code, Images: photo()})
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Equal(t, 3, h.vendor.Calls())

	rc, err := h.codeRepo.GetByCode(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, 3, rc.UsedCount)

	attempts, err := h.genRepo.ListByCode(ctx, rc.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 4)
	assert.Equal(t, models.AttemptFailed, attempts[3].Status)
}

func TestRedeemVendorTimeoutDoesNotCharge(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	code := h.code(t, 1)
	h.vendor.generate = func(context.Context, imagegen.Request) (*imagegen.Result, error) {
		return nil, fmt.Errorf("%w: deadline", imagegen.ErrTimeout)
	}

	_, err := h.generation.Redeem(ctx, GenerateRequest{Code: code, Images: photo()})
	require.ErrorIs(t, err, imagegen.ErrTimeout)
	assert.Contains(t, UserMessage(err), "超时")

	rc, err := h.codeRepo.GetByCode(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, 0, rc.UsedCount)

	attempts, err := h.genRepo.ListByCode(ctx, rc.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, models.AttemptFailed, attempts[0].Status)
	assert.Equal(t, "https://store.test/original/1", attempts[0].OriginalImageRef)
	assert.NotEmpty(t, attempts[0].ErrorMessage)
}

func TestRedeemContentFilterMessage(t *testing.T) {
	h := newHarness(t, "")
	code := h.code(t, 1)
	h.vendor.generate = func(context.Context, imagegen.Request) (*imagegen.Result, error) {
		return nil, &imagegen.Error{Vendor: "fake", Reason: imagegen.ReasonContentFilter, Message: "blocked"}
	}

	_, err := h.generation.Redeem(context.Background(), GenerateRequest{Code: code, Images: photo()})
	require.Error(t, err)
	assert.Contains(t, UserMessage(err), "内容审核")
}

func TestRedeemStoresGeneratedBytes(t *testing.T) {
	h := newHarness(t, "")
	code := h.code(t, 1)
	h.vendor.generate = func(_ context.Context, req imagegen.Request) (*imagegen.Result, error) {
		require.Len(t, req.Images, 1)
		assert.Equal(t, "https://store.test/original/1", req.Images[0].URL)
		assert.Equal(t, "figurine", req.Prompt)
		return &imagegen.Result{Data: []byte("png"), MimeType: "image/png"}, nil
	}

	res, err := h.generation.Redeem(context.Background(), GenerateRequest{Code: code, Images: photo(), Prompt: "ignored"})
	require.NoError(t, err)
	assert.Equal(t, "https://store.test/generated/2", res.GeneratedImage)
	assert.Equal(t, []string{"https://store.test/original/1"}, res.OriginalImages)
}

func TestRedeemStorageFailureDoesNotCharge(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	code := h.code(t, 1)
	h.store.err = errors.New("bucket unavailable")

	_, err := h.generation.Redeem(ctx, GenerateRequest{Code: code, Images: photo()})
	var storeErr *storage.Error
	require.ErrorAs(t, err, &storeErr)
	assert.Zero(t, h.vendor.Calls())

	v, err := h.codes.Verify(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, 1, v.RemainingUses)
}

func TestRedeem4KChargesThreeUnits(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	code := h.code(t, 4)

	res, err := h.generation.Redeem(ctx, GenerateRequest{Code: code, Images: photo(), Resolution: "4k"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.UnitsCharged)
	assert.Equal(t, 1, res.RemainingUses)

	_, err = h.generation.Redeem(ctx, GenerateRequest{Code: code, Images: photo(), Resolution: "4K"})
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Equal(t, 1, h.vendor.Calls())

	res, err = h.generation.Redeem(ctx, GenerateRequest{Code: code, Images: photo()})
	require.NoError(t, err)
	assert.Equal(t, 0, res.RemainingUses)
}

func TestConcurrentRedemptionOfLastUse(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	code := h.code(t, 1)

	arrived := make(chan struct{}, 2)
	release := make(chan struct{})
	h.vendor.generate = func(context.Context, imagegen.Request) (*imagegen.Result, error) {
		arrived <- struct{}{}
		<-release
		return &imagegen.Result{URL: "https://vendor.test/out.png"}, nil
	}

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := h.generation.Redeem(ctx, GenerateRequest{Code: code, Images: photo()})
			errs <- err
		}()
	}
	<-arrived
	<-arrived
	close(release)

	var succeeded, rejected int
	for i := 0; i < 2; i++ {
		err := <-errs
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrQuotaExceeded):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, rejected)

	rc, err := h.codeRepo.GetByCode(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, 1, rc.UsedCount)
}

func TestRedeemInputValidation(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	code := h.code(t, 1)

	_, err := h.generation.Redeem(ctx, GenerateRequest{Code: code})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, "请上传至少一张图片", UserMessage(err))

	_, err = h.generation.Redeem(ctx, GenerateRequest{Code: code, Images: []imagegen.Image{{Data: []byte("x"), MimeType: "text/plain"}}})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = h.generation.Redeem(ctx, GenerateRequest{Code: code, Images: photo(), AspectRatio: "7:3"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	big := []imagegen.Image{{Data: make([]byte, 2<<20), MimeType: "image/png"}}
	_, err = h.generation.Redeem(ctx, GenerateRequest{Code: code, Images: big})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = h.generation.Redeem(ctx, GenerateRequest{Code: "AIUNKNOWN1", Images: photo()})
	assert.ErrorIs(t, err, ErrCodeNotFound)

	assert.Zero(t, h.vendor.Calls())
	v, err := h.codes.Verify(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, 1, v.RemainingUses)
}

func TestTextToImageWhenCustomPromptsAllowed(t *testing.T) {
	h := newHarness(t, "")
	h.generation.cfg.AllowCustomPrompt = true
	code := h.code(t, 1)
	h.vendor.generate = func(_ context.Context, req imagegen.Request) (*imagegen.Result, error) {
		assert.Equal(t, "a dragon figurine", req.Prompt)
		assert.Empty(t, req.Images)
		return &imagegen.Result{URL: "https://vendor.test/dragon.png"}, nil
	}

	res, err := h.generation.Redeem(context.Background(), GenerateRequest{Code: code, Prompt: "a dragon figurine"})
	require.NoError(t, err)
	assert.Empty(t, res.OriginalImages)

	gallery, err := h.generation.Gallery(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, gallery, 1)
	assert.Regexp(t, `^/temp/original_\d+$`, gallery[0].OriginalImageRef)
	assert.Equal(t, "https://vendor.test/dragon.png", gallery[0].GeneratedPayload)
}

func TestAttemptLoggerTruncatesAndNeverFails(t *testing.T) {
	h := newHarness(t, "")
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	logger := NewAttemptLogger(h.genRepo, log)

	long := make([]rune, maxErrorBytes)
	for i := range long {
		long[i] = '错'
	}
	id := logger.Record(context.Background(), models.GenerationAttempt{
		OriginalImageRef: "/temp/original_1",
		Status:           models.AttemptFailed,
		ErrorMessage:     string(long),
	})
	require.NotZero(t, id)

	attempts, err := h.genRepo.ListRecentSuccessful(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, attempts)

	assert.Equal(t, "ab", truncateUTF8("ab", 5))
	assert.Equal(t, "错", truncateUTF8("错误", 4))
}

func TestUserMessageFallsBackToGeneric(t *testing.T) {
	assert.Equal(t, "服务器内部错误，请稍后重试", UserMessage(errors.New("disk full")))
	assert.Equal(t, "", UserMessage(nil))
	assert.Contains(t, UserMessage(imagegen.ErrConnectionReset), "连接中断")
}
