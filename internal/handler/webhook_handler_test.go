package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vietstay/payment-service/internal/domain"
	"github.com/vietstay/payment-service/internal/provider"
	"github.com/vietstay/payment-service/internal/repository"
	"github.com/vietstay/payment-service/internal/service"
)

const (
	testMoMoAccessKey = "test_access_key"
	testMoMoSecret    = "test_momo_secret"
	testVNPaySecret   = "test_vnpay_secret"
	testZaloKey2      = "test_zalo_key2"
)

type webhookFixture struct {
	orders      *repository.MemoryOrderRepository
	bookings    *repository.MemoryBookingRepository
	events      *repository.MemoryWebhookEventRepository
	idempotency *repository.MemoryIdempotencyStore
	router      *gin.Engine
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &webhookFixture{
		orders:      repository.NewMemoryOrderRepository(),
		bookings:    repository.NewMemoryBookingRepository(),
		events:      repository.NewMemoryWebhookEventRepository(),
		idempotency: repository.NewMemoryIdempotencyStore(),
	}

	registry := provider.NewRegistry(
		provider.NewMoMo(provider.MoMoConfig{
			PartnerCode: "MOMO_TEST",
			AccessKey:   testMoMoAccessKey,
			SecretKey:   testMoMoSecret,
		}),
		provider.NewVNPay(provider.VNPayConfig{
			TmnCode:    "TEST001",
			HashSecret: testVNPaySecret,
		}),
		provider.NewZaloPay(provider.ZaloPayConfig{
			AppID: 2553,
			Key1:  "test_zalo_key1",
			Key2:  testZaloKey2,
		}),
		provider.NewBanking(provider.BankingConfig{}),
	)

	recon := service.NewReconciliationService(
		f.orders, f.bookings,
		f.idempotency,
		repository.NoopTxManager{},
		nil,
	)
	h := NewWebhookHandler(registry, recon, f.events)

	f.router = gin.New()
	f.router.POST("/payments/momo/webhook", h.MoMoWebhook)
	f.router.GET("/payments/vnpay/ipn", h.VNPayIPN)
	f.router.GET("/payments/vnpay/return", h.VNPayReturn)
	f.router.POST("/payments/zalopay/callback", h.ZaloPayCallback)
	f.router.POST("/payments/banking/confirm", h.BankingConfirm)
	return f
}

func (f *webhookFixture) seedOrder(t *testing.T, orderID, bookingID string, prov domain.Provider, amount int64, transferCode string) {
	t.Helper()
	ctx := context.Background()

	if err := f.bookings.Upsert(ctx, &domain.Booking{
		ID:            bookingID,
		UserID:        "user-001",
		Status:        domain.BookingStatusPending,
		PaymentStatus: domain.PaymentStatusPending,
		Amount:        amount,
		Currency:      "VND",
	}); err != nil {
		t.Fatalf("seed booking: %v", err)
	}

	order, err := domain.NewPaymentOrder(bookingID, prov, amount)
	if err != nil {
		t.Fatalf("new order: %v", err)
	}
	order.ID = orderID
	order.TransferCode = transferCode
	if err := f.orders.Create(ctx, order); err != nil {
		t.Fatalf("seed order: %v", err)
	}
}

func (f *webhookFixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *webhookFixture) orderStatus(t *testing.T, orderID string) domain.OrderStatus {
	t.Helper()
	order, err := f.orders.GetByID(context.Background(), orderID)
	if err != nil {
		t.Fatalf("load order: %v", err)
	}
	return order.Status
}

// momoIPNBody builds a correctly signed IPN body, then lets mutate corrupt it
func momoIPNBody(t *testing.T, orderID, bookingID string, amount, transID int64, resultCode int, mutate func(map[string]interface{})) string {
	t.Helper()

	extraJSON, _ := json.Marshal(map[string]string{"booking_id": bookingID})
	extraData := base64.StdEncoding.EncodeToString(extraJSON)
	responseTime := time.Now().UnixMilli()

	payload := "accessKey=" + testMoMoAccessKey +
		"&amount=" + strconv.FormatInt(amount, 10) +
		"&extraData=" + extraData +
		"&message=Successful." +
		"&orderId=" + orderID +
		"&orderInfo=Thanh toan dat phong" +
		"&orderType=momo_wallet" +
		"&partnerCode=MOMO_TEST" +
		"&payType=qr" +
		"&requestId=" + orderID +
		"&responseTime=" + strconv.FormatInt(responseTime, 10) +
		"&resultCode=" + strconv.Itoa(resultCode) +
		"&transId=" + strconv.FormatInt(transID, 10)

	body := map[string]interface{}{
		"partnerCode":  "MOMO_TEST",
		"orderId":      orderID,
		"requestId":    orderID,
		"amount":       amount,
		"orderInfo":    "Thanh toan dat phong",
		"orderType":    "momo_wallet",
		"transId":      transID,
		"resultCode":   resultCode,
		"message":      "Successful.",
		"payType":      "qr",
		"responseTime": responseTime,
		"extraData":    extraData,
		"signature":    provider.SignSHA256(testMoMoSecret, payload),
	}
	if mutate != nil {
		mutate(body)
	}
	raw, _ := json.Marshal(body)
	return string(raw)
}

// vnpayQuery builds a correctly signed callback query string
func vnpayQuery(t *testing.T, orderID, bookingID string, amount int64, txnNo, responseCode string, mutate func(map[string]string)) string {
	t.Helper()

	params := map[string]string{
		"vnp_TmnCode":           "TEST001",
		"vnp_Amount":            strconv.FormatInt(amount*100, 10),
		"vnp_TxnRef":            orderID,
		"vnp_OrderInfo":         bookingID,
		"vnp_ResponseCode":      responseCode,
		"vnp_TransactionStatus": responseCode,
		"vnp_TransactionNo":     txnNo,
		"vnp_BankCode":          "NCB",
		"vnp_PayDate":           time.Now().In(time.FixedZone("GMT+7", 7*3600)).Format("20060102150405"),
	}
	if mutate != nil {
		mutate(params)
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+url.QueryEscape(params[k]))
	}
	canonical := strings.Join(pairs, "&")

	return canonical + "&vnp_SecureHash=" + provider.SignSHA512(testVNPaySecret, canonical)
}

// zaloCallbackBody builds a correctly signed callback body
func zaloCallbackBody(t *testing.T, orderID, bookingID string, amount, zpTransID int64, mutate func(cb map[string]interface{})) string {
	t.Helper()

	embedJSON, _ := json.Marshal(map[string]string{"booking_id": bookingID})
	data, _ := json.Marshal(map[string]interface{}{
		"app_id":       2553,
		"app_trans_id": time.Now().In(time.FixedZone("GMT+7", 7*3600)).Format("060102") + "_" + orderID,
		"app_user":     bookingID,
		"app_time":     time.Now().UnixMilli(),
		"amount":       amount,
		"embed_data":   string(embedJSON),
		"item":         "[]",
		"zp_trans_id":  zpTransID,
		"server_time":  time.Now().UnixMilli(),
		"channel":      38,
	})

	body := map[string]interface{}{
		"data": string(data),
		"mac":  provider.SignSHA256(testZaloKey2, string(data)),
		"type": 1,
	}
	if mutate != nil {
		mutate(body)
	}
	raw, _ := json.Marshal(body)
	return string(raw)
}

type momoAck struct {
	ResultCode int    `json:"resultCode"`
	Message    string `json:"message"`
}

func TestMoMoWebhook(t *testing.T) {
	f := newWebhookFixture(t)
	f.seedOrder(t, "MOMO_BOOK001_1", "booking-001", domain.ProviderMoMo, 150000, "")

	w := f.do(t, http.MethodPost, "/payments/momo/webhook",
		momoIPNBody(t, "MOMO_BOOK001_1", "booking-001", 150000, 4001, 0, nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var ack momoAck
	if err := json.Unmarshal(w.Body.Bytes(), &ack); err != nil {
		t.Fatalf("parse ack: %v", err)
	}
	if ack.ResultCode != 0 {
		t.Errorf("Expected resultCode 0, got %d", ack.ResultCode)
	}
	if got := f.orderStatus(t, "MOMO_BOOK001_1"); got != domain.OrderStatusCompleted {
		t.Errorf("Expected completed order, got %s", got)
	}

	events := f.events.Events()
	if len(events) != 1 {
		t.Fatalf("Expected 1 audit event, got %d", len(events))
	}
	if !events[0].SignatureValid || !events[0].OutcomeApplied {
		t.Errorf("Expected event marked valid and applied, got %+v", events[0])
	}
}

func TestMoMoWebhook_InvalidSignature(t *testing.T) {
	f := newWebhookFixture(t)
	f.seedOrder(t, "MOMO_BOOK002_1", "booking-002", domain.ProviderMoMo, 150000, "")

	// inflate the amount after signing
	body := momoIPNBody(t, "MOMO_BOOK002_1", "booking-002", 150000, 4002, 0, func(m map[string]interface{}) {
		m["amount"] = int64(999000)
	})
	w := f.do(t, http.MethodPost, "/payments/momo/webhook", body)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", w.Code)
	}
	// the rejection reveals nothing about which gate failed
	var ack momoAck
	if err := json.Unmarshal(w.Body.Bytes(), &ack); err != nil {
		t.Fatalf("parse ack: %v", err)
	}
	if ack.Message != "rejected" {
		t.Errorf("Expected generic rejection message, got %q", ack.Message)
	}
	if got := f.orderStatus(t, "MOMO_BOOK002_1"); got != domain.OrderStatusPending {
		t.Errorf("Expected order untouched, got %s", got)
	}

	events := f.events.Events()
	if len(events) != 1 || events[0].SignatureValid {
		t.Errorf("Expected audit event with invalid signature, got %+v", events)
	}
}

func TestMoMoWebhook_DuplicateDelivery(t *testing.T) {
	f := newWebhookFixture(t)
	f.seedOrder(t, "MOMO_BOOK003_1", "booking-003", domain.ProviderMoMo, 150000, "")

	body := momoIPNBody(t, "MOMO_BOOK003_1", "booking-003", 150000, 4003, 0, nil)
	for i := 0; i < 2; i++ {
		w := f.do(t, http.MethodPost, "/payments/momo/webhook", body)
		if w.Code != http.StatusOK {
			t.Fatalf("delivery %d: expected 200, got %d", i+1, w.Code)
		}
	}

	if got := f.orderStatus(t, "MOMO_BOOK003_1"); got != domain.OrderStatusCompleted {
		t.Errorf("Expected completed order, got %s", got)
	}
	events := f.events.Events()
	if len(events) != 2 {
		t.Fatalf("Expected both deliveries audited, got %d", len(events))
	}
	if events[1].OutcomeApplied {
		t.Errorf("Expected second delivery marked as not applied")
	}
}

type vnpayAckBody struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

func (f *webhookFixture) vnpayIPN(t *testing.T, query string) vnpayAckBody {
	t.Helper()
	w := f.do(t, http.MethodGet, "/payments/vnpay/ipn?"+query, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 from VNPay IPN, got %d", w.Code)
	}
	var ack vnpayAckBody
	if err := json.Unmarshal(w.Body.Bytes(), &ack); err != nil {
		t.Fatalf("parse ack: %v", err)
	}
	return ack
}

func TestVNPayIPN(t *testing.T) {
	f := newWebhookFixture(t)
	f.seedOrder(t, "VNPAY_BOOK001_1", "booking-001", domain.ProviderVNPay, 100000, "")

	query := vnpayQuery(t, "VNPAY_BOOK001_1", "booking-001", 100000, "14001", "00", nil)

	ack := f.vnpayIPN(t, query)
	if ack.RspCode != "00" {
		t.Fatalf("Expected RspCode 00, got %s (%s)", ack.RspCode, ack.Message)
	}
	if got := f.orderStatus(t, "VNPAY_BOOK001_1"); got != domain.OrderStatusCompleted {
		t.Errorf("Expected completed order, got %s", got)
	}

	// redelivery acks 02 without touching state
	ack = f.vnpayIPN(t, query)
	if ack.RspCode != "02" {
		t.Errorf("Expected RspCode 02 on replay, got %s", ack.RspCode)
	}
}

func TestVNPayIPN_InvalidSignature(t *testing.T) {
	f := newWebhookFixture(t)
	f.seedOrder(t, "VNPAY_BOOK002_1", "booking-002", domain.ProviderVNPay, 100000, "")

	query := vnpayQuery(t, "VNPAY_BOOK002_1", "booking-002", 100000, "14002", "00", nil)
	query = strings.Replace(query, "vnp_Amount=10000000", "vnp_Amount=99900000", 1)

	ack := f.vnpayIPN(t, query)
	if ack.RspCode != "97" {
		t.Errorf("Expected RspCode 97, got %s", ack.RspCode)
	}
	if got := f.orderStatus(t, "VNPAY_BOOK002_1"); got != domain.OrderStatusPending {
		t.Errorf("Expected order untouched, got %s", got)
	}
}

func TestVNPayIPN_UnknownOrder(t *testing.T) {
	f := newWebhookFixture(t)

	ack := f.vnpayIPN(t, vnpayQuery(t, "VNPAY_MISSING_1", "booking-x", 100000, "14003", "00", nil))
	if ack.RspCode != "01" {
		t.Errorf("Expected RspCode 01, got %s", ack.RspCode)
	}
}

func TestVNPayIPN_AmountMismatch(t *testing.T) {
	f := newWebhookFixture(t)
	f.seedOrder(t, "VNPAY_BOOK004_1", "booking-004", domain.ProviderVNPay, 100000, "")

	// correctly signed, but for a different amount than the order
	ack := f.vnpayIPN(t, vnpayQuery(t, "VNPAY_BOOK004_1", "booking-004", 250000, "14004", "00", nil))
	if ack.RspCode != "04" {
		t.Errorf("Expected RspCode 04, got %s", ack.RspCode)
	}
	if got := f.orderStatus(t, "VNPAY_BOOK004_1"); got != domain.OrderStatusPending {
		t.Errorf("Expected order untouched, got %s", got)
	}

	// the gate was released, so the corrected redelivery still applies
	ack = f.vnpayIPN(t, vnpayQuery(t, "VNPAY_BOOK004_1", "booking-004", 100000, "14004", "00", nil))
	if ack.RspCode != "00" {
		t.Errorf("Expected RspCode 00 after corrected redelivery, got %s", ack.RspCode)
	}
}

func TestVNPayIPN_FailedPayment(t *testing.T) {
	f := newWebhookFixture(t)
	f.seedOrder(t, "VNPAY_BOOK005_1", "booking-005", domain.ProviderVNPay, 100000, "")

	ack := f.vnpayIPN(t, vnpayQuery(t, "VNPAY_BOOK005_1", "booking-005", 100000, "14005", "24", nil))
	if ack.RspCode != "00" {
		t.Fatalf("Expected RspCode 00 for a verified failure, got %s", ack.RspCode)
	}
	if got := f.orderStatus(t, "VNPAY_BOOK005_1"); got != domain.OrderStatusFailed {
		t.Errorf("Expected failed order, got %s", got)
	}
}

func TestVNPayReturn(t *testing.T) {
	f := newWebhookFixture(t)
	f.seedOrder(t, "VNPAY_BOOK006_1", "booking-006", domain.ProviderVNPay, 100000, "")

	query := vnpayQuery(t, "VNPAY_BOOK006_1", "booking-006", 100000, "14006", "00", nil)
	w := f.do(t, http.MethodGet, "/payments/vnpay/return?"+query, "")

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if !resp.Success || resp.Data.Status != "completed" {
		t.Errorf("Expected settled order in response, got %s", w.Body.String())
	}
}

func TestVNPayReturn_InvalidSignature(t *testing.T) {
	f := newWebhookFixture(t)
	f.seedOrder(t, "VNPAY_BOOK007_1", "booking-007", domain.ProviderVNPay, 100000, "")

	query := vnpayQuery(t, "VNPAY_BOOK007_1", "booking-007", 100000, "14007", "00", nil)
	query = strings.Replace(query, "vnp_ResponseCode=00", "vnp_ResponseCode=24", 1)

	w := f.do(t, http.MethodGet, "/payments/vnpay/return?"+query, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

type zaloAck struct {
	ReturnCode    int    `json:"return_code"`
	ReturnMessage string `json:"return_message"`
}

func TestZaloPayCallback(t *testing.T) {
	f := newWebhookFixture(t)
	f.seedOrder(t, "ZALO_BOOK001_1", "booking-001", domain.ProviderZaloPay, 200000, "")

	w := f.do(t, http.MethodPost, "/payments/zalopay/callback",
		zaloCallbackBody(t, "ZALO_BOOK001_1", "booking-001", 200000, 240001, nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var ack zaloAck
	if err := json.Unmarshal(w.Body.Bytes(), &ack); err != nil {
		t.Fatalf("parse ack: %v", err)
	}
	if ack.ReturnCode != 1 {
		t.Errorf("Expected return_code 1, got %d (%s)", ack.ReturnCode, ack.ReturnMessage)
	}
	if got := f.orderStatus(t, "ZALO_BOOK001_1"); got != domain.OrderStatusCompleted {
		t.Errorf("Expected completed order, got %s", got)
	}
}

func TestZaloPayCallback_InvalidMac(t *testing.T) {
	f := newWebhookFixture(t)
	f.seedOrder(t, "ZALO_BOOK002_1", "booking-002", domain.ProviderZaloPay, 200000, "")

	body := zaloCallbackBody(t, "ZALO_BOOK002_1", "booking-002", 200000, 240002, func(cb map[string]interface{}) {
		cb["mac"] = provider.SignSHA256("wrong_key", cb["data"].(string))
	})
	w := f.do(t, http.MethodPost, "/payments/zalopay/callback", body)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var ack zaloAck
	if err := json.Unmarshal(w.Body.Bytes(), &ack); err != nil {
		t.Fatalf("parse ack: %v", err)
	}
	if ack.ReturnCode != -1 {
		t.Errorf("Expected return_code -1, got %d", ack.ReturnCode)
	}
	if got := f.orderStatus(t, "ZALO_BOOK002_1"); got != domain.OrderStatusPending {
		t.Errorf("Expected order untouched, got %s", got)
	}
}

func TestBankingConfirm(t *testing.T) {
	f := newWebhookFixture(t)
	f.seedOrder(t, "BANK_BOOK001_1", "booking-001", domain.ProviderBanking, 500000, "VSTAYABCD2345")

	body := `{"transfer_code":"VSTAYABCD2345","amount":500000,"bank_reference":"FT26241000123"}`
	w := f.do(t, http.MethodPost, "/payments/banking/confirm", body)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := f.orderStatus(t, "BANK_BOOK001_1"); got != domain.OrderStatusCompleted {
		t.Errorf("Expected completed order, got %s", got)
	}

	// same bank reference again is a duplicate, still 200
	w = f.do(t, http.MethodPost, "/payments/banking/confirm", body)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 on duplicate confirm, got %d", w.Code)
	}
}

func TestBankingConfirm_UnknownCode(t *testing.T) {
	f := newWebhookFixture(t)

	w := f.do(t, http.MethodPost, "/payments/banking/confirm",
		`{"transfer_code":"VSTAYZZZZ9999","amount":500000,"bank_reference":"FT26241000124"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestBankingConfirm_AmountMismatch(t *testing.T) {
	f := newWebhookFixture(t)
	f.seedOrder(t, "BANK_BOOK002_1", "booking-002", domain.ProviderBanking, 500000, "VSTAYEFGH6789")

	w := f.do(t, http.MethodPost, "/payments/banking/confirm",
		`{"transfer_code":"VSTAYEFGH6789","amount":450000,"bank_reference":"FT26241000125"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409, got %d", w.Code)
	}
	if got := f.orderStatus(t, "BANK_BOOK002_1"); got != domain.OrderStatusPending {
		t.Errorf("Expected order untouched, got %s", got)
	}
}

func TestBankingConfirm_OrphanedDedupRecord(t *testing.T) {
	f := newWebhookFixture(t)

	// the bank reference was recorded but no order matches the transfer
	// code, as after a failed reconcile whose gate release also failed
	if _, err := f.idempotency.RecordIfNew(context.Background(), domain.ProviderBanking, "FT26241000127"); err != nil {
		t.Fatalf("seed dedup record: %v", err)
	}

	w := f.do(t, http.MethodPost, "/payments/banking/confirm",
		`{"transfer_code":"VSTAYQRST4321","amount":500000,"bank_reference":"FT26241000127"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestBankingConfirm_MissingFields(t *testing.T) {
	f := newWebhookFixture(t)

	w := f.do(t, http.MethodPost, "/payments/banking/confirm",
		`{"amount":500000,"bank_reference":"FT26241000126"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}
