package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/vietstay/payment-service/internal/domain"
	"github.com/vietstay/payment-service/internal/service"
)

type mockPaymentService struct {
	createFunc func(ctx context.Context, req *service.CreatePaymentRequest) (*domain.PaymentOrder, error)
	getFunc    func(ctx context.Context, orderID string) (*domain.PaymentOrder, error)
	cancelFunc func(ctx context.Context, orderID string) (*domain.PaymentOrder, error)
}

func (m *mockPaymentService) CreatePayment(ctx context.Context, req *service.CreatePaymentRequest) (*domain.PaymentOrder, error) {
	return m.createFunc(ctx, req)
}

func (m *mockPaymentService) GetOrder(ctx context.Context, orderID string) (*domain.PaymentOrder, error) {
	return m.getFunc(ctx, orderID)
}

func (m *mockPaymentService) GetOrderByBookingID(ctx context.Context, bookingID string) (*domain.PaymentOrder, error) {
	return m.getFunc(ctx, bookingID)
}

func (m *mockPaymentService) CancelPayment(ctx context.Context, orderID string) (*domain.PaymentOrder, error) {
	return m.cancelFunc(ctx, orderID)
}

func (m *mockPaymentService) CancelExpiredOrders(_ context.Context) (int, error) {
	return 0, nil
}

func setupPaymentRouter(svc service.PaymentService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewPaymentHandler(svc, "Vietcombank", "0011002233445", "CONG TY VIETSTAY")
	r := gin.New()
	r.POST("/payments/create", h.CreatePayment)
	r.GET("/payments/orders/:id", h.GetOrder)
	r.POST("/payments/orders/:id/cancel", h.CancelPayment)
	return r
}

func pendingOrder(provider domain.Provider) *domain.PaymentOrder {
	order, _ := domain.NewPaymentOrder("booking-001", provider, 150000)
	order.ID = "ORDER_1"
	return order
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func doJSON(t *testing.T, r *gin.Engine, method, target, body string) (*httptest.ResponseRecorder, apiEnvelope) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env apiEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("parse response envelope: %v", err)
	}
	return w, env
}

func TestCreatePaymentEndpoint(t *testing.T) {
	order := pendingOrder(domain.ProviderMoMo)
	order.PayURL = "https://pay.momo.vn/x"
	r := setupPaymentRouter(&mockPaymentService{
		createFunc: func(_ context.Context, req *service.CreatePaymentRequest) (*domain.PaymentOrder, error) {
			if req.BookingID != "booking-001" || req.Provider != domain.ProviderMoMo {
				t.Errorf("unexpected request: %+v", req)
			}
			return order, nil
		},
	})

	w, env := doJSON(t, r, http.MethodPost, "/payments/create",
		`{"booking_id":"booking-001","payment_method":"momo"}`)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var data struct {
		OrderID    string `json:"order_id"`
		PaymentURL string `json:"payment_url"`
		Amount     int64  `json:"amount"`
		BankName   string `json:"bank_name"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("parse data: %v", err)
	}
	if data.PaymentURL != "https://pay.momo.vn/x" || data.Amount != 150000 {
		t.Errorf("unexpected payload: %+v", data)
	}
	if data.BankName != "" {
		t.Errorf("bank details must only appear on banking orders, got %q", data.BankName)
	}
}

func TestCreatePaymentEndpoint_BankingDetails(t *testing.T) {
	order := pendingOrder(domain.ProviderBanking)
	order.TransferCode = "VSTAYABCD2345"
	r := setupPaymentRouter(&mockPaymentService{
		createFunc: func(_ context.Context, _ *service.CreatePaymentRequest) (*domain.PaymentOrder, error) {
			return order, nil
		},
	})

	w, env := doJSON(t, r, http.MethodPost, "/payments/create",
		`{"booking_id":"booking-001","payment_method":"banking"}`)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", w.Code)
	}
	var data struct {
		TransferCode  string `json:"transfer_code"`
		BankName      string `json:"bank_name"`
		AccountNumber string `json:"account_number"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("parse data: %v", err)
	}
	if data.TransferCode != "VSTAYABCD2345" || data.BankName != "Vietcombank" || data.AccountNumber != "0011002233445" {
		t.Errorf("Expected transfer instructions, got %+v", data)
	}
}

func TestCreatePaymentEndpoint_ValidationError(t *testing.T) {
	r := setupPaymentRouter(&mockPaymentService{
		createFunc: func(_ context.Context, _ *service.CreatePaymentRequest) (*domain.PaymentOrder, error) {
			t.Fatal("service must not be called for an invalid body")
			return nil, nil
		},
	})

	w, env := doJSON(t, r, http.MethodPost, "/payments/create", `{"payment_method":"momo"}`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", w.Code)
	}
	if env.Error == nil || env.Error.Code != "VALIDATION_ERROR" {
		t.Errorf("Expected VALIDATION_ERROR, got %+v", env.Error)
	}
}

func TestCreatePaymentEndpoint_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"booking not found", domain.ErrBookingNotFound, http.StatusNotFound, "BOOKING_NOT_FOUND"},
		{"booking not payable", domain.ErrBookingNotPayable, http.StatusConflict, "BOOKING_NOT_PAYABLE"},
		{"open order exists", domain.ErrOrderExists, http.StatusConflict, "ORDER_EXISTS"},
		{
			"provider unavailable",
			domain.NewPaymentError("PROVIDER_UNAVAILABLE", "payment provider is unavailable", errors.New("connect timeout")),
			http.StatusBadGateway,
			"PROVIDER_UNAVAILABLE",
		},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "CREATE_FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := setupPaymentRouter(&mockPaymentService{
				createFunc: func(_ context.Context, _ *service.CreatePaymentRequest) (*domain.PaymentOrder, error) {
					return nil, tt.err
				},
			})

			w, env := doJSON(t, r, http.MethodPost, "/payments/create",
				`{"booking_id":"booking-001","payment_method":"momo"}`)

			if w.Code != tt.wantStatus {
				t.Errorf("Expected %d, got %d", tt.wantStatus, w.Code)
			}
			if env.Error == nil || env.Error.Code != tt.wantCode {
				t.Errorf("Expected code %s, got %+v", tt.wantCode, env.Error)
			}
		})
	}
}

func TestGetOrderEndpoint(t *testing.T) {
	order := pendingOrder(domain.ProviderVNPay)
	r := setupPaymentRouter(&mockPaymentService{
		getFunc: func(_ context.Context, orderID string) (*domain.PaymentOrder, error) {
			if orderID != "ORDER_1" {
				return nil, domain.ErrOrderNotFound
			}
			return order, nil
		},
	})

	w, env := doJSON(t, r, http.MethodGet, "/payments/orders/ORDER_1", "")
	if w.Code != http.StatusOK || !env.Success {
		t.Fatalf("Expected 200 success, got %d: %s", w.Code, w.Body.String())
	}

	w, env = doJSON(t, r, http.MethodGet, "/payments/orders/MISSING", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
	if env.Error == nil || env.Error.Code != "NOT_FOUND" {
		t.Errorf("Expected NOT_FOUND, got %+v", env.Error)
	}
}

func TestCancelPaymentEndpoint(t *testing.T) {
	order := pendingOrder(domain.ProviderMoMo)
	_ = order.Cancel()
	r := setupPaymentRouter(&mockPaymentService{
		cancelFunc: func(_ context.Context, orderID string) (*domain.PaymentOrder, error) {
			return order, nil
		},
	})

	w, env := doJSON(t, r, http.MethodPost, "/payments/orders/ORDER_1/cancel", "")
	if w.Code != http.StatusOK || !env.Success {
		t.Fatalf("Expected 200 success, got %d", w.Code)
	}
}

func TestCancelPaymentEndpoint_AlreadySettled(t *testing.T) {
	r := setupPaymentRouter(&mockPaymentService{
		cancelFunc: func(_ context.Context, _ string) (*domain.PaymentOrder, error) {
			return nil, domain.ErrTerminalState
		},
	})

	w, env := doJSON(t, r, http.MethodPost, "/payments/orders/ORDER_1/cancel", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("Expected 409, got %d", w.Code)
	}
	if env.Error == nil || env.Error.Code != "TERMINAL_STATE" {
		t.Errorf("Expected TERMINAL_STATE, got %+v", env.Error)
	}
}
