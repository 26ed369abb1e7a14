package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vietstay/payment-service/internal/domain"
	"github.com/vietstay/payment-service/internal/dto"
	"github.com/vietstay/payment-service/internal/service"
)

// PaymentHandler handles payment HTTP endpoints
type PaymentHandler struct {
	paymentService service.PaymentService
	// bank account details surfaced on banking orders
	bankName      string
	accountNumber string
	accountName   string
}

// NewPaymentHandler creates a new PaymentHandler
func NewPaymentHandler(paymentService service.PaymentService, bankName, accountNumber, accountName string) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
		bankName:       bankName,
		accountNumber:  accountNumber,
		accountName:    accountName,
	}
}

// CreatePayment handles POST /payments/create
func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	var req dto.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse("VALIDATION_ERROR", err.Error()))
		return
	}

	order, err := h.paymentService.CreatePayment(c.Request.Context(), &service.CreatePaymentRequest{
		BookingID: req.BookingID,
		Provider:  req.PaymentMethod,
		ReturnURL: req.ReturnURL,
		CancelURL: req.CancelURL,
		ClientIP:  c.ClientIP(),
	})
	if err != nil {
		h.writeCreateError(c, err)
		return
	}

	resp := &dto.CreatePaymentResponse{
		OrderID:      order.ID,
		PaymentURL:   order.PayURL,
		Amount:       order.Amount,
		Currency:     order.Currency,
		TransferCode: order.TransferCode,
	}
	if order.Provider == domain.ProviderBanking {
		resp.BankName = h.bankName
		resp.AccountNumber = h.accountNumber
		resp.AccountName = h.accountName
	}

	c.JSON(http.StatusCreated, dto.NewSuccessResponse(resp))
}

func (h *PaymentHandler) writeCreateError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrBookingNotFound):
		c.JSON(http.StatusNotFound, dto.NewErrorResponse("BOOKING_NOT_FOUND", "booking not found"))
	case errors.Is(err, domain.ErrBookingNotPayable):
		c.JSON(http.StatusConflict, dto.NewErrorResponse("BOOKING_NOT_PAYABLE", "booking is not in a payable state"))
	case errors.Is(err, domain.ErrOrderExists):
		c.JSON(http.StatusConflict, dto.NewErrorResponse("ORDER_EXISTS", "an open payment order already exists for this booking"))
	default:
		var pErr *domain.PaymentError
		if errors.As(err, &pErr) {
			status := http.StatusBadRequest
			if pErr.Code == "PROVIDER_UNAVAILABLE" || pErr.Code == "PROVIDER_ERROR" {
				status = http.StatusBadGateway
			}
			c.JSON(status, dto.NewErrorResponse(pErr.Code, pErr.Message))
			return
		}
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse("CREATE_FAILED", "failed to create payment order"))
	}
}

// GetOrder handles GET /payments/orders/:id
func (h *PaymentHandler) GetOrder(c *gin.Context) {
	orderID := c.Param("id")
	if orderID == "" {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse("VALIDATION_ERROR", "order id is required"))
		return
	}

	order, err := h.paymentService.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, dto.NewErrorResponse("NOT_FOUND", "payment order not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse("GET_FAILED", "failed to load payment order"))
		return
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.FromOrder(order)))
}

// GetOrderByBookingID handles GET /payments/booking/:bookingId
func (h *PaymentHandler) GetOrderByBookingID(c *gin.Context) {
	bookingID := c.Param("bookingId")
	if bookingID == "" {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse("VALIDATION_ERROR", "booking id is required"))
		return
	}

	order, err := h.paymentService.GetOrderByBookingID(c.Request.Context(), bookingID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, dto.NewErrorResponse("NOT_FOUND", "no payment order for this booking"))
			return
		}
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse("GET_FAILED", "failed to load payment order"))
		return
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.FromOrder(order)))
}

// CancelPayment handles POST /payments/orders/:id/cancel
func (h *PaymentHandler) CancelPayment(c *gin.Context) {
	orderID := c.Param("id")
	if orderID == "" {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse("VALIDATION_ERROR", "order id is required"))
		return
	}

	order, err := h.paymentService.CancelPayment(c.Request.Context(), orderID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrOrderNotFound):
			c.JSON(http.StatusNotFound, dto.NewErrorResponse("NOT_FOUND", "payment order not found"))
		case errors.Is(err, domain.ErrTerminalState):
			c.JSON(http.StatusConflict, dto.NewErrorResponse("TERMINAL_STATE", "payment order is already settled"))
		default:
			c.JSON(http.StatusInternalServerError, dto.NewErrorResponse("CANCEL_FAILED", "failed to cancel payment order"))
		}
		return
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.FromOrder(order)))
}
