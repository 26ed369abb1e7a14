package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vietstay/payment-service/internal/domain"
	"github.com/vietstay/payment-service/pkg/retry"
)

// ZaloPayConfig holds ZaloPay app credentials and endpoints
type ZaloPayConfig struct {
	AppID       int
	Key1        string
	Key2        string
	Endpoint    string
	CallbackURL string
	RedirectURL string
	HTTPTimeout time.Duration
}

// ZaloPay registers orders and verifies callbacks. Order MACs use key1 over
// the pipe-joined tuple; callback MACs use key2 over the raw data string
// exactly as delivered, so the data field must never be re-marshaled before
// verification.
type ZaloPay struct {
	cfg     ZaloPayConfig
	retrier *retry.Retrier
	now     func() time.Time
}

func NewZaloPay(cfg ZaloPayConfig) *ZaloPay {
	return &ZaloPay{
		cfg:     cfg,
		retrier: retry.New(createOrderRetryConfig()),
		now:     time.Now,
	}
}

func (z *ZaloPay) Name() domain.Provider {
	return domain.ProviderZaloPay
}

type zaloEmbedData struct {
	BookingID   string `json:"booking_id"`
	RedirectURL string `json:"redirecturl,omitempty"`
}

type zaloCreateRequest struct {
	AppID       int    `json:"app_id"`
	AppTransID  string `json:"app_trans_id"`
	AppUser     string `json:"app_user"`
	AppTime     int64  `json:"app_time"`
	Amount      int64  `json:"amount"`
	Item        string `json:"item"`
	EmbedData   string `json:"embed_data"`
	Description string `json:"description"`
	BankCode    string `json:"bank_code"`
	CallbackURL string `json:"callback_url"`
	Mac         string `json:"mac"`
}

type zaloCreateResponse struct {
	ReturnCode    int    `json:"return_code"`
	ReturnMessage string `json:"return_message"`
	OrderURL      string `json:"order_url"`
	ZPTransToken  string `json:"zp_trans_token"`
}

// appTransID builds ZaloPay's required "yymmdd_<ref>" order reference,
// dated in GMT+7.
func (z *ZaloPay) appTransID(orderID string, now time.Time) string {
	return now.In(vnpayLocation).Format("060102") + "_" + orderID
}

// CreateOrder registers the order with ZaloPay and returns the order URL
func (z *ZaloPay) CreateOrder(ctx context.Context, req *OrderRequest) (*OrderResponse, error) {
	now := z.now()
	embed, err := json.Marshal(zaloEmbedData{
		BookingID:   req.BookingID,
		RedirectURL: req.ReturnURL,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embed_data: %w", err)
	}

	body := &zaloCreateRequest{
		AppID:       z.cfg.AppID,
		AppTransID:  z.appTransID(req.OrderID, now),
		AppUser:     req.BookingID,
		AppTime:     now.UnixMilli(),
		Amount:      req.Amount,
		Item:        "[]",
		EmbedData:   string(embed),
		Description: req.OrderInfo,
		CallbackURL: z.cfg.CallbackURL,
	}
	body.Mac = z.signOrder(body)

	client := newHTTPClient(z.cfg.HTTPTimeout)
	var out zaloCreateResponse
	result := z.retrier.Do(ctx, func(ctx context.Context) error {
		out = zaloCreateResponse{}
		if err := postJSON(ctx, client, z.cfg.Endpoint+"/v2/create", body, &out); err != nil {
			return err
		}
		if out.ReturnCode != 1 {
			return retry.Permanent(fmt.Errorf("zalopay rejected order: %d %s", out.ReturnCode, out.ReturnMessage))
		}
		return nil
	})
	if result.Err != nil {
		return nil, &domain.ExternalServiceError{Provider: domain.ProviderZaloPay, Err: result.Err}
	}

	return &OrderResponse{
		PayURL:           out.OrderURL,
		ProviderOrderRef: body.AppTransID,
	}, nil
}

// signOrder computes the key1 MAC over the order tuple
func (z *ZaloPay) signOrder(r *zaloCreateRequest) string {
	payload := strconv.Itoa(r.AppID) + "|" +
		r.AppTransID + "|" +
		r.AppUser + "|" +
		strconv.FormatInt(r.Amount, 10) + "|" +
		strconv.FormatInt(r.AppTime, 10) + "|" +
		r.EmbedData + "|" +
		r.Item
	return SignSHA256(z.cfg.Key1, payload)
}

type zaloCallback struct {
	Data string `json:"data"`
	Mac  string `json:"mac"`
	Type int    `json:"type"`
}

type zaloCallbackData struct {
	AppID      int    `json:"app_id"`
	AppTransID string `json:"app_trans_id"`
	AppUser    string `json:"app_user"`
	AppTime    int64  `json:"app_time"`
	Amount     int64  `json:"amount"`
	EmbedData  string `json:"embed_data"`
	Item       string `json:"item"`
	ZPTransID  int64  `json:"zp_trans_id"`
	ServerTime int64  `json:"server_time"`
	Channel    int    `json:"channel"`
}

// ParseCallback verifies a ZaloPay callback body. ZaloPay only delivers
// callbacks for successful charges, so a verified delivery is a success.
func (z *ZaloPay) ParseCallback(raw []byte) (*domain.NormalizedOutcome, error) {
	var cb zaloCallback
	if err := json.Unmarshal(raw, &cb); err != nil {
		return nil, fmt.Errorf("parse zalopay callback: %w", domain.ErrInvalidSignature)
	}

	if !VerifySHA256(z.cfg.Key2, cb.Data, cb.Mac) {
		return nil, domain.ErrInvalidSignature
	}

	var data zaloCallbackData
	if err := json.Unmarshal([]byte(cb.Data), &data); err != nil {
		return nil, fmt.Errorf("parse zalopay callback data: %w", domain.ErrInvalidSignature)
	}

	tsMillis := data.ServerTime
	if tsMillis == 0 {
		tsMillis = data.AppTime
	}
	if !ValidCallbackTimestamp(tsMillis, z.now()) {
		return nil, domain.ErrStaleTimestamp
	}

	var embed zaloEmbedData
	if data.EmbedData != "" {
		_ = json.Unmarshal([]byte(data.EmbedData), &embed)
	}

	// app_trans_id is "yymmdd_<orderID>"
	orderID := data.AppTransID
	if idx := strings.IndexByte(orderID, '_'); idx >= 0 {
		orderID = orderID[idx+1:]
	}

	return &domain.NormalizedOutcome{
		Provider:              domain.ProviderZaloPay,
		ProviderTransactionID: strconv.FormatInt(data.ZPTransID, 10),
		OrderID:               orderID,
		BookingID:             embed.BookingID,
		Amount:                data.Amount,
		ResultCode:            "1",
		Succeeded:             true,
		TimestampMillis:       tsMillis,
	}, nil
}
