package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/vietstay/payment-service/internal/domain"
	"github.com/vietstay/payment-service/pkg/retry"
)

// MoMoConfig holds MoMo partner credentials and endpoints
type MoMoConfig struct {
	PartnerCode string
	AccessKey   string
	SecretKey   string
	Endpoint    string
	RedirectURL string
	IPNURL      string
	HTTPTimeout time.Duration
}

// MoMo registers orders via the gateway's create API and verifies IPN
// deliveries. Signatures are HMAC-SHA256 over a fixed-order field concat;
// the field lists differ between create and IPN and are part of the
// gateway contract, not alphabetical coincidence.
type MoMo struct {
	cfg     MoMoConfig
	retrier *retry.Retrier
	now     func() time.Time
}

func NewMoMo(cfg MoMoConfig) *MoMo {
	return &MoMo{
		cfg:     cfg,
		retrier: retry.New(createOrderRetryConfig()),
		now:     time.Now,
	}
}

func (m *MoMo) Name() domain.Provider {
	return domain.ProviderMoMo
}

type momoExtraData struct {
	BookingID string `json:"booking_id"`
}

type momoCreateRequest struct {
	PartnerCode string `json:"partnerCode"`
	RequestID   string `json:"requestId"`
	Amount      int64  `json:"amount"`
	OrderID     string `json:"orderId"`
	OrderInfo   string `json:"orderInfo"`
	RedirectURL string `json:"redirectUrl"`
	IPNURL      string `json:"ipnUrl"`
	RequestType string `json:"requestType"`
	ExtraData   string `json:"extraData"`
	Lang        string `json:"lang"`
	Signature   string `json:"signature"`
}

type momoCreateResponse struct {
	ResultCode int    `json:"resultCode"`
	Message    string `json:"message"`
	PayURL     string `json:"payUrl"`
}

// CreateOrder registers the order with MoMo and returns the wallet pay URL.
// Transient failures are retried with bounded backoff; a non-zero
// resultCode is a business rejection and is not retried.
func (m *MoMo) CreateOrder(ctx context.Context, req *OrderRequest) (*OrderResponse, error) {
	extra, err := json.Marshal(momoExtraData{BookingID: req.BookingID})
	if err != nil {
		return nil, fmt.Errorf("marshal extraData: %w", err)
	}
	extraData := base64.StdEncoding.EncodeToString(extra)

	body := &momoCreateRequest{
		PartnerCode: m.cfg.PartnerCode,
		RequestID:   req.OrderID,
		Amount:      req.Amount,
		OrderID:     req.OrderID,
		OrderInfo:   req.OrderInfo,
		RedirectURL: m.cfg.RedirectURL,
		IPNURL:      m.cfg.IPNURL,
		RequestType: "captureWallet",
		ExtraData:   extraData,
		Lang:        "vi",
	}
	body.Signature = m.signCreate(body)

	client := newHTTPClient(m.cfg.HTTPTimeout)
	var out momoCreateResponse
	result := m.retrier.Do(ctx, func(ctx context.Context) error {
		out = momoCreateResponse{}
		if err := postJSON(ctx, client, m.cfg.Endpoint+"/v2/gateway/api/create", body, &out); err != nil {
			return err
		}
		if out.ResultCode != 0 {
			return retry.Permanent(fmt.Errorf("momo rejected order: %d %s", out.ResultCode, out.Message))
		}
		return nil
	})
	if result.Err != nil {
		return nil, &domain.ExternalServiceError{Provider: domain.ProviderMoMo, Err: result.Err}
	}

	return &OrderResponse{PayURL: out.PayURL}, nil
}

// signCreate builds the create-order signature in the documented field order.
func (m *MoMo) signCreate(r *momoCreateRequest) string {
	payload := "accessKey=" + m.cfg.AccessKey +
		"&amount=" + strconv.FormatInt(r.Amount, 10) +
		"&extraData=" + r.ExtraData +
		"&ipnUrl=" + r.IPNURL +
		"&orderId=" + r.OrderID +
		"&orderInfo=" + r.OrderInfo +
		"&partnerCode=" + r.PartnerCode +
		"&redirectUrl=" + r.RedirectURL +
		"&requestId=" + r.RequestID +
		"&requestType=" + r.RequestType
	return SignSHA256(m.cfg.SecretKey, payload)
}

type momoIPN struct {
	PartnerCode  string `json:"partnerCode"`
	OrderID      string `json:"orderId"`
	RequestID    string `json:"requestId"`
	Amount       int64  `json:"amount"`
	OrderInfo    string `json:"orderInfo"`
	OrderType    string `json:"orderType"`
	TransID      int64  `json:"transId"`
	ResultCode   int    `json:"resultCode"`
	Message      string `json:"message"`
	PayType      string `json:"payType"`
	ResponseTime int64  `json:"responseTime"`
	ExtraData    string `json:"extraData"`
	Signature    string `json:"signature"`
}

// ParseCallback verifies a MoMo IPN body
func (m *MoMo) ParseCallback(raw []byte) (*domain.NormalizedOutcome, error) {
	var ipn momoIPN
	if err := json.Unmarshal(raw, &ipn); err != nil {
		return nil, fmt.Errorf("parse momo ipn: %w", domain.ErrInvalidSignature)
	}

	payload := "accessKey=" + m.cfg.AccessKey +
		"&amount=" + strconv.FormatInt(ipn.Amount, 10) +
		"&extraData=" + ipn.ExtraData +
		"&message=" + ipn.Message +
		"&orderId=" + ipn.OrderID +
		"&orderInfo=" + ipn.OrderInfo +
		"&orderType=" + ipn.OrderType +
		"&partnerCode=" + ipn.PartnerCode +
		"&payType=" + ipn.PayType +
		"&requestId=" + ipn.RequestID +
		"&responseTime=" + strconv.FormatInt(ipn.ResponseTime, 10) +
		"&resultCode=" + strconv.Itoa(ipn.ResultCode) +
		"&transId=" + strconv.FormatInt(ipn.TransID, 10)

	if !VerifySHA256(m.cfg.SecretKey, payload, ipn.Signature) {
		return nil, domain.ErrInvalidSignature
	}

	if !ValidCallbackTimestamp(ipn.ResponseTime, m.now()) {
		return nil, domain.ErrStaleTimestamp
	}

	var bookingID string
	if ipn.ExtraData != "" {
		if decoded, err := base64.StdEncoding.DecodeString(ipn.ExtraData); err == nil {
			var extra momoExtraData
			if json.Unmarshal(decoded, &extra) == nil {
				bookingID = extra.BookingID
			}
		}
	}

	return &domain.NormalizedOutcome{
		Provider:              domain.ProviderMoMo,
		ProviderTransactionID: strconv.FormatInt(ipn.TransID, 10),
		OrderID:               ipn.OrderID,
		BookingID:             bookingID,
		Amount:                ipn.Amount,
		ResultCode:            strconv.Itoa(ipn.ResultCode),
		Succeeded:             ipn.ResultCode == 0,
		TimestampMillis:       ipn.ResponseTime,
	}, nil
}
