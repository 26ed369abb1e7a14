package provider

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/vietstay/payment-service/internal/domain"
)

// VNPayConfig holds VNPay merchant credentials and endpoints
type VNPayConfig struct {
	TmnCode    string
	HashSecret string
	PayURL     string
	ReturnURL  string
	OrderType  string
	Locale     string
}

// VNPay builds signed pay URLs and verifies return/IPN callbacks.
// Signatures are HMAC-SHA512 over the lexicographically sorted query;
// vnp_Amount is VND multiplied by 100 per the gateway contract.
type VNPay struct {
	cfg VNPayConfig
	now func() time.Time
}

func NewVNPay(cfg VNPayConfig) *VNPay {
	if cfg.OrderType == "" {
		cfg.OrderType = "other"
	}
	if cfg.Locale == "" {
		cfg.Locale = "vn"
	}
	return &VNPay{cfg: cfg, now: time.Now}
}

func (v *VNPay) Name() domain.Provider {
	return domain.ProviderVNPay
}

// CreateOrder is pure URL construction, no network round trip: the user's
// browser carries the signed query to VNPay.
func (v *VNPay) CreateOrder(_ context.Context, req *OrderRequest) (*OrderResponse, error) {
	now := v.now()
	params := map[string]string{
		"vnp_Version":    "2.1.0",
		"vnp_Command":    "pay",
		"vnp_TmnCode":    v.cfg.TmnCode,
		"vnp_Amount":     strconv.FormatInt(req.Amount*100, 10),
		"vnp_CurrCode":   "VND",
		"vnp_TxnRef":     req.OrderID,
		"vnp_OrderInfo":  req.BookingID,
		"vnp_OrderType":  v.cfg.OrderType,
		"vnp_Locale":     v.cfg.Locale,
		"vnp_IpAddr":     req.ClientIP,
		"vnp_CreateDate": FormatVNPayDate(now),
		"vnp_ExpireDate": FormatVNPayDate(now.Add(15 * time.Minute)),
	}
	if req.ReturnURL != "" {
		params["vnp_ReturnUrl"] = req.ReturnURL
	} else {
		params["vnp_ReturnUrl"] = v.cfg.ReturnURL
	}

	canonical := canonicalQuery(params, url.QueryEscape)
	signature := SignSHA512(v.cfg.HashSecret, canonical)

	return &OrderResponse{
		PayURL: v.cfg.PayURL + "?" + canonical + "&vnp_SecureHash=" + signature,
	}, nil
}

// ParseCallback verifies a return or IPN delivery. raw is the raw query
// string as received; both paths carry the same signed parameter set.
func (v *VNPay) ParseCallback(raw []byte) (*domain.NormalizedOutcome, error) {
	values, err := url.ParseQuery(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parse vnpay query: %w", domain.ErrInvalidSignature)
	}

	presented := values.Get("vnp_SecureHash")
	if presented == "" {
		return nil, fmt.Errorf("missing vnp_SecureHash: %w", domain.ErrInvalidSignature)
	}

	params := make(map[string]string, len(values))
	for k := range values {
		if k == "vnp_SecureHash" || k == "vnp_SecureHashType" {
			continue
		}
		params[k] = values.Get(k)
	}

	canonical := canonicalQuery(params, url.QueryEscape)
	if !VerifySHA512(v.cfg.HashSecret, canonical, presented) {
		return nil, domain.ErrInvalidSignature
	}

	now := v.now()
	tsMillis := ParseVNPayDate(values.Get("vnp_PayDate"), now)
	if !ValidCallbackTimestamp(tsMillis, now) {
		return nil, domain.ErrStaleTimestamp
	}

	rawAmount, err := strconv.ParseInt(values.Get("vnp_Amount"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse vnp_Amount %q: %w", values.Get("vnp_Amount"), err)
	}

	responseCode := values.Get("vnp_ResponseCode")
	txnStatus := values.Get("vnp_TransactionStatus")
	succeeded := responseCode == "00" && (txnStatus == "" || txnStatus == "00")

	return &domain.NormalizedOutcome{
		Provider:              domain.ProviderVNPay,
		ProviderTransactionID: values.Get("vnp_TransactionNo"),
		OrderID:               values.Get("vnp_TxnRef"),
		BookingID:             values.Get("vnp_OrderInfo"),
		Amount:                rawAmount / 100,
		ResultCode:            responseCode,
		Succeeded:             succeeded,
		TimestampMillis:       tsMillis,
	}, nil
}
