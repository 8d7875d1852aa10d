package vnpay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loc-ne/roomstay-backend/pkg/config"
	pkgerrors "github.com/loc-ne/roomstay-backend/pkg/errors"
	"github.com/loc-ne/roomstay-backend/pkg/logger"
	"github.com/loc-ne/roomstay-backend/pkg/metrics"
)

const (
	apiVersion    = "2.1.0"
	commandPay    = "pay"
	commandRefund = "refund"

	currencyVND = "VND"
	orderType   = "other"

	// Gateway transaction type for a full refund.
	refundTransactionType = "02"

	// TimestampLayout is the gateway's wall-clock format, shared with callers
	// that must echo a settlement time back on refund requests.
	TimestampLayout = "20060102150405"

	// ResponseCodeSuccess is the gateway code that marks any request as accepted.
	ResponseCodeSuccess = "00"
)

// Timezone is the gateway's wall clock (GMT+7). Every vnp_*Date field is read
// in it regardless of where the server runs.
var Timezone = time.FixedZone("GMT+7", 7*60*60)

// FormatTimestamp renders t on the gateway's wall clock.
func FormatTimestamp(t time.Time) string {
	return t.In(Timezone).Format(TimestampLayout)
}

// refundMessages maps the gateway's refund response codes to operator-readable text.
var refundMessages = map[string]string{
	"00": "refund accepted",
	"02": "merchant code invalid",
	"03": "malformed request data",
	"04": "refund not permitted for this transaction",
	"13": "only partial refund is allowed",
	"91": "transaction not found at gateway",
	"93": "refund amount invalid",
	"94": "duplicate refund request",
	"95": "transaction has not been paid",
	"97": "invalid signature",
}

// PaymentURLInput carries everything needed to build a redirect URL.
type PaymentURLInput struct {
	Amount    int64
	OrderRef  string
	OrderInfo string
	BankCode  string
	Locale    string
	ClientIP  string
}

// RefundInput carries the fields of a refund request against a settled payment.
type RefundInput struct {
	OrderRef        string
	Amount          int64
	TransactionNo   string
	TransactionDate string
	CreatedBy       string
	ClientIP        string
	OrderInfo       string
}

// RefundResult reports the gateway's verdict on a refund request.
type RefundResult struct {
	Success     bool
	Code        string
	Message     string
	RawResponse map[string]string
}

// Client talks the gateway's signed-URL and signed-JSON protocol.
type Client interface {
	CreatePaymentURL(ctx context.Context, in PaymentURLInput) (string, error)
	VerifySignature(params url.Values) bool
	Refund(ctx context.Context, in RefundInput) (*RefundResult, error)
}

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type client struct {
	cfg     config.VNPayConfig
	http    httpDoer
	logg    *logger.Logger
	metrics *metrics.GatewayMetrics
	now     func() time.Time
}

// NewClient validates the merchant configuration and returns a gateway client.
func NewClient(cfg config.VNPayConfig, logg *logger.Logger, gm *metrics.GatewayMetrics) (Client, error) {
	if cfg.TmnCode == "" {
		return nil, fmt.Errorf("vnpay tmn code is required")
	}
	if cfg.HashSecret == "" {
		return nil, fmt.Errorf("vnpay hash secret is required")
	}
	if cfg.PaymentURL == "" || cfg.RefundURL == "" {
		return nil, fmt.Errorf("vnpay endpoints are required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger is required")
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &client{
		cfg:     cfg,
		http:    &http.Client{Timeout: timeout},
		logg:    logg,
		metrics: gm,
		now:     time.Now,
	}, nil
}

// CreatePaymentURL builds the signed redirect URL for the hosted payment page.
func (c *client) CreatePaymentURL(ctx context.Context, in PaymentURLInput) (string, error) {
	if in.Amount <= 0 {
		return "", pkgerrors.New(pkgerrors.CodeInvalidAmount, "payment amount must be positive")
	}
	if in.OrderRef == "" {
		return "", fmt.Errorf("order ref is required")
	}

	locale := in.Locale
	if locale == "" {
		locale = "vn"
	}
	orderInfo := in.OrderInfo
	if orderInfo == "" {
		orderInfo = "Thanh toan don hang " + in.OrderRef
	}

	params := map[string]string{
		"vnp_Version":    apiVersion,
		"vnp_Command":    commandPay,
		"vnp_TmnCode":    c.cfg.TmnCode,
		"vnp_Locale":     locale,
		"vnp_CurrCode":   currencyVND,
		"vnp_TxnRef":     in.OrderRef,
		"vnp_Amount":     strconv.FormatInt(in.Amount*100, 10),
		"vnp_OrderInfo":  orderInfo,
		"vnp_OrderType":  orderType,
		"vnp_ReturnUrl":  c.cfg.ReturnURL,
		"vnp_IpAddr":     in.ClientIP,
		"vnp_CreateDate": FormatTimestamp(c.now()),
	}
	if in.BankCode != "" {
		params["vnp_BankCode"] = in.BankCode
	}

	canonical := canonicalQuery(params)
	secureHash := c.sign(canonical)

	c.observe("create_url", "ok")
	return c.cfg.PaymentURL + "?" + canonical + "&vnp_SecureHash=" + secureHash, nil
}

// VerifySignature checks the HMAC carried on a return-redirect or webhook callback.
// This comparison is the sole trust boundary for gateway callbacks.
func (c *client) VerifySignature(params url.Values) bool {
	supplied := params.Get("vnp_SecureHash")
	if supplied == "" {
		c.observeVerify(false)
		return false
	}

	filtered := make(map[string]string, len(params))
	for key := range params {
		if key == "vnp_SecureHash" || key == "vnp_SecureHashType" {
			continue
		}
		filtered[key] = params.Get(key)
	}

	expected := c.sign(canonicalQuery(filtered))
	ok := hmac.Equal([]byte(expected), []byte(strings.ToLower(supplied)))
	c.observeVerify(ok)
	return ok
}

// Refund posts a signed refund request for a settled transaction. A non-success
// response code is returned as a typed business error; transport failures are
// returned as retryable transport errors.
func (c *client) Refund(ctx context.Context, in RefundInput) (*RefundResult, error) {
	if in.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "refund amount must be positive")
	}
	if in.OrderRef == "" || in.TransactionDate == "" {
		return nil, fmt.Errorf("order ref and transaction date are required")
	}

	requestID := uuid.NewString()
	createDate := FormatTimestamp(c.now())
	amount := strconv.FormatInt(in.Amount*100, 10)
	orderInfo := in.OrderInfo
	if orderInfo == "" {
		orderInfo = "Hoan tien don hang " + in.OrderRef
	}
	createdBy := in.CreatedBy
	if createdBy == "" {
		createdBy = "system"
	}

	// Field order is mandated by the gateway protocol and must not change.
	signingData := strings.Join([]string{
		requestID,
		apiVersion,
		commandRefund,
		c.cfg.TmnCode,
		refundTransactionType,
		in.OrderRef,
		amount,
		in.TransactionNo,
		in.TransactionDate,
		createdBy,
		createDate,
		in.ClientIP,
		orderInfo,
	}, "|")

	body := map[string]string{
		"vnp_RequestId":       requestID,
		"vnp_Version":         apiVersion,
		"vnp_Command":         commandRefund,
		"vnp_TmnCode":         c.cfg.TmnCode,
		"vnp_TransactionType": refundTransactionType,
		"vnp_TxnRef":          in.OrderRef,
		"vnp_Amount":          amount,
		"vnp_TransactionNo":   in.TransactionNo,
		"vnp_TransactionDate": in.TransactionDate,
		"vnp_CreateBy":        createdBy,
		"vnp_CreateDate":      createDate,
		"vnp_IpAddr":          in.ClientIP,
		"vnp_OrderInfo":       orderInfo,
		"vnp_SecureHash":      c.sign(signingData),
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal refund request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RefundURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build refund request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := c.now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.observeDuration("refund", "transport_error", c.now().Sub(start))
		c.logg.Error(ctx, "gateway refund request failed", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeGatewayTransport, err, "refund request failed")
	}
	defer resp.Body.Close()

	var raw map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		c.observeDuration("refund", "transport_error", c.now().Sub(start))
		return nil, pkgerrors.Wrap(pkgerrors.CodeGatewayTransport, err, "decode refund response")
	}

	code := raw["vnp_ResponseCode"]
	result := &RefundResult{
		Success:     code == ResponseCodeSuccess,
		Code:        code,
		Message:     RefundMessage(code),
		RawResponse: raw,
	}

	if !result.Success {
		c.observeDuration("refund", "business_error", c.now().Sub(start))
		ctx = c.logg.WithFields(ctx, map[string]any{"response_code": code, "order_ref": in.OrderRef})
		c.logg.Warn(ctx, "gateway rejected refund")
		return result, pkgerrors.New(pkgerrors.CodeGatewayBusiness, result.Message).
			WithDetails(map[string]any{"response_code": code})
	}

	c.observeDuration("refund", "ok", c.now().Sub(start))
	return result, nil
}

// RefundMessage translates a gateway refund response code into readable text.
func RefundMessage(code string) string {
	if msg, ok := refundMessages[code]; ok {
		return msg
	}
	return "unknown gateway response code " + code
}

func (c *client) sign(data string) string {
	mac := hmac.New(sha512.New, []byte(c.cfg.HashSecret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *client) observe(op, outcome string) {
	if c.metrics != nil {
		c.metrics.ObserveRequest(op, outcome, 0)
	}
}

func (c *client) observeDuration(op, outcome string, d time.Duration) {
	if c.metrics != nil {
		c.metrics.ObserveRequest(op, outcome, d)
	}
}

func (c *client) observeVerify(ok bool) {
	if c.metrics != nil {
		c.metrics.ObserveCallbackVerification(ok)
	}
}

// canonicalQuery sorts the map by percent-encoded key and joins key=value pairs
// with & using query escaping, so spaces become +. The gateway signs this exact
// byte sequence.
func canonicalQuery(params map[string]string) string {
	type pair struct {
		encodedKey   string
		encodedValue string
	}
	pairs := make([]pair, 0, len(params))
	for key, value := range params {
		if value == "" {
			continue
		}
		pairs = append(pairs, pair{
			encodedKey:   url.QueryEscape(key),
			encodedValue: url.QueryEscape(value),
		})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].encodedKey < pairs[j].encodedKey })

	var sb strings.Builder
	for i, p := range pairs {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(p.encodedKey)
		sb.WriteByte('=')
		sb.WriteString(p.encodedValue)
	}
	return sb.String()
}
