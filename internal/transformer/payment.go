package transformer

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	PaymentName      = "payment"
	paymentProcessor = "payment-orchestrator"
)

var (
	approvalThreshold = decimal.NewFromInt(10000)
	processingFeeRate = decimal.RequireFromString("0.029")
)

// Payment validates payment instructions and enriches them with processing metadata
type Payment struct {
	now func() time.Time
}

// NewPayment creates a payment transformer
func NewPayment() *Payment {
	return &Payment{now: time.Now}
}

func (p *Payment) Name() string { return PaymentName }

func (p *Payment) IsValidMessage(payload string) bool {
	return isNotBlank(payload)
}

// Transform requires amount, currency and accountId, and rejects non-positive amounts
func (p *Payment) Transform(payload string) (string, error) {
	if !p.IsValidMessage(payload) {
		return "", reject("Empty message")
	}
	if !gjson.Valid(payload) || !gjson.Parse(payload).IsObject() {
		return "", reject("Invalid payment format")
	}

	fields := gjson.GetMany(payload, "amount", "currency", "accountId")
	amountField, currency, accountID := fields[0], fields[1], fields[2]
	if !amountField.Exists() || currency.String() == "" || accountID.String() == "" {
		return "", reject("Missing required fields")
	}

	amount, err := parseAmount(amountField)
	if err != nil || !amount.IsPositive() {
		return "", reject("Invalid amount")
	}

	out := `{"payment_processed":true}`
	set := []struct {
		path  string
		value any
	}{
		{"processor", paymentProcessor},
		{"processed_at", p.now().UnixMilli()},
		{"accountId", accountID.String()},
		{"currency", currency.String()},
		{"formattedAmount", amount.StringFixed(2)},
		{"processingFee", amount.Mul(processingFeeRate).StringFixed(2)},
		{"approvalThreshold", approvalThreshold.StringFixed(2)},
		{"requiresApproval", amount.GreaterThan(approvalThreshold)},
	}
	for _, f := range set {
		if out, err = sjson.Set(out, f.path, f.value); err != nil {
			return "", err
		}
	}
	return sjson.SetRaw(out, "original_message", payload)
}

func parseAmount(field gjson.Result) (decimal.Decimal, error) {
	if field.Type == gjson.String {
		return decimal.NewFromString(field.Str)
	}
	return decimal.NewFromString(field.Raw)
}
