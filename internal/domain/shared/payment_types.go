package shared

import "errors"

var (
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	ErrInvalidCurrency      = errors.New("invalid currency")
)

// PaymentMethod defines the payment instruments accepted at charge time
type PaymentMethod string

const (
	PaymentMethodCard       PaymentMethod = "card"
	PaymentMethodApplePay   PaymentMethod = "apple_pay"
	PaymentMethodGooglePay  PaymentMethod = "google_pay"
	PaymentMethodBenefit    PaymentMethod = "benefit"
	PaymentMethodBenefitPay PaymentMethod = "benefitpay"
)

// ParsePaymentMethod validates and converts a raw method string
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	switch PaymentMethod(raw) {
	case PaymentMethodCard, PaymentMethodApplePay, PaymentMethodGooglePay,
		PaymentMethodBenefit, PaymentMethodBenefitPay:
		return PaymentMethod(raw), nil
	}
	return "", ErrInvalidPaymentMethod
}
