package handler

import (
	"time"

	"github.com/marketplace-escrow/internal/domain/payment"
)

// CreateChargeRequest represents a request to charge a booking. Amounts are
// decimal strings; binary floating point never crosses the API boundary.
type CreateChargeRequest struct {
	BookingID   string `json:"booking_id" binding:"required,uuid"`
	PayerID     string `json:"payer_id" binding:"required,uuid"`
	PayeeID     string `json:"payee_id" binding:"required,uuid"`
	Amount      string `json:"amount" binding:"required"`
	Currency    string `json:"currency" binding:"required,len=3"`
	Method      string `json:"method" binding:"required"`
	ServiceType string `json:"service_type,omitempty"`
	Token       string `json:"token,omitempty"`
	CustomerID  string `json:"customer_id,omitempty"`
	SavedCardID string `json:"saved_card_id,omitempty"`
	Description string `json:"description,omitempty"`
	RedirectURL string `json:"redirect_url,omitempty"`
}

// TransactionResponse represents a payment transaction in API responses
type TransactionResponse struct {
	ID               string `json:"id"`
	BookingID        string `json:"booking_id"`
	PayerID          string `json:"payer_id"`
	PayeeID          string `json:"payee_id"`
	Amount           string `json:"amount"`
	GatewayFee       string `json:"gateway_fee"`
	HeldAmount       string `json:"held_amount"`
	Currency         string `json:"currency"`
	Method           string `json:"method"`
	ServiceType      string `json:"service_type,omitempty"`
	SettlementStatus string `json:"settlement_status"`
	ProviderAmount   string `json:"provider_amount"`
	CustomerAmount   string `json:"customer_amount"`
	ProcessedBy      string `json:"processed_by,omitempty"`
	AdminRemarks     string `json:"admin_remarks,omitempty"`
	FailureReason    string `json:"failure_reason,omitempty"`
	RedirectURL      string `json:"redirect_url,omitempty"`
	ReleasedAt       string `json:"released_at,omitempty"`
	RefundedAt       string `json:"refunded_at,omitempty"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
}

// RefundRequest represents an admin refund action
type RefundRequest struct {
	Remarks string `json:"remarks,omitempty"`
}

// RejectRequest represents an admin dispute rejection; remarks are mandatory
type RejectRequest struct {
	Remarks string `json:"remarks" binding:"required"`
}

// PartialSettleRequest represents an admin partial settlement. Exactly one of
// the two forms must be supplied: explicit amounts (either side may be
// omitted and is complemented from the held amount), or a provider
// percentage.
type PartialSettleRequest struct {
	ProviderAmount *string `json:"provider_amount,omitempty"`
	CustomerAmount *string `json:"customer_amount,omitempty"`
	Percentage     *string `json:"percentage,omitempty"`
	Remarks        string  `json:"remarks" binding:"required"`
}

// PendingListParams represents query parameters for the pending settlements listing
type PendingListParams struct {
	Page        int    `form:"page,default=1" binding:"min=1"`
	PerPage     int    `form:"per_page,default=20" binding:"min=1,max=100"`
	PayeeID     string `form:"payee_id" binding:"omitempty,uuid"`
	ServiceType string `form:"service_type"`
	From        string `form:"from" binding:"omitempty"`
	To          string `form:"to" binding:"omitempty"`
}

// mapTransactionToResponse converts a ledger row into its API shape
func mapTransactionToResponse(txn *payment.Transaction) TransactionResponse {
	resp := TransactionResponse{
		ID:               txn.ID.String(),
		BookingID:        txn.BookingID.String(),
		PayerID:          txn.PayerID.String(),
		PayeeID:          txn.PayeeID.String(),
		Amount:           txn.Amount.StringFixed(3),
		GatewayFee:       txn.GatewayFee.StringFixed(3),
		HeldAmount:       txn.HeldAmount.StringFixed(3),
		Currency:         txn.Currency,
		Method:           string(txn.Method),
		ServiceType:      txn.ServiceType,
		SettlementStatus: string(txn.SettlementStatus),
		ProviderAmount:   txn.ProviderAmount.StringFixed(3),
		CustomerAmount:   txn.CustomerAmount.StringFixed(3),
		ProcessedBy:      txn.ProcessedBy,
		AdminRemarks:     txn.AdminRemarks,
		FailureReason:    txn.FailureReason,
		CreatedAt:        txn.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        txn.UpdatedAt.Format(time.RFC3339),
	}
	if txn.ReleasedAt != nil {
		resp.ReleasedAt = txn.ReleasedAt.Format(time.RFC3339)
	}
	if txn.RefundedAt != nil {
		resp.RefundedAt = txn.RefundedAt.Format(time.RFC3339)
	}
	return resp
}
