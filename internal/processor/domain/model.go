package domain

import (
	"context"
	"errors"
)

// Customer is the processor-side account record.
type Customer struct {
	ID                     string
	Email                  string
	DefaultPaymentMethodID string
}

// PaymentMethod is a stored payment instrument on the processor side.
type PaymentMethod struct {
	ID    string
	Kind  string
	Brand string
	Last4 string
}

// Invoice is a processor-side invoice.
type Invoice struct {
	ID         string
	CustomerID string
	Status     string
	AmountDue  int64
	Currency   string
}

// PaymentIntent is a processor-side collection attempt.
type PaymentIntent struct {
	ID              string
	CustomerID      string
	Status          string
	Amount          int64
	Currency        string
	PaymentMethodID string
}

// CreateIntentParams describes a placeholder intent for manual retry tracking.
type CreateIntentParams struct {
	CustomerID string
	Amount     int64
	Currency   string
	InvoiceID  string
}

const (
	PaymentMethodKindCard = "card"

	InvoiceStatusOpen = "open"
	InvoiceStatusPaid = "paid"
)

var (
	ErrCustomerNotFound = errors.New("processor_customer_not_found")
	ErrInvoiceNotFound  = errors.New("processor_invoice_not_found")
	ErrPaymentDeclined  = errors.New("processor_payment_declined")
)

// Client is the payment-processor surface the orchestrator consumes. The
// processor is the source of truth for money movement; its invoice-pay
// operation is idempotent per invoice.
type Client interface {
	GetCustomer(ctx context.Context, customerID string) (*Customer, error)
	ListPaymentMethods(ctx context.Context, customerID string, kind string) ([]PaymentMethod, error)
	GetPaymentIntent(ctx context.Context, intentID string) (*PaymentIntent, error)
	SetDefaultPaymentMethod(ctx context.Context, customerID string, paymentMethodID string) error

	// PayInvoice charges the invoice with the given method; an empty
	// paymentMethodID uses the customer's default.
	PayInvoice(ctx context.Context, invoiceID string, paymentMethodID string) (*Invoice, error)

	CreatePaymentIntent(ctx context.Context, params CreateIntentParams) (*PaymentIntent, error)
	ListOpenInvoices(ctx context.Context, customerID string) ([]Invoice, error)
}
