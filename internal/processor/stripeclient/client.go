package stripeclient

import (
	"context"
	"errors"
	"strings"

	processordomain "github.com/postloop/billing/internal/processor/domain"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"go.uber.org/zap"
)

// Client implements processordomain.Client on top of the Stripe API.
type Client struct {
	api *client.API
	log *zap.Logger
}

func New(apiKey string, log *zap.Logger) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("stripe api key is required")
	}

	api := &client.API{}
	api.Init(apiKey, nil)

	return &Client{
		api: api,
		log: log.Named("processor.stripe"),
	}, nil
}

func (c *Client) GetCustomer(ctx context.Context, customerID string) (*processordomain.Customer, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx

	cust, err := c.api.Customers.Get(customerID, params)
	if err != nil {
		return nil, mapStripeError(err, processordomain.ErrCustomerNotFound)
	}

	out := &processordomain.Customer{
		ID:    cust.ID,
		Email: cust.Email,
	}
	if cust.InvoiceSettings != nil && cust.InvoiceSettings.DefaultPaymentMethod != nil {
		out.DefaultPaymentMethodID = cust.InvoiceSettings.DefaultPaymentMethod.ID
	}
	return out, nil
}

func (c *Client) ListPaymentMethods(ctx context.Context, customerID string, kind string) ([]processordomain.PaymentMethod, error) {
	params := &stripe.PaymentMethodListParams{
		Customer: stripe.String(customerID),
	}
	if kind = strings.TrimSpace(kind); kind != "" {
		params.Type = stripe.String(kind)
	}
	params.Context = ctx

	var methods []processordomain.PaymentMethod
	iter := c.api.PaymentMethods.List(params)
	for iter.Next() {
		pm := iter.PaymentMethod()
		method := processordomain.PaymentMethod{
			ID:   pm.ID,
			Kind: string(pm.Type),
		}
		if pm.Card != nil {
			method.Brand = string(pm.Card.Brand)
			method.Last4 = pm.Card.Last4
		}
		methods = append(methods, method)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return methods, nil
}

func (c *Client) GetPaymentIntent(ctx context.Context, intentID string) (*processordomain.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	intent, err := c.api.PaymentIntents.Get(intentID, params)
	if err != nil {
		return nil, err
	}

	out := &processordomain.PaymentIntent{
		ID:       intent.ID,
		Status:   string(intent.Status),
		Amount:   intent.Amount,
		Currency: string(intent.Currency),
	}
	if intent.Customer != nil {
		out.CustomerID = intent.Customer.ID
	}
	if intent.PaymentMethod != nil {
		out.PaymentMethodID = intent.PaymentMethod.ID
	}
	return out, nil
}

func (c *Client) SetDefaultPaymentMethod(ctx context.Context, customerID string, paymentMethodID string) error {
	params := &stripe.CustomerParams{
		InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(paymentMethodID),
		},
	}
	params.Context = ctx

	_, err := c.api.Customers.Update(customerID, params)
	return err
}

func (c *Client) PayInvoice(ctx context.Context, invoiceID string, paymentMethodID string) (*processordomain.Invoice, error) {
	params := &stripe.InvoicePayParams{}
	if paymentMethodID = strings.TrimSpace(paymentMethodID); paymentMethodID != "" {
		params.PaymentMethod = stripe.String(paymentMethodID)
	}
	params.Context = ctx

	inv, err := c.api.Invoices.Pay(invoiceID, params)
	if err != nil {
		return nil, mapStripeError(err, processordomain.ErrInvoiceNotFound)
	}
	return invoiceFromStripe(inv), nil
}

func (c *Client) CreatePaymentIntent(ctx context.Context, p processordomain.CreateIntentParams) (*processordomain.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(p.Amount),
		Currency: stripe.String(strings.ToLower(p.Currency)),
		Customer: stripe.String(p.CustomerID),
	}
	if p.InvoiceID != "" {
		params.AddMetadata("invoice_id", p.InvoiceID)
	}
	params.AddMetadata("purpose", "dunning_manual_retry")
	params.Context = ctx

	intent, err := c.api.PaymentIntents.New(params)
	if err != nil {
		return nil, err
	}
	return &processordomain.PaymentIntent{
		ID:       intent.ID,
		Status:   string(intent.Status),
		Amount:   intent.Amount,
		Currency: string(intent.Currency),
	}, nil
}

func (c *Client) ListOpenInvoices(ctx context.Context, customerID string) ([]processordomain.Invoice, error) {
	params := &stripe.InvoiceListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String(string(stripe.InvoiceStatusOpen)),
	}
	params.Context = ctx

	var invoices []processordomain.Invoice
	iter := c.api.Invoices.List(params)
	for iter.Next() {
		invoices = append(invoices, *invoiceFromStripe(iter.Invoice()))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return invoices, nil
}

func invoiceFromStripe(inv *stripe.Invoice) *processordomain.Invoice {
	out := &processordomain.Invoice{
		ID:        inv.ID,
		Status:    string(inv.Status),
		AmountDue: inv.AmountDue,
		Currency:  strings.ToUpper(string(inv.Currency)),
	}
	if inv.Customer != nil {
		out.CustomerID = inv.Customer.ID
	}
	return out
}

// mapStripeError converts card declines and missing resources into domain
// errors; everything else passes through for the caller to log.
func mapStripeError(err error, notFound error) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return err
	}
	switch stripeErr.Type {
	case stripe.ErrorTypeCard:
		return processordomain.ErrPaymentDeclined
	case stripe.ErrorTypeInvalidRequest:
		if stripeErr.HTTPStatusCode == 404 {
			return notFound
		}
	}
	return err
}
