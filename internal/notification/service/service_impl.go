package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/postloop/billing/internal/config"
	"github.com/postloop/billing/internal/notification/domain"
	obsmetrics "github.com/postloop/billing/internal/observability/metrics"
	"github.com/postloop/billing/internal/providers/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Emailer    email.Provider
	Cfg        config.Config
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	emailer    email.Provider
	portalBase string
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Sender {
	return &Service{
		log:        p.Log.Named("notification"),
		emailer:    p.Emailer,
		portalBase: strings.TrimRight(p.Cfg.PortalBaseURL, "/"),
		obsMetrics: p.ObsMetrics,
	}
}

type viewData struct {
	RecipientName    string
	AmountDisplay    string
	InvoiceURL       string
	PlanName         string
	RetryCount       int
	DaysUntilRetry   int
	NextRetryDisplay string
}

func (s *Service) Send(ctx context.Context, msg domain.Message) error {
	to := strings.TrimSpace(msg.RecipientEmail)
	if to == "" {
		s.log.Warn("notification skipped, no recipient", zap.String("kind", string(msg.Kind)))
		return nil
	}

	body, err := render(msg.Kind, s.viewData(msg))
	if err != nil {
		s.recordFailure(ctx, msg.Kind)
		return err
	}

	if err := s.emailer.Send(ctx, []string{to}, subjectFor(msg.Kind), body); err != nil {
		s.recordFailure(ctx, msg.Kind)
		s.log.Warn("notification delivery failed",
			zap.String("kind", string(msg.Kind)),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *Service) viewData(msg domain.Message) viewData {
	data := viewData{
		RecipientName:  displayName(msg),
		AmountDisplay:  formatAmount(msg.Amount, msg.Currency),
		PlanName:       msg.PlanName,
		RetryCount:     msg.RetryCount,
		DaysUntilRetry: msg.DaysUntilRetry,
	}
	if msg.InvoiceID != "" && s.portalBase != "" {
		data.InvoiceURL = fmt.Sprintf("%s/billing/invoices/%s", s.portalBase, msg.InvoiceID)
	}
	if msg.NextRetryAt != nil {
		data.NextRetryDisplay = msg.NextRetryAt.UTC().Format("January 2, 2006")
	}
	return data
}

func (s *Service) recordFailure(ctx context.Context, kind domain.Kind) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordNotificationFailure(ctx, string(kind))
	}
}

func subjectFor(kind domain.Kind) string {
	switch kind {
	case domain.KindPaymentSucceeded:
		return "Your payment went through"
	case domain.KindPaymentFailed:
		return "We couldn't process your payment"
	case domain.KindSubscriptionCreated:
		return "Welcome to Postloop"
	case domain.KindSubscriptionUpdated:
		return "Your subscription was updated"
	case domain.KindSubscriptionCancelled:
		return "Your subscription was cancelled"
	default:
		return "Notification from Postloop"
	}
}

func displayName(msg domain.Message) string {
	name := strings.TrimSpace(msg.RecipientName)
	if name != "" {
		return name
	}
	return "there"
}

func formatAmount(amount int64, currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = "USD"
	}
	return fmt.Sprintf("%s %.2f", currency, float64(amount)/100)
}
