package service

import (
	"context"
	"errors"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/postloop/billing/internal/clock"
	"github.com/postloop/billing/internal/dunning/domain"
	"github.com/postloop/billing/internal/dunning/policy"
	notifdomain "github.com/postloop/billing/internal/notification/domain"
	obsmetrics "github.com/postloop/billing/internal/observability/metrics"
	processordomain "github.com/postloop/billing/internal/processor/domain"
	subscriberdomain "github.com/postloop/billing/internal/subscriber/domain"
	webhookdomain "github.com/postloop/billing/internal/webhook/domain"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	Subscribers subscriberdomain.Repository
	Processor   processordomain.Client
	Notifier    notifdomain.Sender
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

// Service is the dunning orchestrator. Handlers follow a single error
// posture: a missing subscriber is a data-consistency gap (logged, ignored),
// processor and store hiccups are transient (logged, swallowed), and
// notification failures never change billing state.
type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	subscribers subscriberdomain.Repository
	processor   processordomain.Client
	notifier    notifdomain.Sender
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("dunning"),
		clock:       p.Clock,
		subscribers: p.Subscribers,
		processor:   p.Processor,
		notifier:    p.Notifier,
		obsMetrics:  p.ObsMetrics,
	}
}

func (s *Service) ProcessEvent(ctx context.Context, event *webhookdomain.PaymentEvent) error {
	if event == nil {
		return domain.ErrInvalidEvent
	}

	switch event.Kind {
	case webhookdomain.EventInvoicePaymentFailed:
		return s.handleInvoicePaymentFailed(ctx, event)
	case webhookdomain.EventPaymentMethodAttached:
		return s.handlePaymentMethodAttached(ctx, event)
	case webhookdomain.EventInvoicePaymentSucceeded:
		return s.handleInvoicePaymentSucceeded(ctx, event)
	case webhookdomain.EventSubscriptionCreated:
		return s.handleSubscriptionEvent(ctx, event, notifdomain.KindSubscriptionCreated)
	case webhookdomain.EventSubscriptionUpdated:
		return s.handleSubscriptionEvent(ctx, event, notifdomain.KindSubscriptionUpdated)
	case webhookdomain.EventSubscriptionDeleted:
		return s.handleSubscriptionEvent(ctx, event, notifdomain.KindSubscriptionCancelled)
	default:
		s.log.Debug("ignoring event kind", zap.String("kind", string(event.Kind)))
		return nil
	}
}

// handleInvoicePaymentFailed first tries to settle the invoice immediately
// with a stored card other than the one that just failed. Only when no
// alternate exists or the charge declines does it fall back to scheduling a
// backoff retry.
func (s *Service) handleInvoicePaymentFailed(ctx context.Context, event *webhookdomain.PaymentEvent) error {
	sub, ok := s.resolveSubscriber(ctx, event)
	if !ok {
		return nil
	}

	if s.tryAlternateMethod(ctx, sub, event) {
		return nil
	}

	s.scheduleRetry(ctx, sub, event)
	return nil
}

// tryAlternateMethod reports whether the invoice was recovered. Any failure
// along the way is logged and treated as "not recovered".
func (s *Service) tryAlternateMethod(ctx context.Context, sub *subscriberdomain.Subscriber, event *webhookdomain.PaymentEvent) bool {
	if event.InvoiceID == "" {
		return false
	}

	failedMethodID := s.failedMethodID(ctx, event)

	methods, err := s.processor.ListPaymentMethods(ctx, event.CustomerID, processordomain.PaymentMethodKindCard)
	if err != nil {
		s.log.Warn("listing payment methods failed",
			zap.String("customer_id", event.CustomerID),
			zap.Error(err),
		)
		return false
	}

	var alternate string
	for _, method := range methods {
		if method.ID != failedMethodID {
			alternate = method.ID
			break
		}
	}
	if alternate == "" {
		s.log.Info("no alternate payment method on file",
			zap.String("customer_id", event.CustomerID),
			zap.Int("stored_methods", len(methods)),
		)
		return false
	}

	if err := s.processor.SetDefaultPaymentMethod(ctx, event.CustomerID, alternate); err != nil {
		s.log.Warn("setting default payment method failed",
			zap.String("customer_id", event.CustomerID),
			zap.Error(err),
		)
		return false
	}

	invoice, err := s.processor.PayInvoice(ctx, event.InvoiceID, alternate)
	if err != nil || invoice.Status != processordomain.InvoiceStatusPaid {
		s.log.Info("alternate method charge did not settle",
			zap.String("customer_id", event.CustomerID),
			zap.String("invoice_id", event.InvoiceID),
			zap.Error(err),
		)
		return false
	}

	s.log.Info("invoice recovered with alternate payment method",
		zap.String("customer_id", event.CustomerID),
		zap.String("invoice_id", event.InvoiceID),
	)
	s.clearRetryState(ctx, sub, domain.RecoveryPathAlternateMethod)
	s.notify(ctx, sub, notifdomain.Message{
		Kind:      notifdomain.KindPaymentSucceeded,
		Amount:    event.AmountDue,
		Currency:  event.Currency,
		InvoiceID: event.InvoiceID,
		PlanName:  planNameFor(sub, event),
	})
	return true
}

// failedMethodID resolves which stored method just declined, so the alternate
// picker can skip it. Best effort: an empty result means every stored card is
// a candidate.
func (s *Service) failedMethodID(ctx context.Context, event *webhookdomain.PaymentEvent) string {
	if event.PaymentMethodID != "" {
		return event.PaymentMethodID
	}
	if event.PaymentIntentID == "" {
		return ""
	}
	intent, err := s.processor.GetPaymentIntent(ctx, event.PaymentIntentID)
	if err != nil {
		s.log.Debug("failed payment intent lookup",
			zap.String("payment_intent_id", event.PaymentIntentID),
			zap.Error(err),
		)
		return ""
	}
	return intent.PaymentMethodID
}

// scheduleRetry increments the retry count, computes the next attempt date
// from the backoff schedule, and records it conditionally on the retry count
// read earlier. A conditional miss means a concurrent delivery for the same
// subscriber already scheduled (or cleared) a retry; this delivery stops
// without a second notification.
func (s *Service) scheduleRetry(ctx context.Context, sub *subscriberdomain.Subscriber, event *webhookdomain.PaymentEvent) {
	retryCount := sub.RetryCount + 1
	days := policy.DaysUntilNextRetry(retryCount)
	nextRetryAt := policy.NextRetryAt(s.clock.Now(), retryCount)

	applied, err := s.subscribers.UpdateRetryState(ctx, s.db, sub.ID, sub.RetryCount, retryCount, &nextRetryAt)
	if err != nil {
		s.log.Error("recording retry state failed",
			zap.String("customer_id", sub.ProcessorCustomerID),
			zap.Error(err),
		)
		return
	}
	if !applied {
		s.log.Info("retry state changed concurrently, skipping",
			zap.String("customer_id", sub.ProcessorCustomerID),
			zap.Int("read_retry_count", sub.RetryCount),
		)
		return
	}

	if event.InvoiceID != "" && event.AmountDue > 0 {
		_, err := s.processor.CreatePaymentIntent(ctx, processordomain.CreateIntentParams{
			CustomerID: sub.ProcessorCustomerID,
			Amount:     event.AmountDue,
			Currency:   event.Currency,
			InvoiceID:  event.InvoiceID,
		})
		if err != nil {
			s.log.Warn("creating retry payment intent failed",
				zap.String("customer_id", sub.ProcessorCustomerID),
				zap.String("invoice_id", event.InvoiceID),
				zap.Error(err),
			)
		}
	}

	s.log.Info("payment retry scheduled",
		zap.String("customer_id", sub.ProcessorCustomerID),
		zap.Int("retry_count", retryCount),
		zap.Int("days_until_retry", days),
		zap.Time("next_retry_at", nextRetryAt),
	)
	if s.obsMetrics != nil {
		s.obsMetrics.RecordDunningRetryScheduled(ctx)
	}

	s.notify(ctx, sub, notifdomain.Message{
		Kind:           notifdomain.KindPaymentFailed,
		Amount:         event.AmountDue,
		Currency:       event.Currency,
		InvoiceID:      event.InvoiceID,
		PlanName:       planNameFor(sub, event),
		RetryCount:     retryCount,
		NextRetryAt:    &nextRetryAt,
		DaysUntilRetry: days,
	})
}

// handlePaymentMethodAttached settles outstanding invoices opportunistically
// when a subscriber with a scheduled retry adds a new card. Without a pending
// retry the event is a no-op.
func (s *Service) handlePaymentMethodAttached(ctx context.Context, event *webhookdomain.PaymentEvent) error {
	if event.PaymentMethodKind != "" && event.PaymentMethodKind != processordomain.PaymentMethodKindCard {
		return nil
	}

	sub, ok := s.resolveSubscriber(ctx, event)
	if !ok {
		return nil
	}
	if sub.NextRetryAt == nil {
		s.log.Debug("payment method attached with no retry pending",
			zap.String("customer_id", sub.ProcessorCustomerID),
		)
		return nil
	}

	invoices, err := s.processor.ListOpenInvoices(ctx, sub.ProcessorCustomerID)
	if err != nil {
		s.log.Warn("listing open invoices failed",
			zap.String("customer_id", sub.ProcessorCustomerID),
			zap.Error(err),
		)
		return nil
	}
	if len(invoices) == 0 {
		// Retry is pending but nothing is collectible; the processor already
		// settled or voided the invoice. Clear the schedule.
		s.clearRetryState(ctx, sub, domain.RecoveryPathInvoicePaid)
		return nil
	}

	invoice := invoices[0]
	paid, err := s.processor.PayInvoice(ctx, invoice.ID, event.PaymentMethodID)
	if err != nil || paid.Status != processordomain.InvoiceStatusPaid {
		s.log.Info("charge on newly attached method did not settle",
			zap.String("customer_id", sub.ProcessorCustomerID),
			zap.String("invoice_id", invoice.ID),
			zap.Error(err),
		)
		return nil
	}

	s.log.Info("invoice recovered with newly attached method",
		zap.String("customer_id", sub.ProcessorCustomerID),
		zap.String("invoice_id", invoice.ID),
	)
	s.clearRetryState(ctx, sub, domain.RecoveryPathMethodAttached)
	s.notify(ctx, sub, notifdomain.Message{
		Kind:      notifdomain.KindPaymentSucceeded,
		Amount:    invoice.AmountDue,
		Currency:  invoice.Currency,
		InvoiceID: invoice.ID,
		PlanName:  sub.PlanName,
	})
	return nil
}

// handleInvoicePaymentSucceeded clears any pending retry unconditionally.
// Reprocessing a duplicate delivery re-clears an already clear state and
// sends another benign confirmation.
func (s *Service) handleInvoicePaymentSucceeded(ctx context.Context, event *webhookdomain.PaymentEvent) error {
	sub, ok := s.resolveSubscriber(ctx, event)
	if !ok {
		return nil
	}

	hadRetryPending := sub.NextRetryAt != nil
	if err := s.subscribers.ResetRetryState(ctx, s.db, sub.ID); err != nil {
		s.log.Error("clearing retry state failed",
			zap.String("customer_id", sub.ProcessorCustomerID),
			zap.Error(err),
		)
		return nil
	}
	if hadRetryPending {
		s.log.Info("pending retry cleared by successful payment",
			zap.String("customer_id", sub.ProcessorCustomerID),
		)
		if s.obsMetrics != nil {
			s.obsMetrics.RecordDunningRecovery(ctx, domain.RecoveryPathInvoicePaid)
		}
	}

	s.notify(ctx, sub, notifdomain.Message{
		Kind:      notifdomain.KindPaymentSucceeded,
		Amount:    event.AmountDue,
		Currency:  event.Currency,
		InvoiceID: event.InvoiceID,
		PlanName:  planNameFor(sub, event),
	})
	return nil
}

// handleSubscriptionEvent sends the lifecycle notification. Subscription
// events never touch retry state.
func (s *Service) handleSubscriptionEvent(ctx context.Context, event *webhookdomain.PaymentEvent, kind notifdomain.Kind) error {
	sub, ok := s.resolveSubscriber(ctx, event)
	if !ok {
		return nil
	}

	s.notify(ctx, sub, notifdomain.Message{
		Kind:     kind,
		PlanName: planNameFor(sub, event),
	})
	return nil
}

// RunDueRetries settles subscribers whose scheduled retry has come due,
// charging their default payment method. Failures reschedule with the next
// backoff step.
func (s *Service) RunDueRetries(ctx context.Context, batchSize int) (int, error) {
	now := s.clock.Now()
	due, err := s.subscribers.ListDueRetries(ctx, s.db, now, batchSize)
	if err != nil {
		return 0, err
	}

	for i := range due {
		s.runDueRetry(ctx, &due[i])
	}
	return len(due), nil
}

func (s *Service) runDueRetry(ctx context.Context, sub *subscriberdomain.Subscriber) {
	log := s.log.With(
		zap.String("customer_id", sub.ProcessorCustomerID),
		zap.Int("retry_count", sub.RetryCount),
	)

	invoices, err := s.processor.ListOpenInvoices(ctx, sub.ProcessorCustomerID)
	if err != nil {
		log.Warn("listing open invoices failed", zap.Error(err))
		return
	}
	if len(invoices) == 0 {
		log.Info("no open invoice at scheduled retry, clearing")
		s.clearRetryState(ctx, sub, domain.RecoveryPathInvoicePaid)
		return
	}

	invoice := invoices[0]
	paid, err := s.processor.PayInvoice(ctx, invoice.ID, "")
	if err == nil && paid.Status == processordomain.InvoiceStatusPaid {
		log.Info("scheduled retry settled invoice", zap.String("invoice_id", invoice.ID))
		s.clearRetryState(ctx, sub, domain.RecoveryPathScheduledRetry)
		s.notify(ctx, sub, notifdomain.Message{
			Kind:      notifdomain.KindPaymentSucceeded,
			Amount:    invoice.AmountDue,
			Currency:  invoice.Currency,
			InvoiceID: invoice.ID,
			PlanName:  sub.PlanName,
		})
		return
	}

	retryCount := sub.RetryCount + 1
	days := policy.DaysUntilNextRetry(retryCount)
	nextRetryAt := policy.NextRetryAt(s.clock.Now(), retryCount)

	applied, updateErr := s.subscribers.UpdateRetryState(ctx, s.db, sub.ID, sub.RetryCount, retryCount, &nextRetryAt)
	if updateErr != nil {
		log.Error("recording retry state failed", zap.Error(updateErr))
		return
	}
	if !applied {
		log.Info("retry state changed concurrently, skipping")
		return
	}

	log.Info("scheduled retry declined, rescheduled",
		zap.String("invoice_id", invoice.ID),
		zap.Int("next_retry_count", retryCount),
		zap.Time("next_retry_at", nextRetryAt),
		zap.Error(err),
	)
	if s.obsMetrics != nil {
		s.obsMetrics.RecordDunningRetryScheduled(ctx)
	}

	s.notify(ctx, sub, notifdomain.Message{
		Kind:           notifdomain.KindPaymentFailed,
		Amount:         invoice.AmountDue,
		Currency:       invoice.Currency,
		InvoiceID:      invoice.ID,
		PlanName:       sub.PlanName,
		RetryCount:     retryCount,
		NextRetryAt:    &nextRetryAt,
		DaysUntilRetry: days,
	})
}

// resolveSubscriber maps processor identifiers to the local record, trying
// the customer ID first and the subscription ID second. A miss is a
// data-consistency gap between the processor and this store; the event is
// logged and dropped.
func (s *Service) resolveSubscriber(ctx context.Context, event *webhookdomain.PaymentEvent) (*subscriberdomain.Subscriber, bool) {
	if event.CustomerID != "" {
		sub, err := s.subscribers.FindByProcessorCustomerID(ctx, s.db, event.CustomerID)
		if err == nil {
			return sub, true
		}
		if !errors.Is(err, subscriberdomain.ErrNotFound) {
			s.log.Error("subscriber lookup failed",
				zap.String("customer_id", event.CustomerID),
				zap.Error(err),
			)
			return nil, false
		}
	}
	if event.SubscriptionID != "" {
		sub, err := s.subscribers.FindBySubscriptionID(ctx, s.db, event.SubscriptionID)
		if err == nil {
			return sub, true
		}
		if !errors.Is(err, subscriberdomain.ErrNotFound) {
			s.log.Error("subscriber lookup failed",
				zap.String("subscription_id", event.SubscriptionID),
				zap.Error(err),
			)
			return nil, false
		}
	}

	s.log.Warn("event references unknown subscriber",
		zap.String("kind", string(event.Kind)),
		zap.String("customer_id", event.CustomerID),
		zap.String("subscription_id", event.SubscriptionID),
	)
	return nil, false
}

func (s *Service) clearRetryState(ctx context.Context, sub *subscriberdomain.Subscriber, recoveryPath string) {
	if err := s.subscribers.ResetRetryState(ctx, s.db, sub.ID); err != nil {
		s.log.Error("clearing retry state failed",
			zap.String("customer_id", sub.ProcessorCustomerID),
			zap.Error(err),
		)
		return
	}
	if s.obsMetrics != nil {
		s.obsMetrics.RecordDunningRecovery(ctx, recoveryPath)
	}
}

// notify fills in recipient fields and sends. Delivery problems are already
// logged by the sender and must not surface to the webhook handler.
func (s *Service) notify(ctx context.Context, sub *subscriberdomain.Subscriber, msg notifdomain.Message) {
	msg.RecipientEmail = sub.Email
	msg.RecipientName = sub.Name
	_ = s.notifier.Send(ctx, msg)
}

func planNameFor(sub *subscriberdomain.Subscriber, event *webhookdomain.PaymentEvent) string {
	if event.PlanName != "" {
		return event.PlanName
	}
	return sub.PlanName
}
