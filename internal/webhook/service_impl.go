package webhook

import (
	"context"
	"errors"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/postloop/billing/internal/clock"
	dunningdomain "github.com/postloop/billing/internal/dunning/domain"
	obsmetrics "github.com/postloop/billing/internal/observability/metrics"
	"github.com/postloop/billing/internal/webhook/domain"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Node       *snowflake.Node
	Verifier   domain.Verifier
	Parser     domain.Parser
	Dunning    dunningdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Service is the webhook ingress pipeline: verify, parse, record, dispatch.
// Verification failures and malformed payloads are the caller's to map to
// status codes; everything past the ledger insert is swallowed so the
// provider sees a success and stops redelivering.
type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	node       *snowflake.Node
	verifier   domain.Verifier
	parser     domain.Parser
	dunning    dunningdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("webhook"),
		clock:      p.Clock,
		node:       p.Node,
		verifier:   p.Verifier,
		parser:     p.Parser,
		dunning:    p.Dunning,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) IngestWebhook(ctx context.Context, payload []byte, headers http.Header) error {
	if err := s.verifier.Verify(ctx, payload, headers); err != nil {
		s.log.Warn("webhook signature rejected", zap.Error(err))
		return domain.ErrInvalidSignature
	}

	event, err := s.parser.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, domain.ErrEventIgnored) {
			s.log.Debug("ignoring unhandled event type")
		}
		return err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordWebhookEvent(ctx, event.Provider, string(event.Kind))
	}

	record, err := s.recordEvent(ctx, event)
	if err != nil {
		// The ledger insert is the one step whose failure must surface: a
		// 500 makes the provider redeliver rather than lose the event.
		return err
	}

	if err := s.dunning.ProcessEvent(ctx, event); err != nil {
		s.log.Error("event processing failed",
			zap.String("provider_event_id", event.ProviderEventID),
			zap.String("kind", string(event.Kind)),
			zap.Error(err),
		)
		return nil
	}

	s.markProcessed(ctx, record)
	return nil
}

// recordEvent appends the delivery to the ledger. The (provider, event id)
// unique key collapses redeliveries to one row; the duplicate is still
// dispatched, since every handler is idempotent.
func (s *Service) recordEvent(ctx context.Context, event *domain.PaymentEvent) (*domain.EventRecord, error) {
	record := &domain.EventRecord{
		ID:                  s.node.Generate(),
		Provider:            event.Provider,
		ProviderEventID:     event.ProviderEventID,
		EventType:           string(event.Kind),
		ProcessorCustomerID: event.CustomerID,
		Payload:             datatypes.JSON(event.RawPayload),
		ReceivedAt:          s.clock.Now(),
	}

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
		DoNothing: true,
	}).Create(record)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		s.log.Info("duplicate webhook delivery",
			zap.String("provider_event_id", event.ProviderEventID),
			zap.String("kind", string(event.Kind)),
		)
	}
	return record, nil
}

func (s *Service) markProcessed(ctx context.Context, record *domain.EventRecord) {
	now := s.clock.Now()
	err := s.db.WithContext(ctx).Exec(
		`UPDATE payment_events SET processed_at = ? WHERE provider = ? AND provider_event_id = ?`,
		now,
		record.Provider,
		record.ProviderEventID,
	).Error
	if err != nil {
		s.log.Warn("marking event processed failed",
			zap.String("provider_event_id", record.ProviderEventID),
			zap.Error(err),
		)
	}
}
