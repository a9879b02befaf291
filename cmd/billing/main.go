package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/postloop/billing/internal/clock"
	"github.com/postloop/billing/internal/config"
	"github.com/postloop/billing/internal/dunning"
	"github.com/postloop/billing/internal/migration"
	"github.com/postloop/billing/internal/notification"
	"github.com/postloop/billing/internal/observability"
	"github.com/postloop/billing/internal/processor"
	"github.com/postloop/billing/internal/providers/email"
	"github.com/postloop/billing/internal/scheduler"
	"github.com/postloop/billing/internal/server"
	"github.com/postloop/billing/internal/subscriber"
	"github.com/postloop/billing/internal/webhook"
	"github.com/postloop/billing/pkg/db"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Functional domains
		subscriber.Module,
		processor.Module,
		email.Module,
		notification.Module,
		dunning.Module,
		webhook.Module,
		scheduler.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
