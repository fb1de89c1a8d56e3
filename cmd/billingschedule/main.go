package main

import (
	"fmt"
	"os"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingschedule/internal/cache"
	"github.com/smallbiznis/billingschedule/internal/clock"
	"github.com/smallbiznis/billingschedule/internal/collection"
	"github.com/smallbiznis/billingschedule/internal/config"
	"github.com/smallbiznis/billingschedule/internal/contract"
	"github.com/smallbiznis/billingschedule/internal/conversion"
	"github.com/smallbiznis/billingschedule/internal/invoice"
	"github.com/smallbiznis/billingschedule/internal/migration"
	"github.com/smallbiznis/billingschedule/internal/observability"
	"github.com/smallbiznis/billingschedule/internal/payment"
	"github.com/smallbiznis/billingschedule/internal/schedule"
	"github.com/smallbiznis/billingschedule/internal/scheduler"
	"github.com/smallbiznis/billingschedule/internal/server"
	"github.com/smallbiznis/billingschedule/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	// hash-key prints the OPS_API_KEY_HASH value for an operator key.
	if len(os.Args) == 3 && os.Args[1] == "hash-key" {
		hash, err := server.HashAPIKey(os.Args[2])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	app := fx.New(
		config.Module,
		observability.Module,
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		cache.Module,

		contract.Module,
		payment.Module,
		schedule.Module,
		invoice.Module,
		conversion.Module,
		collection.Module,

		scheduler.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
