// Package app assembles the full client stack as one fx module. Embedders
// add it to their own fx application and depend on facade.Facade.
package app

import (
	"context"
	"time"

	tally "github.com/uber-go/tally/v4"
	"go.uber.org/fx"

	"github.com/jaredhancock31/multilspy/src/multilspy/facade"
	"github.com/jaredhancock31/multilspy/src/multilspy/internal/core"
	"github.com/jaredhancock31/multilspy/src/multilspy/internal/proc"
	repository "github.com/jaredhancock31/multilspy/src/multilspy/repository/session"
	"github.com/jaredhancock31/multilspy/src/multilspy/session"
)

// Module defines the multilspy application module.
var Module = fx.Options(
	core.ConfigModule,
	core.LoggerModule,
	proc.Module,
	session.Module,
	repository.Module,
	facade.Module,
	fx.Provide(func(lc fx.Lifecycle) tally.Scope {
		rs, closer := tally.NewRootScope(tally.ScopeOptions{
			Tags: map[string]string{
				"service": "multilspy",
			},
		}, 1*time.Second)

		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return closer.Close()
			},
		})

		return rs
	}),
)
