package collection

import (
	"github.com/smallbiznis/billingschedule/internal/collection/repository"
	"github.com/smallbiznis/billingschedule/internal/collection/service"
	"go.uber.org/fx"
)

var Module = fx.Module("collection.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
