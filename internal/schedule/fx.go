package schedule

import (
	"github.com/smallbiznis/billingschedule/internal/schedule/repository"
	"github.com/smallbiznis/billingschedule/internal/schedule/service"
	"go.uber.org/fx"
)

var Module = fx.Module("schedule.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
