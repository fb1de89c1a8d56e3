package invoice

import (
	"github.com/smallbiznis/billingschedule/internal/invoice/numbering"
	"github.com/smallbiznis/billingschedule/internal/invoice/repository"
	"github.com/smallbiznis/billingschedule/internal/invoice/service"
	"go.uber.org/fx"
)

var Module = fx.Module("invoice.service",
	fx.Provide(repository.Provide),
	fx.Provide(numbering.NewSequencer),
	fx.Provide(service.NewService),
)
