package pdf

import (
	"context"

	"github.com/smallbiznis/billingschedule/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("pdf",
	fx.Provide(NewFromConfig),
)

// Renderer turns an issued invoice into a printable document.
type Renderer interface {
	RenderInvoice(ctx context.Context, doc InvoiceDocument) ([]byte, error)
}

func NewFromConfig(cfg config.Config) Renderer {
	return New(cfg.InvoiceIssuerName)
}
