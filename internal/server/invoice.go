package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/billingschedule/internal/providers/pdf"
	"go.uber.org/zap"
)

func (s *Server) MaterializeScheduledInvoice(c *gin.Context) {
	entryID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	invoice, err := s.invoiceSvc.Materialize(c.Request.Context(), entryID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

func (s *Server) GetInvoiceByID(c *gin.Context) {
	invoiceID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	invoice, err := s.invoiceSvc.GetByID(ctx, invoiceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	lines, err := s.invoiceSvc.ListLineItems(ctx, invoiceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoice, "line_items": lines})
}

func (s *Server) DownloadInvoicePDF(c *gin.Context) {
	invoiceID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	invoice, err := s.invoiceSvc.GetByID(ctx, invoiceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	lines, err := s.invoiceSvc.ListLineItems(ctx, invoiceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	doc, err := s.pdf.RenderInvoice(ctx, pdf.InvoiceDocument{Invoice: *invoice, Lines: lines})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+pdf.FileName(invoice.Number)+`"`)
	c.Data(http.StatusOK, "application/pdf", doc)
}

func (s *Server) ConvertInvoice(c *gin.Context) {
	invoiceID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	invoice, err := s.conversionSvc.ConvertToTax(c.Request.Context(), invoiceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

// NotifyPayment is called by the payment processor after it records a
// payment. Conversion problems never fail the call.
func (s *Server) NotifyPayment(c *gin.Context) {
	paymentID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	payment, err := s.payments.FindByID(ctx, s.db, paymentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if payment == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	s.conversionSvc.OnPayment(ctx, *payment)
	s.log.Debug("payment.notified", zap.String("payment_id", payment.ID.String()))

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}
