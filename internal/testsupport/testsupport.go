// Package testsupport opens migrated in-memory databases and seeds the
// records the billing services read from outside their own tables.
package testsupport

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	contractdomain "github.com/smallbiznis/billingschedule/internal/contract/domain"
	invoicedomain "github.com/smallbiznis/billingschedule/internal/invoice/domain"
	"github.com/smallbiznis/billingschedule/internal/migration"
	paymentdomain "github.com/smallbiznis/billingschedule/internal/payment/domain"
	scheduledomain "github.com/smallbiznis/billingschedule/internal/schedule/domain"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

// OpenDB returns a private shared-cache sqlite database with the full schema.
// A single connection keeps nested reads and transactions on one handle.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, dbSeq.Add(1))

	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, migration.Migrate(conn))
	return conn
}

// Day returns midnight UTC of the given date.
func Day(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func Ptr[T any](v T) *T { return &v }

// Seeder writes fixture rows with generated IDs.
type Seeder struct {
	t    *testing.T
	db   *gorm.DB
	Node *snowflake.Node
}

func NewSeeder(t *testing.T, db *gorm.DB) *Seeder {
	t.Helper()
	node, err := snowflake.NewNode(7)
	require.NoError(t, err)
	return &Seeder{t: t, db: db, Node: node}
}

func (s *Seeder) create(v any) {
	s.t.Helper()
	require.NoError(s.t, s.db.Create(v).Error)
}

// Contract seeds a contract. The callback may adjust fields before insert.
func (s *Seeder) Contract(funder contractdomain.FunderType, value string, mutate ...func(*contractdomain.Contract)) contractdomain.Contract {
	s.t.Helper()
	id := s.Node.Generate()
	c := contractdomain.Contract{
		ID:            id,
		Reference:     "TP-" + id.String()[len(id.String())-4:],
		Title:         "Skills Programme",
		FunderType:    funder,
		ClientName:    "Acme Training Client",
		ContractValue: decimal.RequireFromString(value),
		CreatedAt:     Day(2023, time.December, 1),
	}
	for _, fn := range mutate {
		fn(&c)
	}
	s.create(&c)
	return c
}

func (s *Seeder) CorporateClient(name, email string) contractdomain.CorporateClient {
	s.t.Helper()
	c := contractdomain.CorporateClient{
		ID:           s.Node.Generate(),
		Name:         name,
		BillingEmail: email,
		IsActive:     true,
	}
	s.create(&c)
	return c
}

func (s *Seeder) Learner(cohortID snowflake.ID, name, email string, enrolledAt time.Time) contractdomain.CohortLearner {
	s.t.Helper()
	l := contractdomain.CohortLearner{
		ID:         s.Node.Generate(),
		CohortID:   cohortID,
		LearnerID:  s.Node.Generate(),
		Name:       name,
		Email:      email,
		EnrolledAt: enrolledAt,
	}
	s.create(&l)
	return l
}

func (s *Seeder) Deliverable(contractID snowflake.ID, title string, status contractdomain.DeliverableStatus, due time.Time) contractdomain.Deliverable {
	s.t.Helper()
	d := contractdomain.Deliverable{
		ID:         s.Node.Generate(),
		ContractID: contractID,
		Title:      title,
		Status:     status,
		DueDate:    due,
		Weight:     decimal.NewFromInt(1),
	}
	s.create(&d)
	return d
}

// Invoice seeds an invoice outside of any schedule, tagged with the
// contract's funder and corporate client like materialized invoices are.
func (s *Seeder) Invoice(contract contractdomain.Contract, number string, invoiceDate, dueDate time.Time, total string, status invoicedomain.InvoiceStatus) invoicedomain.Invoice {
	s.t.Helper()
	amount := decimal.RequireFromString(total)
	paid := decimal.Zero
	if status == invoicedomain.InvoiceStatusPaid {
		paid = amount
	}
	contractID := contract.ID
	inv := invoicedomain.Invoice{
		ID:                s.Node.Generate(),
		Number:            number,
		InvoiceClass:      scheduledomain.InvoiceClassProforma,
		ContractID:        &contractID,
		FunderType:        string(contract.FunderType),
		CorporateClientID: contract.CorporateClientID,
		PartyKind:         invoicedomain.PartyFunder,
		PartyName:         contract.ClientName,
		InvoiceDate:       invoiceDate,
		DueDate:           dueDate,
		Subtotal:          amount,
		VATRate:           decimal.Zero,
		VATAmount:         decimal.Zero,
		Total:             amount,
		AmountPaid:        paid,
		Status:            status,
		CreatedAt:         invoiceDate,
		UpdatedAt:         invoiceDate,
	}
	s.create(&inv)
	return inv
}

func (s *Seeder) Payment(invoiceID snowflake.ID, amount string, paidOn time.Time, status paymentdomain.PaymentStatus) paymentdomain.Payment {
	s.t.Helper()
	p := paymentdomain.Payment{
		ID:          s.Node.Generate(),
		InvoiceID:   invoiceID,
		Amount:      decimal.RequireFromString(amount),
		PaymentDate: paidOn,
		Status:      status,
		Reference:   "EFT-" + invoiceID.String(),
		CreatedAt:   paidOn,
	}
	s.create(&p)
	return p
}

// SetPaid records amount as paid on the invoice and moves it to status.
func (s *Seeder) SetPaid(invoiceID snowflake.ID, amount string, status invoicedomain.InvoiceStatus) {
	s.t.Helper()
	require.NoError(s.t, s.db.Exec(
		`UPDATE invoices SET amount_paid = ?, status = ? WHERE id = ?`,
		decimal.RequireFromString(amount), status, invoiceID,
	).Error)
}
