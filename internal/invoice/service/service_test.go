package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/billingschedule/internal/batch"
	"github.com/smallbiznis/billingschedule/internal/clock"
	"github.com/smallbiznis/billingschedule/internal/config"
	contractdomain "github.com/smallbiznis/billingschedule/internal/contract/domain"
	contractrepository "github.com/smallbiznis/billingschedule/internal/contract/repository"
	invoicedomain "github.com/smallbiznis/billingschedule/internal/invoice/domain"
	"github.com/smallbiznis/billingschedule/internal/invoice/numbering"
	"github.com/smallbiznis/billingschedule/internal/invoice/repository"
	scheduledomain "github.com/smallbiznis/billingschedule/internal/schedule/domain"
	schedulerepository "github.com/smallbiznis/billingschedule/internal/schedule/repository"
	scheduleservice "github.com/smallbiznis/billingschedule/internal/schedule/service"
	"github.com/smallbiznis/billingschedule/internal/testsupport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db        *gorm.DB
	seed      *testsupport.Seeder
	clock     *clock.FakeClock
	schedules scheduledomain.Service
	svc       invoicedomain.Service
}

func newFixture(t *testing.T, billing config.BillingConfig, concurrency int) fixture {
	t.Helper()
	conn := testsupport.OpenDB(t)
	seed := testsupport.NewSeeder(t, conn)
	clk := clock.NewFakeClock(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))
	log := zap.NewNop()
	holder := config.NewStaticBillingConfigHolder(billing)
	dir := contractrepository.NewDirectory(conn)
	scheduleRepo := schedulerepository.Provide()
	invoiceRepo := repository.Provide()

	schedules := scheduleservice.NewService(scheduleservice.ServiceParam{
		DB:        conn,
		Log:       log,
		GenID:     seed.Node,
		Clock:     clk,
		Repo:      scheduleRepo,
		Directory: dir,
		Billing:   holder,
	})
	svc := NewService(ServiceParam{
		DB:    conn,
		Log:   log,
		GenID: seed.Node,
		Clock: clk,
		Config: config.Config{Scheduler: config.SchedulerConfig{
			BatchSize:        2,
			BatchConcurrency: concurrency,
		}},
		Billing:      holder,
		Repo:         invoiceRepo,
		ScheduleRepo: scheduleRepo,
		Directory:    dir,
		Sequencer:    numbering.NewSequencer(numbering.Params{Log: log, Repo: invoiceRepo}),
	})
	return fixture{db: conn, seed: seed, clock: clk, schedules: schedules, svc: svc}
}

func (f fixture) yearlyContract(t *testing.T, funder contractdomain.FunderType, value string, mutate ...func(*contractdomain.Contract)) (contractdomain.Contract, []scheduledomain.ScheduledInvoice) {
	t.Helper()
	dates := func(c *contractdomain.Contract) {
		start := testsupport.Day(2024, time.January, 1)
		end := testsupport.Day(2024, time.December, 31)
		c.PlannedStartDate = &start
		c.PlannedEndDate = &end
	}
	contract := f.seed.Contract(funder, value, append([]func(*contractdomain.Contract){dates}, mutate...)...)
	schedule, err := f.schedules.CreateScheduleForContract(context.Background(), contract.ID)
	require.NoError(t, err)
	entries, err := f.schedules.ListEntries(context.Background(), schedule.ID)
	require.NoError(t, err)
	return contract, entries
}

func (f fixture) countInvoices(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&invoicedomain.Invoice{}).Count(&n).Error)
	return n
}

func TestMaterializeIssuesProformaInvoiceForLearner(t *testing.T) {
	f := newFixture(t, config.DefaultBillingConfig(), 1)
	ctx := context.Background()
	cohortID := f.seed.Node.Generate()
	f.seed.Learner(cohortID, "Thandi Mokoena", "thandi@example.com", testsupport.Day(2023, time.November, 1))
	f.seed.Learner(cohortID, "Later Learner", "later@example.com", testsupport.Day(2023, time.November, 20))
	contract, entries := f.yearlyContract(t, contractdomain.FunderPrivate, "120000", func(c *contractdomain.Contract) {
		c.CohortID = &cohortID
	})

	invoice, err := f.svc.Materialize(ctx, entries[0].ID)
	require.NoError(t, err)

	assert.Equal(t, "PF-202401-0001", invoice.Number)
	assert.Equal(t, scheduledomain.InvoiceClassProforma, invoice.InvoiceClass)
	assert.Equal(t, invoicedomain.InvoiceStatusDraft, invoice.Status)
	assert.Equal(t, invoicedomain.PartyLearner, invoice.PartyKind)
	assert.Equal(t, "Thandi Mokoena", invoice.PartyName)
	assert.Equal(t, "thandi@example.com", invoice.PartyEmail)
	assert.True(t, invoice.Subtotal.Equal(decimal.NewFromInt(10000)))
	assert.True(t, invoice.VATAmount.Equal(decimal.NewFromInt(1500)))
	assert.True(t, invoice.Total.Equal(decimal.NewFromInt(11500)))
	assert.True(t, invoice.BalanceDue().Equal(invoice.Total))
	assert.Equal(t, "Auto-generated for "+contract.Reference+" - Period 1", invoice.Notes)
	assert.Equal(t, testsupport.Day(2024, time.January, 31), clock.Date(invoice.DueDate))
	require.NotNil(t, invoice.ContractID)
	assert.Equal(t, contract.ID, *invoice.ContractID)
	assert.Equal(t, string(contractdomain.FunderPrivate), invoice.FunderType)

	party, err := invoice.Party()
	require.NoError(t, err)
	learner, ok := party.(invoicedomain.LearnerParty)
	require.True(t, ok)
	assert.Equal(t, "Thandi Mokoena", learner.Name)

	items, err := f.svc.ListLineItems(ctx, invoice.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Skills Programme - Period 1", items[0].Description)
	assert.True(t, items[0].Amount.Equal(decimal.NewFromInt(10000)))

	after, err := f.schedules.ListEntries(ctx, entries[0].ScheduleID)
	require.NoError(t, err)
	assert.Equal(t, scheduledomain.EntryGenerated, after[0].Status)
	require.NotNil(t, after[0].InvoiceID)
	assert.Equal(t, invoice.ID, *after[0].InvoiceID)

	schedule, err := f.schedules.Get(ctx, entries[0].ScheduleID)
	require.NoError(t, err)
	require.NotNil(t, schedule.LastInvoiceGeneratedDate)
	assert.Equal(t, testsupport.Day(2024, time.January, 1), clock.Date(*schedule.LastInvoiceGeneratedDate))
	require.NotNil(t, schedule.NextInvoiceDate)
	assert.Equal(t, testsupport.Day(2024, time.February, 1), clock.Date(*schedule.NextInvoiceDate))
}

func TestMaterializeTwiceReturnsSameInvoice(t *testing.T) {
	f := newFixture(t, config.DefaultBillingConfig(), 1)
	ctx := context.Background()
	_, entries := f.yearlyContract(t, contractdomain.FunderPrivate, "1200")

	first, err := f.svc.Materialize(ctx, entries[0].ID)
	require.NoError(t, err)
	second, err := f.svc.Materialize(ctx, entries[0].ID)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Number, second.Number)
	assert.EqualValues(t, 1, f.countInvoices(t))
}

func TestMaterializeConcurrentCallsIssueOneInvoice(t *testing.T) {
	f := newFixture(t, config.DefaultBillingConfig(), 1)
	ctx := context.Background()
	_, entries := f.yearlyContract(t, contractdomain.FunderPrivate, "1200")

	const workers = 8
	var wg sync.WaitGroup
	invoices := make([]*invoicedomain.Invoice, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			invoices[i], errs[i] = f.svc.Materialize(ctx, entries[0].ID)
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i], "worker %d", i)
		require.NotNil(t, invoices[i])
		assert.Equal(t, invoices[0].ID, invoices[i].ID)
		assert.Equal(t, "PF-202401-0001", invoices[i].Number)
	}
	assert.EqualValues(t, 1, f.countInvoices(t))

	var seq invoicedomain.InvoiceSequence
	require.NoError(t, f.db.Where("prefix = ? AND year_month = ?", "PF", "202401").First(&seq).Error)
	assert.Equal(t, 1, seq.LastValue)

	after, err := f.schedules.ListEntries(ctx, entries[0].ScheduleID)
	require.NoError(t, err)
	require.NotNil(t, after[0].InvoiceID)
	assert.Equal(t, invoices[0].ID, *after[0].InvoiceID)
}

func TestMaterializeNumbersIncreaseWithinMonth(t *testing.T) {
	f := newFixture(t, config.DefaultBillingConfig(), 1)
	ctx := context.Background()
	_, entries := f.yearlyContract(t, contractdomain.FunderPrivate, "1200")

	var numbers []string
	for _, e := range entries[:3] {
		invoice, err := f.svc.Materialize(ctx, e.ID)
		require.NoError(t, err)
		numbers = append(numbers, invoice.Number)
	}
	assert.Equal(t, []string{"PF-202401-0001", "PF-202401-0002", "PF-202401-0003"}, numbers)

	f.clock.Set(time.Date(2024, 2, 3, 9, 0, 0, 0, time.UTC))
	invoice, err := f.svc.Materialize(ctx, entries[3].ID)
	require.NoError(t, err)
	assert.Equal(t, "PF-202402-0001", invoice.Number)
}

func TestMaterializeSeedsNumberingFromExistingInvoices(t *testing.T) {
	f := newFixture(t, config.DefaultBillingConfig(), 1)
	ctx := context.Background()
	contract, entries := f.yearlyContract(t, contractdomain.FunderPrivate, "1200")
	day := testsupport.Day(2024, time.January, 1)
	f.seed.Invoice(contract, "PF-202401-0007", day, day, "10", invoicedomain.InvoiceStatusSent)
	f.seed.Invoice(contract, "PF-202401-legacy", day, day, "10", invoicedomain.InvoiceStatusSent)
	f.seed.Invoice(contract, "INV-202401-0042", day, day, "10", invoicedomain.InvoiceStatusSent)

	invoice, err := f.svc.Materialize(ctx, entries[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "PF-202401-0008", invoice.Number)
}

func TestMaterializeTaxClassUsesTaxPrefix(t *testing.T) {
	billing := config.DefaultBillingConfig()
	billing.Templates = map[string]config.ScheduleTemplate{
		"GOVERNMENT": {InvoiceClass: "TAX", ScheduleType: "UPFRONT"},
	}
	f := newFixture(t, billing, 1)
	_, entries := f.yearlyContract(t, contractdomain.FunderGovernment, "5000", func(c *contractdomain.Contract) {
		c.ClientName = "Department of Higher Education"
	})
	require.Len(t, entries, 1)

	invoice, err := f.svc.Materialize(context.Background(), entries[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "INV-202401-0001", invoice.Number)
	assert.Equal(t, scheduledomain.InvoiceClassTax, invoice.InvoiceClass)
	assert.Equal(t, invoicedomain.PartyFunder, invoice.PartyKind)
	assert.Equal(t, "Department of Higher Education", invoice.PartyName)
}

func TestMaterializeBillsLinkedCorporateClient(t *testing.T) {
	f := newFixture(t, config.DefaultBillingConfig(), 1)
	corporate := f.seed.CorporateClient("Acme Mining", "ap@acme.example")
	_, entries := f.yearlyContract(t, contractdomain.FunderCorporateDG, "1200", func(c *contractdomain.Contract) {
		c.CorporateClientID = &corporate.ID
	})

	invoice, err := f.svc.Materialize(context.Background(), entries[0].ID)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.PartyCorporate, invoice.PartyKind)
	assert.Equal(t, "Acme Mining", invoice.PartyName)
	assert.Equal(t, "ap@acme.example", invoice.PartyEmail)
	require.NotNil(t, invoice.CorporateClientID)
	assert.Equal(t, corporate.ID, *invoice.CorporateClientID)
}

func TestMaterializeUnknownEntry(t *testing.T) {
	f := newFixture(t, config.DefaultBillingConfig(), 1)
	_, err := f.svc.Materialize(context.Background(), f.seed.Node.Generate())
	require.ErrorIs(t, err, scheduledomain.ErrScheduledInvoiceNotFound)
}

func TestRunDueBatchMaterializesDueAutoGeneratedEntries(t *testing.T) {
	f := newFixture(t, config.DefaultBillingConfig(), 2)
	ctx := context.Background()
	f.yearlyContract(t, contractdomain.FunderPrivate, "1200")
	f.yearlyContract(t, contractdomain.FunderPrivate, "2400", func(c *contractdomain.Contract) {
		c.AutoGenerateInvoices = testsupport.Ptr(false)
	})

	f.clock.Set(time.Date(2024, 3, 15, 6, 0, 0, 0, time.UTC))
	report, err := f.svc.RunDueBatch(ctx, clock.Today(f.clock))
	require.NoError(t, err)
	assert.Len(t, report.Succeeded, 3)
	assert.Empty(t, report.Skipped)
	assert.NotEmpty(t, report.RunID)
	for _, invoice := range report.Succeeded {
		assert.True(t, invoice.Subtotal.Equal(decimal.NewFromInt(100)))
	}

	again, err := f.svc.RunDueBatch(ctx, clock.Today(f.clock))
	require.NoError(t, err)
	assert.Empty(t, again.Succeeded)
	assert.EqualValues(t, 3, f.countInvoices(t))
}

func TestRunDueBatchReportsItemFailuresAndContinues(t *testing.T) {
	f := newFixture(t, config.DefaultBillingConfig(), 1)
	ctx := context.Background()
	broken, _ := f.yearlyContract(t, contractdomain.FunderPrivate, "1200")
	f.yearlyContract(t, contractdomain.FunderPrivate, "1200")
	require.NoError(t, f.db.Exec(`DELETE FROM contracts WHERE id = ?`, broken.ID).Error)

	f.clock.Set(time.Date(2024, 2, 10, 6, 0, 0, 0, time.UTC))
	report, err := f.svc.RunDueBatch(ctx, clock.Today(f.clock))
	require.NoError(t, err)
	assert.Len(t, report.Succeeded, 2)
	require.Len(t, report.Skipped, 2)
	assert.Equal(t, map[batch.SkipReason]int{batch.SkipLookupMiss: 2}, report.SkipCounts())
	for _, skip := range report.Skipped {
		assert.ErrorIs(t, skip.Err, contractdomain.ErrContractNotFound)
	}
}
