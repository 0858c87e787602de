package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/consultly/consultly/app/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func checkoutEvent(id string, total int64, email, name string) *Event {
	data := fmt.Sprintf(
		`{"amount_total":%d,"currency":"USD","customer_email":%q,"customer_name":%q,"customer_phone":"+49 30 1234","metadata":{"company_name":"Acme GmbH","country_code":"DE"}}`,
		total, email, name,
	)
	return &Event{ID: id, Type: EventTypeCheckoutCompleted, Data: json.RawMessage(data)}
}

// assertPayoutConservation checks the ledger invariant: for every payout the
// sum of its line-item commission amounts equals the payout total.
func assertPayoutConservation(t *testing.T, db *gorm.DB) {
	t.Helper()

	var payouts []models.Payout
	require.NoError(t, db.Find(&payouts).Error)
	for _, p := range payouts {
		var sum int64
		require.NoError(t, db.Model(&models.PayoutLineItem{}).
			Where("payout_id = ?", p.ID).
			Select("COALESCE(SUM(commission_amount), 0)").
			Scan(&sum).Error)
		require.Equalf(t, p.TotalAmount, sum,
			"payout %d total diverges from its line items", p.ID)
	}
}

func TestProcessCheckoutEventMaterializesFullRecordSet(t *testing.T) {
	db := newTestDB(t)
	consultant := seedConsultant(t, db, "con@consultly.test", models.STATUS_ACTIVE)
	svc := NewService(db)

	out, err := svc.ProcessCheckoutEvent(context.Background(), checkoutEvent("evt_123", 10000, "a@b.com", "Ada Lovelace"))
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, out.Status)
	require.NotNil(t, out.ConsultantID)
	assert.Equal(t, consultant.ID, *out.ConsultantID)
	assert.Equal(t, int64(6500), out.CommissionAmount)

	var user models.User
	require.NoError(t, db.Where("email = ?", "a@b.com").First(&user).Error)
	assert.Equal(t, models.ROLE_CUSTOMER, user.Role)
	assert.Equal(t, "Ada", user.FirstName)
	assert.Equal(t, "Lovelace", user.LastName)

	var client models.Client
	require.NoError(t, db.Where("user_id = ?", user.ID).First(&client).Error)
	require.NotNil(t, client.ConsultantID)
	assert.Equal(t, consultant.ID, *client.ConsultantID)
	assert.Equal(t, "Acme GmbH", client.CompanyName)
	assert.Equal(t, "DE", client.CountryCode)

	var order models.Order
	require.NoError(t, db.Where("provider_event_id = ?", "evt_123").First(&order).Error)
	assert.Equal(t, int64(10000), order.TotalAmount)
	assert.Equal(t, "USD", order.Currency)
	assert.Equal(t, models.PaymentStatusPaid, order.PaymentStatus)
	assert.NotEmpty(t, order.OrderNumber)

	var payout models.Payout
	require.NoError(t, db.Where("consultant_id = ?", consultant.ID).First(&payout).Error)
	assert.Equal(t, int64(6500), payout.TotalAmount)
	assert.Equal(t, models.PayoutStatusPending, payout.Status)
	assert.True(t, payout.CommissionRate.Equal(decimal.New(65, -2)))

	var item models.PayoutLineItem
	require.NoError(t, db.Where("order_id = ?", order.ID).First(&item).Error)
	assert.Equal(t, payout.ID, item.PayoutID)
	assert.Equal(t, int64(10000), item.GrossAmount)
	assert.Equal(t, int64(6500), item.CommissionAmount)

	assertPayoutConservation(t, db)
}

func TestProcessCheckoutEventIsIdempotent(t *testing.T) {
	for _, n := range []int{1, 2, 10} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			db := newTestDB(t)
			seedConsultant(t, db, "con@consultly.test", models.STATUS_ACTIVE)
			svc := NewService(db)
			ev := checkoutEvent("evt_dup", 10000, "a@b.com", "Ada Lovelace")

			statuses := make(map[OutcomeStatus]int)
			for i := 0; i < n; i++ {
				out, err := svc.ProcessCheckoutEvent(context.Background(), ev)
				require.NoError(t, err)
				statuses[out.Status]++
			}

			assert.Equal(t, 1, statuses[OutcomeCreated])
			assert.Equal(t, n-1, statuses[OutcomeDuplicate])
			assert.EqualValues(t, 1, countRows(t, db, &models.Order{}))
			assert.EqualValues(t, 2, countRows(t, db, &models.User{})) // consultant + customer
			assert.EqualValues(t, 1, countRows(t, db, &models.Client{}))
			assert.EqualValues(t, 1, countRows(t, db, &models.PayoutLineItem{}))

			var payout models.Payout
			require.NoError(t, db.First(&payout).Error)
			assert.Equal(t, int64(6500), payout.TotalAmount)
			assertPayoutConservation(t, db)
		})
	}
}

func TestProcessCheckoutEventConcurrentDuplicates(t *testing.T) {
	db := newTestDB(t)
	seedConsultant(t, db, "con@consultly.test", models.STATUS_ACTIVE)
	svc := NewService(db)

	const workers = 10
	outcomes := make([]OutcomeStatus, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := svc.ProcessCheckoutEvent(context.Background(), checkoutEvent("evt_race", 10000, "a@b.com", "Ada Lovelace"))
			if err != nil {
				errs[i] = err
				return
			}
			outcomes[i] = out.Status
		}(i)
	}
	wg.Wait()

	created := 0
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		if outcomes[i] == OutcomeCreated {
			created++
		}
	}
	assert.Equal(t, 1, created, "exactly one delivery may materialize the order")

	assert.EqualValues(t, 1, countRows(t, db, &models.Order{}))
	assert.EqualValues(t, 1, countRows(t, db, &models.Client{}))
	assert.EqualValues(t, 1, countRows(t, db, &models.PayoutLineItem{}))

	var payout models.Payout
	require.NoError(t, db.First(&payout).Error)
	assert.Equal(t, int64(6500), payout.TotalAmount)
	assertPayoutConservation(t, db)
}

func TestProcessCheckoutEventStickyAssignment(t *testing.T) {
	db := newTestDB(t)
	first := seedConsultant(t, db, "first@consultly.test", models.STATUS_ACTIVE)
	svc := NewService(db)

	out1, err := svc.ProcessCheckoutEvent(context.Background(), checkoutEvent("evt_s1", 10000, "a@b.com", "Ada Lovelace"))
	require.NoError(t, err)
	require.NotNil(t, out1.ConsultantID)
	require.Equal(t, first.ID, *out1.ConsultantID)

	// The original consultant leaves and a new one joins; a later payment
	// must not silently reassign the customer.
	require.NoError(t, db.Model(&models.User{}).Where("id = ?", first.ID).
		Update("status", models.STATUS_INACTIVE).Error)
	seedConsultant(t, db, "second@consultly.test", models.STATUS_ACTIVE)

	out2, err := svc.ProcessCheckoutEvent(context.Background(), checkoutEvent("evt_s2", 20000, "a@b.com", "Ada Lovelace"))
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, out2.Status)
	require.NotNil(t, out2.ConsultantID)
	assert.Equal(t, first.ID, *out2.ConsultantID)

	var client models.Client
	require.NoError(t, db.First(&client).Error)
	require.NotNil(t, client.ConsultantID)
	assert.Equal(t, first.ID, *client.ConsultantID)

	// Both orders accrued into the sticky consultant's payout.
	var payout models.Payout
	require.NoError(t, db.Where("consultant_id = ?", first.ID).First(&payout).Error)
	assert.Equal(t, int64(6500+13000), payout.TotalAmount)
	assertPayoutConservation(t, db)
}

func TestProcessCheckoutEventWithoutActiveConsultant(t *testing.T) {
	db := newTestDB(t)
	seedConsultant(t, db, "idle@consultly.test", models.STATUS_INACTIVE)
	svc := NewService(db)

	out, err := svc.ProcessCheckoutEvent(context.Background(), checkoutEvent("evt_na", 10000, "a@b.com", "Ada Lovelace"))
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, out.Status)
	assert.Nil(t, out.ConsultantID)
	assert.Zero(t, out.PayoutID)

	var order models.Order
	require.NoError(t, db.First(&order).Error)
	assert.Nil(t, order.ConsultantID)

	// Commission accrual is skipped entirely for unassigned orders.
	assert.EqualValues(t, 0, countRows(t, db, &models.Payout{}))
	assert.EqualValues(t, 0, countRows(t, db, &models.PayoutLineItem{}))
}

func TestProcessCheckoutEventPeriodRollover(t *testing.T) {
	db := newTestDB(t)
	consultant := seedConsultant(t, db, "con@consultly.test", models.STATUS_ACTIVE)
	svc := NewService(db)

	svc.now = func() time.Time { return time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC) }
	_, err := svc.ProcessCheckoutEvent(context.Background(), checkoutEvent("evt_m1", 10000, "a@b.com", "Ada Lovelace"))
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC) }
	_, err = svc.ProcessCheckoutEvent(context.Background(), checkoutEvent("evt_m2", 10000, "b@c.com", "Grace Hopper"))
	require.NoError(t, err)

	var payouts []models.Payout
	require.NoError(t, db.Where("consultant_id = ?", consultant.ID).
		Order("period_start ASC").Find(&payouts).Error)
	require.Len(t, payouts, 2)

	assert.Equal(t, time.March, payouts[0].PeriodStart.Month())
	assert.Equal(t, time.April, payouts[1].PeriodStart.Month())
	assert.Equal(t, int64(6500), payouts[0].TotalAmount)
	assert.Equal(t, int64(6500), payouts[1].TotalAmount)
	assertPayoutConservation(t, db)
}

func TestProcessCheckoutEventAccruesAfterPeriodPaidOut(t *testing.T) {
	db := newTestDB(t)
	consultant := seedConsultant(t, db, "con@consultly.test", models.STATUS_ACTIVE)
	svc := NewService(db)
	svc.now = func() time.Time { return time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC) }

	// The month's payout was settled early; a late order must open a fresh
	// pending period instead of failing against the settled one.
	start, end := MonthWindow(svc.now())
	paidAt := time.Date(2026, 5, 18, 0, 0, 0, 0, time.UTC)
	settled := models.Payout{
		ConsultantID:   consultant.ID,
		PeriodStart:    start,
		PeriodEnd:      end,
		TotalAmount:    4200,
		CommissionRate: DefaultCommissionRate,
		Status:         models.PayoutStatusPaid,
		PaidAt:         &paidAt,
	}
	require.NoError(t, db.Create(&settled).Error)

	out, err := svc.ProcessCheckoutEvent(context.Background(), checkoutEvent("evt_late", 10000, "late@b.com", "Ada Lovelace"))
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, out.Status)
	require.NotEqual(t, settled.ID, out.PayoutID)

	var fresh models.Payout
	require.NoError(t, db.First(&fresh, out.PayoutID).Error)
	assert.Equal(t, models.PayoutStatusPending, fresh.Status)
	assert.Equal(t, time.May, fresh.PeriodStart.Month())
	assert.Equal(t, int64(6500), fresh.TotalAmount)

	var item models.PayoutLineItem
	require.NoError(t, db.Where("order_id = ?", out.OrderID).First(&item).Error)
	assert.Equal(t, fresh.ID, item.PayoutID)
	assert.Equal(t, int64(6500), item.CommissionAmount)

	// Later orders in the same month accrue into the reopened period.
	out2, err := svc.ProcessCheckoutEvent(context.Background(), checkoutEvent("evt_late_2", 5000, "late2@b.com", "Grace Hopper"))
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, out2.PayoutID)
	require.NoError(t, db.First(&fresh, fresh.ID).Error)
	assert.Equal(t, int64(9750), fresh.TotalAmount)

	// The settled payout is never touched again.
	var settledAfter models.Payout
	require.NoError(t, db.First(&settledAfter, settled.ID).Error)
	assert.Equal(t, models.PayoutStatusPaid, settledAfter.Status)
	assert.Equal(t, int64(4200), settledAfter.TotalAmount)
}

// vanishingPayoutRepo simulates a payout period that conflicts on insert
// yet is gone by the time it is read back.
type vanishingPayoutRepo struct {
	Repository
}

func (vanishingPayoutRepo) FindOpenPayout(uint, time.Time) (*models.Payout, error) {
	return nil, gorm.ErrRecordNotFound
}

func (vanishingPayoutRepo) CreatePayoutIgnoreDuplicate(*models.Payout) (bool, error) {
	return false, nil
}

func TestAccrueCommissionReportsUnreadablePayoutConflict(t *testing.T) {
	svc := NewService(newTestDB(t))

	_, _, err := svc.accrueCommission(vanishingPayoutRepo{}, 7, &models.Order{TotalAmount: 10000})
	var integrityErr *IntegrityError
	require.ErrorAs(t, err, &integrityErr)
	assert.Equal(t, uint(7), integrityErr.UserID)
	assert.Contains(t, integrityErr.Reason, "payout")
}

func TestProcessCheckoutEventCommissionConservation(t *testing.T) {
	db := newTestDB(t)
	seedConsultant(t, db, "con@consultly.test", models.STATUS_ACTIVE)
	svc := NewService(db)

	// Odd totals exercise rounding: the stored line items must still sum
	// exactly to the payout total.
	totals := []int64{3333, 101, 9999, 1, 250000}
	for i, total := range totals {
		ev := checkoutEvent(fmt.Sprintf("evt_c%d", i), total, fmt.Sprintf("c%d@b.com", i), "Some Customer")
		_, err := svc.ProcessCheckoutEvent(context.Background(), ev)
		require.NoError(t, err)
	}

	assert.EqualValues(t, len(totals), countRows(t, db, &models.PayoutLineItem{}))
	assertPayoutConservation(t, db)
}

func TestProcessCheckoutEventIntegrityViolationAborts(t *testing.T) {
	db := newTestDB(t)
	seedConsultant(t, db, "con@consultly.test", models.STATUS_ACTIVE)
	svc := NewService(db)

	// An account without its client record is an inconsistent prior state.
	orphan := &models.User{Email: "a@b.com", Role: models.ROLE_CUSTOMER, Status: models.STATUS_ACTIVE}
	require.NoError(t, db.Create(orphan).Error)

	_, err := svc.ProcessCheckoutEvent(context.Background(), checkoutEvent("evt_bad", 10000, "a@b.com", "Ada Lovelace"))
	require.Error(t, err)

	var integrityErr *IntegrityError
	require.ErrorAs(t, err, &integrityErr)
	assert.Equal(t, orphan.ID, integrityErr.UserID)

	// The whole transaction rolled back: no order, no accrual.
	assert.EqualValues(t, 0, countRows(t, db, &models.Order{}))
	assert.EqualValues(t, 0, countRows(t, db, &models.Payout{}))
	assert.EqualValues(t, 0, countRows(t, db, &models.PayoutLineItem{}))
}

func TestProcessCheckoutEventIgnoresUnknownTypes(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)

	out, err := svc.ProcessCheckoutEvent(context.Background(), &Event{
		ID:   "evt_other",
		Type: "invoice.created",
		Data: json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, out.Status)
	assert.EqualValues(t, 0, countRows(t, db, &models.Order{}))
	assert.EqualValues(t, 0, countRows(t, db, &models.User{}))
}

func TestProcessCheckoutEventBackfillsCompanyDetails(t *testing.T) {
	db := newTestDB(t)
	seedConsultant(t, db, "con@consultly.test", models.STATUS_ACTIVE)
	svc := NewService(db)

	// First event carries no metadata.
	ev1 := &Event{
		ID:   "evt_f1",
		Type: EventTypeCheckoutCompleted,
		Data: json.RawMessage(`{"amount_total":5000,"currency":"USD","customer_email":"a@b.com","customer_name":"Ada Lovelace"}`),
	}
	_, err := svc.ProcessCheckoutEvent(context.Background(), ev1)
	require.NoError(t, err)

	var client models.Client
	require.NoError(t, db.First(&client).Error)
	assert.Empty(t, client.CompanyName)

	// A later event backfills what is missing.
	_, err = svc.ProcessCheckoutEvent(context.Background(), checkoutEvent("evt_f2", 5000, "a@b.com", "Ada Lovelace"))
	require.NoError(t, err)

	require.NoError(t, db.First(&client).Error)
	assert.Equal(t, "Acme GmbH", client.CompanyName)
	assert.Equal(t, "DE", client.CountryCode)

	// Existing values are never overwritten by later metadata.
	ev3 := &Event{
		ID:   "evt_f3",
		Type: EventTypeCheckoutCompleted,
		Data: json.RawMessage(`{"amount_total":5000,"currency":"USD","customer_email":"a@b.com","customer_name":"Ada Lovelace","metadata":{"company_name":"Evil Corp","country_code":"XX"}}`),
	}
	_, err = svc.ProcessCheckoutEvent(context.Background(), ev3)
	require.NoError(t, err)

	require.NoError(t, db.First(&client).Error)
	assert.Equal(t, "Acme GmbH", client.CompanyName)
	assert.Equal(t, "DE", client.CountryCode)
}

func TestMonthWindow(t *testing.T) {
	tests := []struct {
		at        time.Time
		wantStart time.Time
		wantEnd   time.Time
	}{
		{
			at:        time.Date(2026, 8, 30, 13, 45, 0, 0, time.UTC),
			wantStart: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC),
		},
		{
			at:        time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
			wantStart: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC),
		},
		{
			at:        time.Date(2028, 2, 15, 12, 0, 0, 0, time.UTC),
			wantStart: time.Date(2028, 2, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2028, 2, 29, 0, 0, 0, 0, time.UTC),
		},
		{
			at:        time.Date(2026, 12, 31, 23, 59, 59, 0, time.UTC),
			wantStart: time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		start, end := MonthWindow(tt.at)
		if !start.Equal(tt.wantStart) || !end.Equal(tt.wantEnd) {
			t.Fatalf("MonthWindow(%v) = (%v, %v), want (%v, %v)", tt.at, start, end, tt.wantStart, tt.wantEnd)
		}
	}
}
