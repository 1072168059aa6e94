package voucher

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallybridge/tallybridge/internal/credit"
	"github.com/tallybridge/tallybridge/internal/orders"
	"github.com/tallybridge/tallybridge/internal/payment"
	"github.com/tallybridge/tallybridge/internal/tally"
)

var company = tally.Company{LocationID: "3", GUID: "guid-3", Name: "Acme Traders"}

func scenarioOrder() orders.Order {
	return orders.Order{
		Company:  company,
		Number:   "SO/42",
		Date:     time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		Customer: orders.Party{Name: "Rao & Co"},
		Items: []orders.LineItem{
			{Name: "Widget", Quantity: decimal.NewFromInt(3), Rate: decimal.NewFromInt(100)},
			{Name: "Gadget", Quantity: decimal.NewFromInt(1), Rate: decimal.NewFromInt(50), DiscountPct: decimal.NewFromInt(10)},
		},
	}
}

type fakeImporter struct {
	mu      sync.Mutex
	bodies  []string
	ctxErrs []error
	outcome tally.Outcome
}

func (f *fakeImporter) Import(ctx context.Context, _ tally.Company, _ string, body string) tally.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies = append(f.bodies, body)
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	return f.outcome
}

func TestSubmitAllowPostsRegularVoucher(t *testing.T) {
	imp := &fakeImporter{outcome: tally.Created("77", tally.ImportCounts{Created: 1})}
	sub := NewSubmitter(imp, orders.VoucherOptions{SalesLedger: "Sales"}, nil)

	out := sub.Submit(context.Background(), scenarioOrder(), credit.Assessment{Decision: credit.Allow}, "tok")
	assert.Equal(t, tally.OutcomeCreated, out.Kind)
	require.Len(t, imp.bodies, 1)
	assert.Contains(t, imp.bodies[0], "<ISOPTIONAL>No</ISOPTIONAL>")
	assert.Contains(t, imp.bodies[0], "<AMOUNT>-345.00</AMOUNT>")
}

func TestSubmitAllowAsOptionalLeavesCallerOrderAlone(t *testing.T) {
	imp := &fakeImporter{outcome: tally.Created("78", tally.ImportCounts{Created: 1})}
	sub := NewSubmitter(imp, orders.VoucherOptions{}, nil)
	order := scenarioOrder()

	sub.Submit(context.Background(), order, credit.Assessment{Decision: credit.AllowAsOptional, Reason: "overdue"}, "tok")
	require.Len(t, imp.bodies, 1)
	assert.Contains(t, imp.bodies[0], "<ISOPTIONAL>Yes</ISOPTIONAL>")
	assert.False(t, order.PostAsOptional)
}

func TestSubmitBlockSendsNothing(t *testing.T) {
	imp := &fakeImporter{}
	out := NewSubmitter(imp, orders.VoucherOptions{}, nil).
		Submit(context.Background(), scenarioOrder(), credit.Assessment{Decision: credit.Block, Reason: "limit exceeded"}, "tok")
	assert.Equal(t, tally.OutcomeBlocked, out.Kind)
	assert.Equal(t, "Order blocked: limit exceeded", out.Message())
	assert.Empty(t, imp.bodies)
}

func TestSubmitIgnoresCallerCancellation(t *testing.T) {
	imp := &fakeImporter{outcome: tally.Created("", tally.ImportCounts{Created: 1})}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	NewSubmitter(imp, orders.VoucherOptions{}, nil).Submit(ctx, scenarioOrder(), credit.Assessment{}, "tok")
	require.Len(t, imp.ctxErrs, 1)
	assert.NoError(t, imp.ctxErrs[0])
}

type fixedGate struct{ decision credit.Decision }

func (g fixedGate) Assess(_ context.Context, _ tally.Company, party string, total decimal.Decimal, _ string) credit.Assessment {
	return credit.Assessment{Party: party, Exposure: total, Decision: g.decision, Reason: "test"}
}

type countingReconciler struct {
	calls []payment.ReconcileInput
}

func (r *countingReconciler) AfterOrderCreated(_ context.Context, in payment.ReconcileInput, handle payment.Checkout) payment.ReconciliationOutcome {
	r.calls = append(r.calls, in)
	if handle == nil {
		return payment.ReconciliationOutcome{Kind: payment.NoPaymentRequested}
	}
	return payment.ReconciliationOutcome{Kind: payment.PaymentCancelled}
}

type noopCheckout struct{}

func (noopCheckout) Collect(context.Context, payment.GatewayOrder) (payment.CheckoutResult, error) {
	return payment.CheckoutResult{Status: payment.CheckoutCancelled}, nil
}

func TestPlaceEndToEndAgainstTally(t *testing.T) {
	var received []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received = append(received, string(body))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`<RESPONSE><CREATED>1</CREATED><ALTERED>0</ALTERED><LASTVCHID>9001</LASTVCHID><ERRORS>0</ERRORS><EXCEPTIONS>0</EXCEPTIONS></RESPONSE>`))
	}))
	defer srv.Close()

	client := tally.NewClient(tally.ClientConfig{ImportURL: srv.URL, HTTPClient: srv.Client()})
	rec := &countingReconciler{}
	svc := NewService(fixedGate{decision: credit.Allow}, NewSubmitter(client, orders.VoucherOptions{SalesLedger: "Sales"}, nil), rec, nil)

	res, err := svc.Place(context.Background(), PlaceRequest{Order: scenarioOrder(), Token: "tok", Checkout: noopCheckout{}})
	require.NoError(t, err)
	assert.Equal(t, tally.OutcomeCreated, res.Outcome.Kind)
	assert.Equal(t, "SO/42", res.Outcome.VoucherNumber)
	assert.Equal(t, int64(9001), res.Outcome.MasterID)
	require.Len(t, received, 1)
	assert.Contains(t, received[0], "<PARTYLEDGERNAME>Rao &amp; Co</PARTYLEDGERNAME>")

	require.Len(t, rec.calls, 1)
	assert.Equal(t, "SO/42", rec.calls[0].OrderNumber)
	assert.True(t, rec.calls[0].Amount.Equal(decimal.RequireFromString("345")))
	require.NotNil(t, res.Payment)
	assert.Equal(t, payment.PaymentCancelled, res.Payment.Kind)
	assert.True(t, strings.HasPrefix(res.Message(), "Voucher SO/42 created (ID 9001)."))
}

func TestPlaceWithCheckoutRequiresOrderNumber(t *testing.T) {
	rec := &countingReconciler{}
	imp := &fakeImporter{outcome: tally.Created("", tally.ImportCounts{Created: 1})}
	svc := NewService(fixedGate{decision: credit.Allow}, NewSubmitter(imp, orders.VoucherOptions{}, nil), rec, nil)

	order := scenarioOrder()
	order.Number = ""
	_, err := svc.Place(context.Background(), PlaceRequest{Order: order, Checkout: noopCheckout{}})
	assert.ErrorIs(t, err, ErrInvalidOrder)
	assert.ErrorIs(t, err, ErrOrderNumberRequired)
	assert.Empty(t, imp.bodies)
	assert.Empty(t, rec.calls)

	imp.outcome.MasterID = 9001
	res, err := svc.Place(context.Background(), PlaceRequest{Order: order})
	require.NoError(t, err)
	assert.Equal(t, "Voucher created (ID 9001).", res.Message())
	require.Len(t, rec.calls, 1)
	assert.Empty(t, rec.calls[0].OrderNumber)
	assert.Nil(t, res.Payment)
}

func TestPlaceSkipsReconcilerWhenNotCreated(t *testing.T) {
	rec := &countingReconciler{}
	imp := &fakeImporter{outcome: tally.Rejected(tally.ImportCounts{Errors: 1}, nil)}
	svc := NewService(fixedGate{decision: credit.Allow}, NewSubmitter(imp, orders.VoucherOptions{}, nil), rec, nil)

	res, err := svc.Place(context.Background(), PlaceRequest{Order: scenarioOrder(), Checkout: noopCheckout{}})
	require.NoError(t, err)
	assert.Equal(t, "Created: 0, Errors: 1, Exceptions: 0", res.Message())
	assert.Empty(t, rec.calls)
	assert.Nil(t, res.Payment)

	blocked := NewService(fixedGate{decision: credit.Block}, NewSubmitter(imp, orders.VoucherOptions{}, nil), rec, nil)
	res, err = blocked.Place(context.Background(), PlaceRequest{Order: scenarioOrder()})
	require.NoError(t, err)
	assert.Equal(t, tally.OutcomeBlocked, res.Outcome.Kind)
	assert.Len(t, imp.bodies, 1)
	assert.Empty(t, rec.calls)
}

func TestPlaceRejectsInvalidOrder(t *testing.T) {
	imp := &fakeImporter{}
	svc := NewService(fixedGate{}, NewSubmitter(imp, orders.VoucherOptions{}, nil), nil, nil)
	order := scenarioOrder()
	order.Items = nil

	_, err := svc.Place(context.Background(), PlaceRequest{Order: order})
	assert.ErrorIs(t, err, ErrInvalidOrder)
	assert.Empty(t, imp.bodies)
}

func TestPlaceWithoutCheckoutHasNoPaymentSection(t *testing.T) {
	imp := &fakeImporter{outcome: tally.Created("5", tally.ImportCounts{Created: 1})}
	rec := &countingReconciler{}
	svc := NewService(fixedGate{decision: credit.AllowAsOptional}, NewSubmitter(imp, orders.VoucherOptions{}, nil), rec, nil)

	res, err := svc.Place(context.Background(), PlaceRequest{Order: scenarioOrder()})
	require.NoError(t, err)
	assert.Nil(t, res.Payment)
	assert.Contains(t, res.Message(), "Posted as optional pending authorization: test")
}
