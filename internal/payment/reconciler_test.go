package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallybridge/tallybridge/internal/tally"
)

type recordingImporter struct {
	mu      sync.Mutex
	bodies  []string
	outcome tally.Outcome
}

func (i *recordingImporter) Import(_ context.Context, _ tally.Company, _ string, body string) tally.Outcome {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.bodies = append(i.bodies, body)
	return i.outcome
}

type scriptedCheckout struct {
	result CheckoutResult
	err    error
	seen   []GatewayOrder
}

func (c *scriptedCheckout) Collect(_ context.Context, order GatewayOrder) (CheckoutResult, error) {
	c.seen = append(c.seen, order)
	return c.result, c.err
}

var reconcileInput = ReconcileInput{
	Company:     tally.Company{LocationID: "1", GUID: "g-1", Name: "Acme"},
	Customer:    "Kapoor & Sons",
	OrderNumber: "SO-17",
	Amount:      decimal.RequireFromString("345"),
	Token:       "tok",
}

func newTestReconciler(importer Importer, store ProcessedStore) *Reconciler {
	return NewReconciler(ReconcilerConfig{
		Enabled:    true,
		BankLedger: "HDFC Bank",
		Backend:    NewService(&fakeGateway{}, store, testSecret, nil),
		Importer:   importer,
		Now:        func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) },
	})
}

func TestReconcilerNoPaymentRequested(t *testing.T) {
	importer := &recordingImporter{}
	out := newTestReconciler(importer, newMemoryStore()).AfterOrderCreated(context.Background(), reconcileInput, nil)
	assert.Equal(t, NoPaymentRequested, out.Kind)

	disabled := NewReconciler(ReconcilerConfig{Backend: NewService(&fakeGateway{}, nil, testSecret, nil), Importer: importer})
	out = disabled.AfterOrderCreated(context.Background(), reconcileInput, &scriptedCheckout{})
	assert.Equal(t, NoPaymentRequested, out.Kind)
	assert.Empty(t, importer.bodies)
}

func TestReconcilerSignatureMismatchCreatesNoReceipt(t *testing.T) {
	importer := &recordingImporter{outcome: tally.Created("1", tally.ImportCounts{Created: 1})}
	checkout := &scriptedCheckout{result: CheckoutResult{
		Status:    CheckoutSucceeded,
		PaymentID: "pay_1",
		Signature: Sign("order_SO-17", "pay_1", "forged"),
	}}

	out := newTestReconciler(importer, newMemoryStore()).AfterOrderCreated(context.Background(), reconcileInput, checkout)
	assert.Equal(t, PaymentFailed, out.Kind)
	assert.Nil(t, out.Receipt)
	assert.Empty(t, importer.bodies)
	assert.Equal(t, "Payment was not completed. It can be collected later.", out.Message())
}

func TestReconcilerImportsLinkedReceipt(t *testing.T) {
	importer := &recordingImporter{outcome: tally.Created("88", tally.ImportCounts{Created: 1})}
	checkout := &scriptedCheckout{result: CheckoutResult{
		Status:    CheckoutSucceeded,
		PaymentID: "pay_1",
		Signature: Sign("order_SO-17", "pay_1", testSecret),
	}}

	out := newTestReconciler(importer, newMemoryStore()).AfterOrderCreated(context.Background(), reconcileInput, checkout)
	require.Equal(t, PaymentSucceeded, out.Kind)
	require.NotNil(t, out.Receipt)
	assert.False(t, out.ReceiptFailed())
	require.Len(t, checkout.seen, 1)
	assert.True(t, checkout.seen[0].Amount.Equal(decimal.RequireFromString("345")))

	require.Len(t, importer.bodies, 1)
	body := importer.bodies[0]
	assert.Contains(t, body, `VCHTYPE="Receipt"`)
	assert.Contains(t, body, "<LEDGERNAME>Kapoor &amp; Sons</LEDGERNAME>")
	assert.Contains(t, body, "<BILLTYPE>Agst Ref</BILLTYPE>")
	assert.Contains(t, body, "<NAME>SO-17</NAME>")
	assert.Contains(t, body, "<LEDGERNAME>HDFC Bank</LEDGERNAME>")
	assert.Contains(t, body, "<AMOUNT>-345.00</AMOUNT>")
	assert.Contains(t, body, "<AMOUNT>345.00</AMOUNT>")
	assert.Contains(t, body, "<NARRATION>"+FormatReceiptNarration(*out.Link)+"</NARRATION>")
}

func TestReconcilerReceiptFailureKeepsOrder(t *testing.T) {
	importer := &recordingImporter{outcome: tally.Rejected(tally.ImportCounts{Errors: 1}, []string{"Ledger HDFC Bank does not exist"})}
	checkout := &scriptedCheckout{result: CheckoutResult{
		Status:    CheckoutSucceeded,
		PaymentID: "pay_9",
		Signature: Sign("order_SO-17", "pay_9", testSecret),
	}}

	out := newTestReconciler(importer, newMemoryStore()).AfterOrderCreated(context.Background(), reconcileInput, checkout)
	assert.Equal(t, PaymentSucceeded, out.Kind)
	assert.True(t, out.ReceiptFailed())
	assert.Contains(t, out.Message(), "Create the receipt manually")
	assert.Contains(t, out.Message(), "does not exist")
}

func TestReconcilerCancelledAndFailedCheckout(t *testing.T) {
	importer := &recordingImporter{}
	r := newTestReconciler(importer, newMemoryStore())

	out := r.AfterOrderCreated(context.Background(), reconcileInput, &scriptedCheckout{result: CheckoutResult{Status: CheckoutCancelled}})
	assert.Equal(t, PaymentCancelled, out.Kind)

	out = r.AfterOrderCreated(context.Background(), reconcileInput, &scriptedCheckout{result: CheckoutResult{Status: CheckoutFailed, Reason: "card declined"}})
	assert.Equal(t, PaymentFailed, out.Kind)
	assert.Equal(t, "card declined", out.Reason)

	out = r.AfterOrderCreated(context.Background(), reconcileInput, &scriptedCheckout{err: errors.New("sdk crashed")})
	assert.Equal(t, PaymentFailed, out.Kind)
	assert.Empty(t, importer.bodies)
}
