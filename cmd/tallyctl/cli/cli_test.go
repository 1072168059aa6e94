package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallybridge/tallybridge/internal/payment"
	"github.com/tallybridge/tallybridge/internal/tally"
	"github.com/tallybridge/tallybridge/internal/vouchersync"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestSignAndVerify(t *testing.T) {
	sig := payment.Sign("order_1", "pay_1", "s3cret")

	out, err := run(t, "sign", "order_1", "pay_1", "--secret", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, sig+"\n", out)

	out, err = run(t, "verify", "order_1", "pay_1", sig, "--secret", "s3cret")
	require.NoError(t, err)
	assert.Contains(t, out, "signature ok")

	_, err = run(t, "verify", "order_1", "pay_2", sig, "--secret", "s3cret")
	assert.ErrorIs(t, err, payment.ErrSignatureMismatch)
}

func TestSignSecretFromEnv(t *testing.T) {
	t.Setenv("RAZORPAY_KEY_SECRET", "")
	_, err := run(t, "sign", "order_1", "pay_1")
	require.Error(t, err)

	t.Setenv("RAZORPAY_KEY_SECRET", "envsecret")
	out, err := run(t, "sign", "order_1", "pay_1")
	require.NoError(t, err)
	assert.Equal(t, payment.Sign("order_1", "pay_1", "envsecret")+"\n", out)
}

func TestPendingAgainstTally(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "guid-1", r.Header.Get("x-guid"))
		_, _ = io.WriteString(w, `<ENVELOPE><RESULTDATA>
<ROW><COL>101</COL><COL>20240402</COL><COL>SO/101</COL><COL>Sales Order</COL><COL>Verma</COL><COL>300</COL><COL>call first</COL></ROW>
</RESULTDATA></ENVELOPE>`)
	}))
	defer srv.Close()
	t.Setenv("TALLY_IMPORT_URL", srv.URL)
	t.Setenv("TALLY_COMPANIES", "loc-1|guid-1|Acme Traders")

	out, err := run(t, "pending", "guid-1")
	require.NoError(t, err)
	assert.Contains(t, out, "MASTER ID")
	assert.Contains(t, out, "SO/101")
	assert.Contains(t, out, "300.00")
	assert.Contains(t, out, "call first")
}

func TestPendingUnknownCompany(t *testing.T) {
	t.Setenv("TALLY_IMPORT_URL", "http://127.0.0.1:1")
	t.Setenv("TALLY_COMPANIES", "loc-1|guid-1|Acme Traders")

	_, err := run(t, "pending", "guid-9")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

func TestApproveRejectsBadMasterID(t *testing.T) {
	_, err := run(t, "approve", "guid-1", "abc", "--approver", "Meera")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "positive integer")
}

func TestCleanupRejectsNegativeWindow(t *testing.T) {
	_, err := run(t, "cleanup", "--older-than=-1h")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must not be negative")
}

func TestJobsCLIWithoutClient(t *testing.T) {
	var jc *JobsCLI
	_, err := jc.TriggerCleanup(context.Background(), time.Hour)
	assert.Error(t, err)
}

func TestWritePendingEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writePending(&buf, nil))
	assert.Equal(t, "no vouchers awaiting authorization\n", buf.String())

	buf.Reset()
	require.NoError(t, writePending(&buf, []tally.PendingVoucher{{MasterID: 7, Customer: "Rao", Amount: decimal.NewFromInt(45)}}))
	assert.Contains(t, buf.String(), "Rao")
	assert.Contains(t, buf.String(), "45.00")
}

func TestWritePollResults(t *testing.T) {
	var buf bytes.Buffer
	results := []vouchersync.PollResult{
		{Company: tally.Company{Name: "Acme Traders"}, Status: vouchersync.StatusAdvanced, NewCount: 2, Watermark: 105},
		{Company: tally.Company{Name: "Acme Exports"}, Status: vouchersync.StatusFailed, Err: errors.New("connection refused")},
	}
	require.NoError(t, writePollResults(&buf, results))
	assert.Contains(t, buf.String(), "advanced")
	assert.Contains(t, buf.String(), "105")
	assert.Contains(t, buf.String(), "connection refused")
}

func TestRunWatermark(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := vouchersync.NewRedisStore(client)
	_, err := store.Advance(context.Background(), "guid-1", 105, time.Date(2024, 4, 2, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	cmd := newWatermarkCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetContext(context.Background())
	require.NoError(t, runWatermark(cmd, store, "guid-1"))
	assert.Contains(t, out.String(), "last_master_id=105")

	out.Reset()
	require.NoError(t, cmd.Flags().Set("reset", "true"))
	require.NoError(t, runWatermark(cmd, store, "guid-1"))
	assert.Contains(t, out.String(), "reset")

	wm, err := store.Load(context.Background(), "guid-1")
	require.NoError(t, err)
	assert.Zero(t, wm.LastMasterID)
}
