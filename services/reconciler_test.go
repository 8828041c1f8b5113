package services_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"checkout-service/apperrors"
	"checkout-service/gateway"
	"checkout-service/models"
	aws_pkg "checkout-service/pkg/aws"
	"checkout-service/services"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	esewaSecret  = "8gBm/:&EnhH.1/q"
	esewaProduct = "EPAYTEST"
)

type reconcilerFixture struct {
	orders    *memOrders
	staging   *memStaging
	publisher *capturePublisher
	audit     *captureAudit
	metrics   *countingMetrics
	lookup    lookupFunc
	rec       *services.Reconciler
}

func newFixture(t *testing.T, lookup lookupFunc, opts services.ReconcilerOptions) *reconcilerFixture {
	t.Helper()
	f := &reconcilerFixture{
		orders:    newMemOrders(),
		staging:   newMemStaging(),
		publisher: &capturePublisher{},
		audit:     &captureAudit{},
		metrics:   &countingMetrics{},
		lookup:    lookup,
	}
	if lookup == nil {
		lookup = func(context.Context, string) (*gateway.LookupResult, error) {
			t.Fatal("unexpected khalti lookup")
			return nil, nil
		}
	}
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Second
	}
	f.rec = services.NewReconciler(
		f.orders, f.staging,
		gateway.NewSignatureEngine(esewaSecret, esewaProduct),
		lookup, f.audit, f.publisher, f.metrics,
		zap.NewNop(), opts,
	)
	return f
}

func (f *reconcilerFixture) stage(t *testing.T, txID, total string, mutate ...func(*models.PendingOrder)) {
	t.Helper()
	p := &models.PendingOrder{
		TransactionID: txID,
		Customer:      models.Customer{Name: "Sita", Email: "sita@example.com"},
		Items: []models.OrderItem{{
			ProductID: "book-1", Name: "Palpasa Cafe",
			Price: decimal.RequireFromString(total), Quantity: 1,
		}},
		Total:          decimal.RequireFromString(total),
		CreatedLocally: time.Now(),
	}
	for _, m := range mutate {
		m(p)
	}
	require.NoError(t, f.staging.Put(context.Background(), txID, p))
}

func esewaParams(t *testing.T, txID, amount, status, code string) models.CallbackParams {
	t.Helper()
	fields := map[string]string{
		"transaction_code":   code,
		"status":             status,
		"total_amount":       amount,
		"transaction_uuid":   txID,
		"product_code":       esewaProduct,
		"signed_field_names": "transaction_code,status,total_amount,transaction_uuid,product_code,signed_field_names",
	}
	var parts []string
	for _, k := range strings.Split(fields["signed_field_names"], ",") {
		parts = append(parts, k+"="+fields[k])
	}
	mac := hmac.New(sha256.New, []byte(esewaSecret))
	mac.Write([]byte(strings.Join(parts, ",")))
	fields["signature"] = base64.StdEncoding.EncodeToString(mac.Sum(nil))

	b, err := json.Marshal(fields)
	require.NoError(t, err)
	return models.CallbackParams{"data": base64.StdEncoding.EncodeToString(b)}
}

func completedLookup(paisa int64) lookupFunc {
	return func(_ context.Context, pidx string) (*gateway.LookupResult, error) {
		return &gateway.LookupResult{
			Success:     true,
			Status:      gateway.KhaltiStatusCompleted,
			PIDX:        pidx,
			TotalAmount: paisa,
			Raw:         map[string]interface{}{"pidx": pidx, "status": "Completed", "total_amount": paisa},
			HTTPStatus:  200,
		}, nil
	}
}

func TestVerifyCallback_EsewaValid(t *testing.T) {
	f := newFixture(t, nil, services.ReconcilerOptions{RequireEsewaSignature: true})
	f.stage(t, "T1", "500.00")

	res := f.rec.VerifyCallback(context.Background(), models.GatewayEsewa, esewaParams(t, "T1", "500.00", "COMPLETE", "000AWEO"))

	require.Equal(t, models.StateVerified, res.State, res.Reason)
	require.NotNil(t, res.Order)
	assert.Equal(t, "T1", res.Order.TransactionID)
	assert.True(t, res.Order.Total.Equal(decimal.RequireFromString("500")))
	assert.Equal(t, models.PaymentMethodEsewa, res.Order.PaymentMethod)
	assert.Equal(t, "000AWEO", *res.Order.GatewayReference)
	assert.Equal(t, "sita@example.com", res.Order.Customer.Email)
	assert.Equal(t, 1, f.orders.count())
	assert.False(t, f.staging.has("T1"))

	evts := f.publisher.all()
	require.Len(t, evts, 1)
	assert.Equal(t, models.EventOrderConfirmed, evts[0].Type)
	assert.False(t, evts[0].Replayed)
	require.Len(t, f.audit.attempts, 1)
	assert.Equal(t, string(models.StateVerified), f.audit.attempts[0].State)
	assert.Equal(t, 1, f.metrics.counts[aws_pkg.MetricPaymentVerified])
}

func TestVerifyCallback_KhaltiCompleted(t *testing.T) {
	f := newFixture(t, completedLookup(50000), services.ReconcilerOptions{})
	f.stage(t, "T2", "500.00")

	res := f.rec.VerifyCallback(context.Background(), models.GatewayKhalti,
		models.CallbackParams{"pidx": "P9", "purchase_order_id": "T2"})

	require.Equal(t, models.StateVerified, res.State, res.Reason)
	assert.Equal(t, models.PaymentMethodKhalti, res.Order.PaymentMethod)
	assert.Equal(t, "P9", *res.Order.GatewayReference)
	assert.Equal(t, gateway.KhaltiStatusCompleted, res.GatewayStatus)
	assert.False(t, f.staging.has("T2"))
}

func TestVerifyCallback_AmountMismatch(t *testing.T) {
	f := newFixture(t, nil, services.ReconcilerOptions{RequireEsewaSignature: true})
	f.stage(t, "T3", "500.00")

	res := f.rec.VerifyCallback(context.Background(), models.GatewayEsewa, esewaParams(t, "T3", "450.00", "COMPLETE", "X1"))

	assert.Equal(t, models.StateFailed, res.State)
	assert.Equal(t, "amount mismatch: paid 450.00, expected 500.00", res.Reason)
	assert.Equal(t, string(apperrors.KindAmountMismatch), res.Kind)
	assert.Equal(t, 0, f.orders.count())
	assert.False(t, f.staging.has("T3"))

	evts := f.publisher.all()
	require.Len(t, evts, 1)
	assert.Equal(t, models.EventPaymentFailed, evts[0].Type)
}

func TestVerifyCallback_AmountWithinRounding(t *testing.T) {
	f := newFixture(t, nil, services.ReconcilerOptions{RequireEsewaSignature: true})
	f.stage(t, "T3b", "1000.00")

	res := f.rec.VerifyCallback(context.Background(), models.GatewayEsewa, esewaParams(t, "T3b", "1,000.0", "COMPLETE", "X2"))

	assert.Equal(t, models.StateVerified, res.State, res.Reason)
}

func TestVerifyCallback_ReplayIsDuplicate(t *testing.T) {
	f := newFixture(t, nil, services.ReconcilerOptions{RequireEsewaSignature: true})
	f.stage(t, "T1", "500.00")
	params := esewaParams(t, "T1", "500.00", "COMPLETE", "000AWEO")

	first := f.rec.VerifyCallback(context.Background(), models.GatewayEsewa, params)
	require.Equal(t, models.StateVerified, first.State)

	second := f.rec.VerifyCallback(context.Background(), models.GatewayEsewa, params)
	assert.Equal(t, models.StateDuplicate, second.State)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, 1, f.orders.count())

	evts := f.publisher.all()
	require.Len(t, evts, 2)
	assert.True(t, evts[1].Replayed)
	assert.Len(t, evts[1].Items, 1)
}

func TestVerifyCallback_KhaltiPending(t *testing.T) {
	lookup := func(_ context.Context, pidx string) (*gateway.LookupResult, error) {
		return &gateway.LookupResult{Status: "Pending", PIDX: pidx, TotalAmount: 50000, Error: `payment not completed: status "Pending"`}, nil
	}
	f := newFixture(t, lookup, services.ReconcilerOptions{})
	f.stage(t, "T4", "500.00")

	res := f.rec.VerifyCallback(context.Background(), models.GatewayKhalti,
		models.CallbackParams{"pidx": "P4", "purchase_order_id": "T4"})

	assert.Equal(t, models.StateFailed, res.State)
	assert.Equal(t, "Pending", res.GatewayStatus)
	assert.Equal(t, string(apperrors.KindAuthentication), res.Kind)
	assert.Contains(t, res.Reason, "Pending")
	assert.Equal(t, 0, f.orders.count())
	assert.False(t, f.staging.has("T4"))
}

func TestVerifyCallback_KhaltiGatewayDown(t *testing.T) {
	lookup := func(_ context.Context, pidx string) (*gateway.LookupResult, error) {
		return &gateway.LookupResult{Status: gateway.LookupStatusError, PIDX: pidx, HTTPStatus: 503, Error: "khalti lookup failed with HTTP 503"}, nil
	}
	f := newFixture(t, lookup, services.ReconcilerOptions{})
	f.stage(t, "T5", "500.00")

	res := f.rec.VerifyCallback(context.Background(), models.GatewayKhalti,
		models.CallbackParams{"pidx": "P5", "purchase_order_id": "T5"})

	assert.Equal(t, models.StateFailed, res.State)
	assert.Equal(t, gateway.LookupStatusError, res.GatewayStatus)
	assert.Equal(t, string(apperrors.KindTransport), res.Kind)
}

func TestVerifyCallback_ForgedSignature(t *testing.T) {
	f := newFixture(t, nil, services.ReconcilerOptions{RequireEsewaSignature: true})
	f.stage(t, "T6", "500.00")

	params := esewaParams(t, "T6", "500.00", "COMPLETE", "X6")
	raw, _ := base64.StdEncoding.DecodeString(params["data"])
	var fields map[string]string
	require.NoError(t, json.Unmarshal(raw, &fields))
	fields["signature"] = base64.StdEncoding.EncodeToString([]byte("forged"))
	b, _ := json.Marshal(fields)

	res := f.rec.VerifyCallback(context.Background(), models.GatewayEsewa,
		models.CallbackParams{"data": base64.StdEncoding.EncodeToString(b)})

	assert.Equal(t, models.StateFailed, res.State)
	assert.Equal(t, string(apperrors.KindAuthentication), res.Kind)
	assert.Equal(t, "T6", res.TransactionID)
	assert.Equal(t, 0, f.orders.count())
}

func TestVerifyCallback_UnsignedRejectedWhenRequired(t *testing.T) {
	f := newFixture(t, nil, services.ReconcilerOptions{RequireEsewaSignature: true})
	f.stage(t, "T7", "500.00")
	b, _ := json.Marshal(map[string]string{"transaction_uuid": "T7", "total_amount": "500.00", "status": "COMPLETE"})

	res := f.rec.VerifyCallback(context.Background(), models.GatewayEsewa,
		models.CallbackParams{"data": base64.StdEncoding.EncodeToString(b)})

	assert.Equal(t, models.StateFailed, res.State)
	assert.Equal(t, "callback signature missing", res.Reason)
}

func TestVerifyCallback_MissingStagingNeverFabricates(t *testing.T) {
	f := newFixture(t, nil, services.ReconcilerOptions{RequireEsewaSignature: true})

	res := f.rec.VerifyCallback(context.Background(), models.GatewayEsewa, esewaParams(t, "T8", "500.00", "COMPLETE", "X8"))

	assert.Equal(t, models.StateFailed, res.State)
	assert.Equal(t, services.ReasonStagingMismatch, res.Reason)
	assert.Equal(t, 0, f.orders.count())
}

func TestVerifyCallback_StagedTxIDMismatch(t *testing.T) {
	f := newFixture(t, nil, services.ReconcilerOptions{RequireEsewaSignature: true})
	f.stage(t, "T9", "500.00", func(p *models.PendingOrder) { p.TransactionID = "OTHER" })

	res := f.rec.VerifyCallback(context.Background(), models.GatewayEsewa, esewaParams(t, "T9", "500.00", "COMPLETE", "X9"))

	assert.Equal(t, models.StateFailed, res.State)
	assert.Equal(t, services.ReasonStagingMismatch, res.Reason)
	assert.False(t, f.staging.has("T9"))
}

func TestVerifyCallback_KhaltiPidxMustMatchInitiation(t *testing.T) {
	f := newFixture(t, completedLookup(50000), services.ReconcilerOptions{})
	f.stage(t, "T10", "500.00", func(p *models.PendingOrder) {
		p.PaymentMethod = models.PaymentMethodKhalti
		p.GatewayReference = "P-initiated"
	})

	res := f.rec.VerifyCallback(context.Background(), models.GatewayKhalti,
		models.CallbackParams{"pidx": "P-other", "purchase_order_id": "T10"})

	assert.Equal(t, models.StateFailed, res.State)
	assert.Equal(t, string(apperrors.KindStaging), res.Kind)
	assert.Equal(t, 0, f.orders.count())
}

func TestVerifyCallback_Malformed(t *testing.T) {
	f := newFixture(t, nil, services.ReconcilerOptions{})

	for name, tc := range map[string]struct {
		kind   models.GatewayKind
		params models.CallbackParams
	}{
		"esewa garbage":      {models.GatewayEsewa, models.CallbackParams{"data": "%%%not-base64"}},
		"esewa missing data": {models.GatewayEsewa, models.CallbackParams{}},
		"khalti no pidx":     {models.GatewayKhalti, models.CallbackParams{"purchase_order_id": "T1"}},
		"unknown gateway":    {models.GatewayKind("paypal"), models.CallbackParams{}},
	} {
		t.Run(name, func(t *testing.T) {
			res := f.rec.VerifyCallback(context.Background(), tc.kind, tc.params)
			assert.Equal(t, models.StateFailed, res.State)
			assert.Equal(t, string(apperrors.KindMalformed), res.Kind)
		})
	}
	assert.Equal(t, 0, f.orders.count())
}

func TestVerifyCallback_KhaltiNotConfigured(t *testing.T) {
	lookup := func(context.Context, string) (*gateway.LookupResult, error) {
		return nil, gateway.ErrKhaltiNotConfigured
	}
	f := newFixture(t, lookup, services.ReconcilerOptions{})
	f.stage(t, "T11", "500.00")

	res := f.rec.VerifyCallback(context.Background(), models.GatewayKhalti,
		models.CallbackParams{"pidx": "P11", "purchase_order_id": "T11"})

	assert.Equal(t, models.StateFailed, res.State)
	assert.Equal(t, string(apperrors.KindConfiguration), res.Kind)
}

func TestVerifyCallback_TimeoutIsException(t *testing.T) {
	lookup := func(ctx context.Context, pidx string) (*gateway.LookupResult, error) {
		<-ctx.Done()
		return &gateway.LookupResult{Status: gateway.LookupStatusException, PIDX: pidx, Error: ctx.Err().Error()}, nil
	}
	f := newFixture(t, lookup, services.ReconcilerOptions{Timeout: 30 * time.Millisecond})
	f.stage(t, "T12", "500.00")

	res := f.rec.VerifyCallback(context.Background(), models.GatewayKhalti,
		models.CallbackParams{"pidx": "P12", "purchase_order_id": "T12"})

	assert.Equal(t, models.StateFailed, res.State)
	assert.True(t, strings.HasPrefix(res.Reason, services.ReasonException), res.Reason)
	assert.False(t, f.staging.has("T12"))
	require.Len(t, f.audit.attempts, 1)
}

func TestVerifyCallback_CommitRaceResolvesToDuplicate(t *testing.T) {
	f := newFixture(t, nil, services.ReconcilerOptions{RequireEsewaSignature: true})
	f.stage(t, "T13", "500.00")

	const n = 8
	params := esewaParams(t, "T13", "500.00", "COMPLETE", "X13")
	results := make([]*models.ReconcileResult, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.rec.VerifyCallback(context.Background(), models.GatewayEsewa, params)
		}(i)
	}
	wg.Wait()

	verified := 0
	for _, r := range results {
		require.True(t, r.State == models.StateVerified || r.State == models.StateDuplicate, "%s: %s", r.State, r.Reason)
		if r.State == models.StateVerified {
			verified++
		}
	}
	assert.Equal(t, 1, verified)
	assert.Equal(t, 1, f.orders.count())
}

func TestVerifyCallback_GatewayReferenceReused(t *testing.T) {
	f := newFixture(t, nil, services.ReconcilerOptions{RequireEsewaSignature: true})
	f.stage(t, "T14", "500.00")
	f.stage(t, "T15", "500.00")

	first := f.rec.VerifyCallback(context.Background(), models.GatewayEsewa, esewaParams(t, "T14", "500.00", "COMPLETE", "SAME"))
	require.Equal(t, models.StateVerified, first.State)

	second := f.rec.VerifyCallback(context.Background(), models.GatewayEsewa, esewaParams(t, "T15", "500.00", "COMPLETE", "SAME"))
	assert.Equal(t, models.StateFailed, second.State)
	assert.Equal(t, "payment already applied to another order", second.Reason)
	assert.Equal(t, 1, f.orders.count())
}

func TestVerifyCallback_StoreUnavailable(t *testing.T) {
	f := newFixture(t, nil, services.ReconcilerOptions{RequireEsewaSignature: true})
	f.stage(t, "T16", "500.00")
	f.orders.createErr = assert.AnError

	res := f.rec.VerifyCallback(context.Background(), models.GatewayEsewa, esewaParams(t, "T16", "500.00", "COMPLETE", "X16"))

	assert.Equal(t, models.StateFailed, res.State)
	assert.Equal(t, string(apperrors.KindInternal), res.Kind)
	assert.True(t, res.State.Terminal())
}
