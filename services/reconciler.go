package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"checkout-service/apperrors"
	"checkout-service/events"
	"checkout-service/gateway"
	"checkout-service/models"
	aws_pkg "checkout-service/pkg/aws"
	"checkout-service/repository"
	"checkout-service/staging"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// Reasons reported on Failed results.
const (
	ReasonStagingMismatch = "local data mismatch or missing"
	ReasonException       = "exception"
)

const cleanupTimeout = 5 * time.Second

// KhaltiLookup is the server-side status lookup for Khalti payments.
type KhaltiLookup interface {
	Lookup(ctx context.Context, pidx string) (*gateway.LookupResult, error)
}

// MetricsRecorder is satisfied by *aws.MetricsClient.
type MetricsRecorder interface {
	RecordCount(ctx context.Context, metricName string, dimensions map[string]string) error
	RecordLatency(ctx context.Context, metricName string, duration time.Duration, dimensions map[string]string) error
}

// CallbackVerifier is the boundary the HTTP and queue layers use.
type CallbackVerifier interface {
	VerifyCallback(ctx context.Context, kind models.GatewayKind, params models.CallbackParams) *models.ReconcileResult
}

type ReconcilerOptions struct {
	// Timeout bounds the whole verification of one callback.
	Timeout time.Duration
	// RequireEsewaSignature rejects eSewa callbacks without a response signature.
	RequireEsewaSignature bool
}

// Reconciler turns a gateway callback into at most one committed order.
type Reconciler struct {
	orders    repository.OrderRepository
	staging   staging.Store
	signer    *gateway.SignatureEngine
	khalti    KhaltiLookup
	callbacks repository.CallbackRepository
	publisher events.Publisher
	metrics   MetricsRecorder
	logger    *zap.Logger
	opts      ReconcilerOptions
}

// NewReconciler wires a Reconciler. callbacks, publisher and metrics may be nil.
func NewReconciler(
	orders repository.OrderRepository,
	store staging.Store,
	signer *gateway.SignatureEngine,
	khalti KhaltiLookup,
	callbacks repository.CallbackRepository,
	publisher events.Publisher,
	metrics MetricsRecorder,
	logger *zap.Logger,
	opts ReconcilerOptions,
) *Reconciler {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &Reconciler{
		orders:    orders,
		staging:   store,
		signer:    signer,
		khalti:    khalti,
		callbacks: callbacks,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		opts:      opts,
	}
}

// confirmedPayment is what the gateway vouched for.
type confirmedPayment struct {
	txID          string
	amount        decimal.Decimal
	reference     string
	gatewayStatus string
	raw           []byte
}

// rejection is a Failed outcome before or during reconciliation.
type rejection struct {
	err           error
	gatewayStatus string
}

func reject(err error) *rejection { return &rejection{err: err} }

// VerifyCallback runs one callback to a terminal state. It never returns a
// result in the Verifying state and never panics on bad input.
func (r *Reconciler) VerifyCallback(ctx context.Context, kind models.GatewayKind, params models.CallbackParams) *models.ReconcileResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	r.count(ctx, aws_pkg.MetricCallbacksReceived, kind)

	txID := callbackTxID(kind, params)
	result := r.reconcile(ctx, kind, params)
	if result.TransactionID == "" {
		result.TransactionID = txID
	}

	if result.State == models.StateFailed && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		result.Reason = fmt.Sprintf("%s: verification timed out after %s", ReasonException, r.opts.Timeout)
		result.Kind = string(apperrors.KindTransport)
	}

	// Staging is cleared whatever the outcome so a retry cannot reuse it.
	if result.TransactionID != "" {
		r.clearStaging(ctx, result.TransactionID)
	}

	r.finish(ctx, kind, params, result, time.Since(start))
	return result
}

func (r *Reconciler) reconcile(ctx context.Context, kind models.GatewayKind, params models.CallbackParams) *models.ReconcileResult {
	payment, rej := r.authenticate(ctx, kind, params)
	if rej != nil {
		txID := ""
		if payment != nil {
			txID = payment.txID
		}
		return failed(txID, rej)
	}

	existing, err := r.orders.FindByTransactionID(ctx, payment.txID)
	switch {
	case err == nil:
		return duplicate(existing, payment)
	case !errors.Is(err, repository.ErrOrderNotFound):
		r.logger.Error("order lookup failed", zap.String("tx_id", payment.txID), zap.Error(err))
		return failed(payment.txID, reject(apperrors.New(apperrors.KindInternal, "order store unavailable", err)))
	}

	staged, err := r.staging.Get(ctx, payment.txID)
	if err != nil {
		if errors.Is(err, staging.ErrNotFound) {
			// A concurrent callback may have committed and cleared staging.
			if winner, findErr := r.orders.FindByTransactionID(ctx, payment.txID); findErr == nil {
				return duplicate(winner, payment)
			}
		} else {
			r.logger.Error("staging read failed", zap.String("tx_id", payment.txID), zap.Error(err))
		}
		return failed(payment.txID, reject(apperrors.New(apperrors.KindStaging, ReasonStagingMismatch, err)))
	}
	if rej := matchStaged(kind, payment, staged); rej != nil {
		return failed(payment.txID, rej)
	}

	paid, expected := payment.amount.Round(2), staged.Total.Round(2)
	if !paid.Equal(expected) {
		return failed(payment.txID, reject(apperrors.Newf(apperrors.KindAmountMismatch,
			"amount mismatch: paid %s, expected %s", paid.StringFixed(2), expected.StringFixed(2))))
	}

	order := &models.Order{
		TransactionID: payment.txID,
		Customer:      staged.Customer,
		Items:         datatypes.JSONSlice[models.OrderItem](staged.Items),
		Total:         paid,
		PaymentMethod: string(kind),
		Status:        models.OrderStatusPending,
	}
	if payment.reference != "" {
		ref := payment.reference
		order.GatewayReference = &ref
	}
	if len(payment.raw) > 0 && json.Valid(payment.raw) {
		order.GatewayPayload = datatypes.JSON(payment.raw)
	}

	if err := r.orders.Create(ctx, order); err != nil {
		return r.resolveCreateFailure(ctx, payment, err)
	}

	r.count(ctx, aws_pkg.MetricOrdersCreated, kind)
	return &models.ReconcileResult{
		State:         models.StateVerified,
		TransactionID: payment.txID,
		Order:         order,
		GatewayStatus: payment.gatewayStatus,
	}
}

// resolveCreateFailure handles a commit that lost a race with a concurrent
// callback for the same transaction.
func (r *Reconciler) resolveCreateFailure(ctx context.Context, payment *confirmedPayment, err error) *models.ReconcileResult {
	if !errors.Is(err, repository.ErrDuplicateTransaction) {
		r.logger.Error("order commit failed", zap.String("tx_id", payment.txID), zap.Error(err))
		return failed(payment.txID, reject(apperrors.New(apperrors.KindInternal, "failed to record order", err)))
	}

	winner, findErr := r.orders.FindByTransactionID(ctx, payment.txID)
	if findErr == nil {
		r.logger.Info("concurrent callback already committed order", zap.String("tx_id", payment.txID))
		return duplicate(winner, payment)
	}
	// The unique key that clashed was the gateway reference.
	r.logger.Warn("gateway reference already used by another order",
		zap.String("tx_id", payment.txID),
		zap.String("gateway_reference", payment.reference),
	)
	return failed(payment.txID, reject(apperrors.New(apperrors.KindConflict, "payment already applied to another order", err)))
}

func (r *Reconciler) authenticate(ctx context.Context, kind models.GatewayKind, params models.CallbackParams) (*confirmedPayment, *rejection) {
	switch kind {
	case models.GatewayEsewa:
		return r.authenticateEsewa(params)
	case models.GatewayKhalti:
		return r.authenticateKhalti(ctx, params)
	default:
		return nil, reject(apperrors.New(apperrors.KindMalformed, "malformed callback", fmt.Errorf("unknown gateway %q", kind)))
	}
}

func (r *Reconciler) authenticateEsewa(params models.CallbackParams) (*confirmedPayment, *rejection) {
	cb, err := gateway.DecodeEsewaCallback(params["data"])
	if err != nil {
		return nil, reject(err)
	}
	amount, err := cb.Amount()
	if err != nil {
		return nil, reject(err)
	}
	if err := gateway.VerifyEsewaCallback(cb, r.signer, r.opts.RequireEsewaSignature); err != nil {
		return &confirmedPayment{txID: cb.TransactionUUID}, &rejection{err: err, gatewayStatus: cb.Status}
	}
	return &confirmedPayment{
		txID:          cb.TransactionUUID,
		amount:        amount,
		reference:     cb.TransactionCode,
		gatewayStatus: cb.Status,
		raw:           cb.Raw,
	}, nil
}

func (r *Reconciler) authenticateKhalti(ctx context.Context, params models.CallbackParams) (*confirmedPayment, *rejection) {
	pidx, txID := params["pidx"], params["purchase_order_id"]
	if pidx == "" || txID == "" {
		return nil, reject(apperrors.New(apperrors.KindMalformed, "malformed callback", errors.New("pidx and purchase_order_id are required")))
	}

	lookup, err := r.khalti.Lookup(ctx, pidx)
	if err != nil {
		r.logger.Error("khalti lookup unavailable", zap.String("tx_id", txID), zap.Error(err))
		return nil, reject(err)
	}
	if !lookup.Success {
		kind := apperrors.KindAuthentication
		if lookup.Status == gateway.LookupStatusException || (lookup.Status == gateway.LookupStatusError && lookup.HTTPStatus >= 500) {
			kind = apperrors.KindTransport
		}
		msg := lookup.Error
		if msg == "" {
			msg = "khalti lookup failed"
		}
		return nil, &rejection{err: apperrors.New(kind, msg, nil), gatewayStatus: lookup.Status}
	}

	raw, _ := json.Marshal(lookup.Raw)
	return &confirmedPayment{
		txID:          txID,
		amount:        lookup.Amount(),
		reference:     pidx,
		gatewayStatus: lookup.Status,
		raw:           raw,
	}, nil
}

// matchStaged cross-checks the staged claim against the confirmed payment.
func matchStaged(kind models.GatewayKind, payment *confirmedPayment, staged *models.PendingOrder) *rejection {
	mismatch := func(detail string) *rejection {
		return reject(apperrors.New(apperrors.KindStaging, ReasonStagingMismatch, errors.New(detail)))
	}
	switch {
	case staged.TransactionID != payment.txID:
		return mismatch("staged transaction id differs")
	case staged.PaymentMethod != "" && staged.PaymentMethod != string(kind):
		return mismatch("staged for a different gateway")
	case kind == models.GatewayKhalti && staged.GatewayReference != "" && staged.GatewayReference != payment.reference:
		return mismatch("pidx does not match the initiated payment")
	}
	return nil
}

func failed(txID string, rej *rejection) *models.ReconcileResult {
	return &models.ReconcileResult{
		State:         models.StateFailed,
		TransactionID: txID,
		Reason:        reasonOf(rej.err),
		Kind:          string(apperrors.KindOf(rej.err)),
		GatewayStatus: rej.gatewayStatus,
	}
}

func duplicate(order *models.Order, payment *confirmedPayment) *models.ReconcileResult {
	return &models.ReconcileResult{
		State:         models.StateDuplicate,
		TransactionID: order.TransactionID,
		Order:         order,
		GatewayStatus: payment.gatewayStatus,
	}
}

func reasonOf(err error) string {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

func callbackTxID(kind models.GatewayKind, params models.CallbackParams) string {
	if kind == models.GatewayKhalti {
		return params["purchase_order_id"]
	}
	return ""
}

func (r *Reconciler) clearStaging(ctx context.Context, txID string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := r.staging.Clear(cctx, txID); err != nil {
		r.logger.Warn("failed to clear staged order", zap.String("tx_id", txID), zap.Error(err))
	}
}

// finish records the outcome. Nothing here can change the terminal state.
func (r *Reconciler) finish(ctx context.Context, kind models.GatewayKind, params models.CallbackParams, res *models.ReconcileResult, elapsed time.Duration) {
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	fields := []zap.Field{
		zap.String("gateway", string(kind)),
		zap.String("tx_id", res.TransactionID),
		zap.String("state", string(res.State)),
		zap.Duration("elapsed", elapsed),
	}
	switch res.State {
	case models.StateFailed:
		r.logger.Warn("payment callback failed", append(fields,
			zap.String("reason", res.Reason),
			zap.String("kind", res.Kind),
			zap.String("gateway_status", res.GatewayStatus),
		)...)
		r.count(bg, aws_pkg.MetricPaymentFailed, kind)
	case models.StateDuplicate:
		r.logger.Info("payment callback replayed", append(fields, zap.String("order_id", res.Order.ID.String()))...)
		r.count(bg, aws_pkg.MetricCallbackDuplicate, kind)
	default:
		r.logger.Info("payment callback verified", append(fields, zap.String("order_id", res.Order.ID.String()))...)
		r.count(bg, aws_pkg.MetricPaymentVerified, kind)
	}
	if r.metrics != nil {
		_ = r.metrics.RecordLatency(bg, aws_pkg.MetricReconcileLatency, elapsed, map[string]string{"Gateway": string(kind)})
	}

	if r.callbacks != nil {
		payload, _ := json.Marshal(params)
		attempt := &models.CallbackAttempt{
			Gateway:       string(kind),
			TransactionID: res.TransactionID,
			State:         string(res.State),
			Reason:        res.Reason,
			GatewayStatus: res.GatewayStatus,
			Payload:       datatypes.JSON(payload),
		}
		if err := r.callbacks.Record(bg, attempt); err != nil {
			r.logger.Warn("failed to record callback audit", zap.String("tx_id", res.TransactionID), zap.Error(err))
		}
	}

	if res.TransactionID == "" {
		return
	}
	if err := r.publisher.PublishOrderEvent(bg, orderEvent(kind, res)); err != nil {
		r.logger.Warn("failed to publish order event", zap.String("tx_id", res.TransactionID), zap.Error(err))
	}
}

func orderEvent(kind models.GatewayKind, res *models.ReconcileResult) models.OrderEvent {
	evt := models.OrderEvent{
		Type:          models.EventOrderConfirmed,
		TransactionID: res.TransactionID,
		Gateway:       string(kind),
		Timestamp:     time.Now().UTC(),
	}
	if res.State == models.StateFailed {
		evt.Type = models.EventPaymentFailed
		evt.Reason = res.Reason
		return evt
	}
	evt.OrderID = res.Order.ID.String()
	evt.Email = res.Order.Customer.Email
	evt.Items = res.Order.Items
	evt.Total = res.Order.Total
	evt.Replayed = res.State == models.StateDuplicate
	return evt
}

func (r *Reconciler) count(ctx context.Context, metric string, kind models.GatewayKind) {
	if r.metrics == nil {
		return
	}
	_ = r.metrics.RecordCount(ctx, metric, map[string]string{"Gateway": string(kind)})
}
