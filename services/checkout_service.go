package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"checkout-service/apperrors"
	"checkout-service/gateway"
	"checkout-service/models"
	aws_pkg "checkout-service/pkg/aws"
	"checkout-service/repository"
	"checkout-service/staging"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var totalTolerance = decimal.New(1, -2)

// StageOrderRequest is the checkout payload captured before redirecting to a gateway.
type StageOrderRequest struct {
	TransactionID string             `json:"transaction_id"`
	Customer      models.Customer    `json:"customer" validate:"required"`
	Items         []models.OrderItem `json:"items" validate:"required,min=1,dive"`
	Total         decimal.Decimal    `json:"total"`
	PaymentMethod string             `json:"payment_method" validate:"omitempty,oneof=esewa khalti"`
}

// SignEsewaRequest asks for the signed eSewa form fields of a staged checkout.
type SignEsewaRequest struct {
	TransactionID string `json:"transaction_uuid" binding:"required"`
	TotalAmount   string `json:"total_amount"`
}

// Buyer is the authenticated session behind a checkout call.
type Buyer struct {
	UserID string
	Email  string
}

// Owner is the identity a staged checkout is bound to.
func (b Buyer) Owner() string {
	if b.UserID != "" {
		return b.UserID
	}
	return b.Email
}

// KhaltiInitiator starts a Khalti payment.
type KhaltiInitiator interface {
	Initiate(ctx context.Context, body map[string]interface{}) (*gateway.InitiateResponse, error)
}

type CheckoutService interface {
	StageOrder(ctx context.Context, buyer Buyer, req *StageOrderRequest) (*models.PendingOrder, error)
	AbandonCheckout(ctx context.Context, buyer Buyer, txID string) error
	SignEsewa(ctx context.Context, buyer Buyer, req *SignEsewaRequest) (*gateway.SignedRequest, error)
	InitiateKhalti(ctx context.Context, buyer Buyer, body map[string]interface{}) (*gateway.InitiateResponse, error)
}

type checkoutServiceImpl struct {
	staging  staging.Store
	orders   repository.OrderRepository
	signer   *gateway.SignatureEngine
	khalti   KhaltiInitiator
	metrics  MetricsRecorder
	validate *validator.Validate
	logger   *zap.Logger
}

func NewCheckoutService(store staging.Store, orders repository.OrderRepository, signer *gateway.SignatureEngine, khalti KhaltiInitiator, metrics MetricsRecorder, logger *zap.Logger) CheckoutService {
	return &checkoutServiceImpl{
		staging:  store,
		orders:   orders,
		signer:   signer,
		khalti:   khalti,
		metrics:  metrics,
		validate: validator.New(),
		logger:   logger,
	}
}

// StageOrder validates a checkout payload and stages it under its
// transaction ID, generating one when the client sent none. The customer
// email is the buyer's, and the entry is bound to the buyer.
func (s *checkoutServiceImpl) StageOrder(ctx context.Context, buyer Buyer, req *StageOrderRequest) (*models.PendingOrder, error) {
	if buyer.Owner() == "" {
		return nil, errNoSession
	}
	if buyer.Email != "" {
		req.Customer.Email = buyer.Email
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, apperrors.New(apperrors.KindValidation, "invalid checkout payload", err)
	}

	pending := &models.PendingOrder{
		TransactionID:  req.TransactionID,
		Customer:       req.Customer,
		Items:          req.Items,
		Total:          req.Total,
		PaymentMethod:  req.PaymentMethod,
		Owner:          buyer.Owner(),
		CreatedLocally: time.Now().UTC(),
	}
	for _, it := range pending.Items {
		if it.Price.IsNegative() {
			return nil, apperrors.Newf(apperrors.KindValidation, "item %s has a negative price", it.ProductID)
		}
	}
	if !pending.Total.IsPositive() {
		return nil, apperrors.New(apperrors.KindValidation, "total must be positive", nil)
	}
	if sum := pending.ItemsTotal(); sum.Sub(pending.Total).Abs().GreaterThan(totalTolerance) {
		return nil, apperrors.Newf(apperrors.KindValidation,
			"total %s does not match items total %s", pending.Total.StringFixed(2), sum.StringFixed(2))
	}

	if pending.TransactionID == "" {
		pending.TransactionID = uuid.NewString()
	} else if _, err := s.orders.FindByTransactionID(ctx, pending.TransactionID); err == nil {
		return nil, apperrors.New(apperrors.KindConflict, "transaction already completed", nil)
	} else if !errors.Is(err, repository.ErrOrderNotFound) {
		s.logger.Error("order lookup failed while staging", zap.String("tx_id", pending.TransactionID), zap.Error(err))
		return nil, apperrors.New(apperrors.KindInternal, "failed to stage order", err)
	}

	if err := s.staging.Put(ctx, pending.TransactionID, pending); err != nil {
		if errors.Is(err, staging.ErrOwnerMismatch) {
			s.logger.Warn("restage attempted by another session",
				zap.String("tx_id", pending.TransactionID),
				zap.String("owner", pending.Owner),
			)
			return nil, apperrors.New(apperrors.KindConflict, "transaction staged by another session", err)
		}
		s.logger.Error("failed to stage order", zap.String("tx_id", pending.TransactionID), zap.Error(err))
		return nil, apperrors.New(apperrors.KindInternal, "failed to stage order", err)
	}

	if s.metrics != nil {
		_ = s.metrics.RecordCount(ctx, aws_pkg.MetricOrdersStaged, map[string]string{"Gateway": pending.PaymentMethod})
	}
	s.logger.Info("order staged",
		zap.String("tx_id", pending.TransactionID),
		zap.String("total", pending.Total.StringFixed(2)),
		zap.Int("items", len(pending.Items)),
	)
	return pending, nil
}

// AbandonCheckout clears the buyer's staged checkout. A missing entry is
// already abandoned.
func (s *checkoutServiceImpl) AbandonCheckout(ctx context.Context, buyer Buyer, txID string) error {
	_, err := s.ownedEntry(ctx, buyer, txID)
	if errors.Is(err, staging.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.staging.Clear(ctx, txID); err != nil {
		return apperrors.New(apperrors.KindInternal, "failed to clear staged order", err)
	}
	s.logger.Info("checkout abandoned", zap.String("tx_id", txID))
	return nil
}

// SignEsewa signs the eSewa initiation for a staged checkout. The amount
// always comes from staging; a client-supplied amount must agree with it.
func (s *checkoutServiceImpl) SignEsewa(ctx context.Context, buyer Buyer, req *SignEsewaRequest) (*gateway.SignedRequest, error) {
	if !s.signer.Configured() {
		s.logger.Error("esewa signing requested without a secret key")
		return nil, gateway.ErrMissingSecret
	}

	pending, err := s.stagedFor(ctx, buyer, req.TransactionID)
	if err != nil {
		return nil, err
	}
	amount := pending.Total.StringFixed(2)
	if req.TotalAmount != "" {
		claimed, err := decimal.NewFromString(req.TotalAmount)
		if err != nil || !claimed.Round(2).Equal(pending.Total.Round(2)) {
			return nil, apperrors.Newf(apperrors.KindValidation, "total_amount %q does not match staged total %s", req.TotalAmount, amount)
		}
	}

	signed, err := s.signer.SignRequest(amount, pending.TransactionID)
	if err != nil {
		return nil, err
	}

	if pending.PaymentMethod != models.PaymentMethodEsewa {
		pending.PaymentMethod = models.PaymentMethodEsewa
		if err := s.staging.Put(ctx, pending.TransactionID, pending); err != nil {
			s.logger.Warn("failed to bind gateway to staged order", zap.String("tx_id", pending.TransactionID), zap.Error(err))
		}
	}
	return signed, nil
}

// InitiateKhalti forwards an initiation body to Khalti and binds the
// returned pidx to the staged checkout named by purchase_order_id.
func (s *checkoutServiceImpl) InitiateKhalti(ctx context.Context, buyer Buyer, body map[string]interface{}) (*gateway.InitiateResponse, error) {
	txID, _ := body["purchase_order_id"].(string)
	if txID == "" {
		return nil, apperrors.New(apperrors.KindValidation, "purchase_order_id is required", nil)
	}

	pending, err := s.stagedFor(ctx, buyer, txID)
	if err != nil {
		return nil, err
	}
	expected := pending.Total.Shift(2).Round(0)
	if raw, ok := body["amount"]; ok {
		amount, err := decimal.NewFromString(fmt.Sprint(raw))
		if err != nil || !amount.Equal(expected) {
			return nil, apperrors.Newf(apperrors.KindValidation, "amount %v does not match staged total %s paisa", raw, expected.String())
		}
	} else {
		body["amount"] = expected.IntPart()
	}

	resp, err := s.khalti.Initiate(ctx, body)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		s.logger.Warn("khalti initiation rejected",
			zap.String("tx_id", txID),
			zap.Int("status_code", resp.StatusCode),
			zap.String("error", resp.ErrorMessage()),
		)
		return resp, nil
	}

	if resp.PIDX != "" {
		pending.PaymentMethod = models.PaymentMethodKhalti
		pending.GatewayReference = resp.PIDX
		if err := s.staging.Put(ctx, txID, pending); err != nil {
			s.logger.Warn("failed to bind pidx to staged order", zap.String("tx_id", txID), zap.Error(err))
		}
	}
	s.logger.Info("khalti payment initiated", zap.String("tx_id", txID), zap.String("pidx", resp.PIDX))
	return resp, nil
}

var errNoSession = apperrors.New(apperrors.KindForbidden, "checkout requires an authenticated session", nil)

// ownedEntry reads a staged checkout and checks it belongs to buyer.
// staging.ErrNotFound is returned unwrapped.
func (s *checkoutServiceImpl) ownedEntry(ctx context.Context, buyer Buyer, txID string) (*models.PendingOrder, error) {
	if buyer.Owner() == "" {
		return nil, errNoSession
	}
	pending, err := s.staging.Get(ctx, txID)
	if errors.Is(err, staging.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		s.logger.Error("staging read failed", zap.String("tx_id", txID), zap.Error(err))
		return nil, apperrors.New(apperrors.KindInternal, "failed to read staged order", err)
	}
	if !pending.OwnedBy(buyer.Owner()) {
		s.logger.Warn("staged checkout accessed by another session",
			zap.String("tx_id", txID),
			zap.String("owner", buyer.Owner()),
		)
		return nil, apperrors.New(apperrors.KindForbidden, "staged checkout belongs to another session", nil)
	}
	return pending, nil
}

func (s *checkoutServiceImpl) stagedFor(ctx context.Context, buyer Buyer, txID string) (*models.PendingOrder, error) {
	pending, err := s.ownedEntry(ctx, buyer, txID)
	if errors.Is(err, staging.ErrNotFound) {
		return nil, apperrors.New(apperrors.KindStaging, "no staged checkout for transaction", err)
	}
	return pending, err
}
