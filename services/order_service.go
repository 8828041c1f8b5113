package services

import (
	"context"
	"errors"
	"time"

	"checkout-service/apperrors"
	"checkout-service/models"
	"checkout-service/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type OrderResponse struct {
	Orders []models.Order `json:"orders"`
	Meta   MetaData       `json:"meta"`
}

type MetaData struct {
	Page        int   `json:"page"`
	Limit       int   `json:"limit"`
	TotalOrders int64 `json:"total_orders"`
	TotalPages  int64 `json:"total_pages"`
	HasMore     bool  `json:"has_more"`
}

type OrderService interface {
	GetCustomerOrders(ctx context.Context, email string, page, limit int) (*OrderResponse, error)
	GetAllOrders(ctx context.Context, page, limit int) (*OrderResponse, error)
	GetOrderByTransactionID(ctx context.Context, txID, email string, isAdmin bool) (*models.Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, next models.OrderStatus) (*models.Order, error)
}

type orderServiceImpl struct {
	repo   repository.OrderRepository
	logger *zap.Logger
}

func NewOrderService(repo repository.OrderRepository, logger *zap.Logger) OrderService {
	return &orderServiceImpl{repo: repo, logger: logger}
}

// GetCustomerOrders retrieves paginated orders placed with the given email
func (s *orderServiceImpl) GetCustomerOrders(ctx context.Context, email string, page, limit int) (*OrderResponse, error) {
	if email == "" {
		return nil, apperrors.New(apperrors.KindValidation, "customer email is required", nil)
	}
	orders, total, err := s.repo.FindByCustomerEmail(ctx, email, page, limit)
	if err != nil {
		s.logger.Error("failed to fetch customer orders", zap.String("email", email), zap.Error(err))
		return nil, apperrors.New(apperrors.KindInternal, "failed to fetch orders", err)
	}
	return newOrderResponse(orders, total, page, limit), nil
}

// GetAllOrders retrieves paginated orders for all customers (admin only)
func (s *orderServiceImpl) GetAllOrders(ctx context.Context, page, limit int) (*OrderResponse, error) {
	orders, total, err := s.repo.FindAll(ctx, page, limit)
	if err != nil {
		s.logger.Error("failed to fetch all orders", zap.Error(err))
		return nil, apperrors.New(apperrors.KindInternal, "failed to fetch orders", err)
	}
	return newOrderResponse(orders, total, page, limit), nil
}

// GetOrderByTransactionID returns the order committed for txID. Customers
// only see their own orders; anything else is reported as not found.
func (s *orderServiceImpl) GetOrderByTransactionID(ctx context.Context, txID, email string, isAdmin bool) (*models.Order, error) {
	order, err := s.repo.FindByTransactionID(ctx, txID)
	if errors.Is(err, repository.ErrOrderNotFound) {
		return nil, apperrors.New(apperrors.KindNotFound, "order not found", nil)
	}
	if err != nil {
		s.logger.Error("failed to fetch order", zap.String("tx_id", txID), zap.Error(err))
		return nil, apperrors.New(apperrors.KindInternal, "failed to fetch order", err)
	}
	if !isAdmin && order.Customer.Email != email {
		return nil, apperrors.New(apperrors.KindNotFound, "order not found", nil)
	}
	return order, nil
}

// UpdateStatus moves an order forward through fulfillment.
func (s *orderServiceImpl) UpdateStatus(ctx context.Context, id uuid.UUID, next models.OrderStatus) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, repository.ErrOrderNotFound) {
		return nil, apperrors.New(apperrors.KindNotFound, "order not found", nil)
	}
	if err != nil {
		return nil, apperrors.New(apperrors.KindInternal, "failed to fetch order", err)
	}
	if !order.CanTransitionTo(next) {
		return nil, apperrors.Newf(apperrors.KindConflict, "cannot move order from %s to %s", order.Status, next)
	}

	now := time.Now().UTC()
	if err := s.repo.UpdateStatus(ctx, id, order.Status, next, now); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return nil, apperrors.New(apperrors.KindConflict, "order status changed concurrently", err)
		}
		s.logger.Error("failed to update order status", zap.String("order_id", id.String()), zap.Error(err))
		return nil, apperrors.New(apperrors.KindInternal, "failed to update order status", err)
	}

	s.logger.Info("order status updated",
		zap.String("order_id", id.String()),
		zap.String("from", string(order.Status)),
		zap.String("to", string(next)),
	)
	order.Status = next
	switch next {
	case models.OrderStatusShipped:
		order.ShippedAt = &now
	case models.OrderStatusDelivered:
		order.DeliveredAt = &now
	}
	return order, nil
}

func newOrderResponse(orders []models.Order, total int64, page, limit int) *OrderResponse {
	return &OrderResponse{
		Orders: orders,
		Meta: MetaData{
			Page:        page,
			Limit:       limit,
			TotalOrders: total,
			TotalPages:  calculateTotalPages(total, limit),
			HasMore:     total > int64(page*limit),
		},
	}
}

func calculateTotalPages(total int64, limit int) int64 {
	if limit == 0 {
		return 0
	}
	return (total + int64(limit) - 1) / int64(limit)
}
