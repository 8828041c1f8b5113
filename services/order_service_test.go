package services_test

import (
	"context"
	"testing"

	"checkout-service/apperrors"
	"checkout-service/models"
	"checkout-service/services"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func seedOrder(t *testing.T, repo *memOrders, txID, email string) *models.Order {
	t.Helper()
	o := &models.Order{
		TransactionID: txID,
		Customer:      models.Customer{Name: "Sita", Email: email},
		Total:         decimal.RequireFromString("500"),
		PaymentMethod: models.PaymentMethodEsewa,
	}
	require.NoError(t, repo.Create(context.Background(), o))
	return o
}

func TestGetCustomerOrders_Pagination(t *testing.T) {
	repo := newMemOrders()
	seedOrder(t, repo, "T1", "sita@example.com")
	seedOrder(t, repo, "T2", "sita@example.com")
	seedOrder(t, repo, "T3", "ram@example.com")
	svc := services.NewOrderService(repo, zap.NewNop())

	resp, err := svc.GetCustomerOrders(context.Background(), "sita@example.com", 1, 1)

	require.NoError(t, err)
	assert.Len(t, resp.Orders, 2)
	assert.Equal(t, int64(2), resp.Meta.TotalOrders)
	assert.Equal(t, int64(2), resp.Meta.TotalPages)
	assert.True(t, resp.Meta.HasMore)
}

func TestGetOrderByTransactionID_Ownership(t *testing.T) {
	repo := newMemOrders()
	seedOrder(t, repo, "T1", "sita@example.com")
	svc := services.NewOrderService(repo, zap.NewNop())

	order, err := svc.GetOrderByTransactionID(context.Background(), "T1", "sita@example.com", false)
	require.NoError(t, err)
	assert.Equal(t, "T1", order.TransactionID)

	_, err = svc.GetOrderByTransactionID(context.Background(), "T1", "ram@example.com", false)
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))

	_, err = svc.GetOrderByTransactionID(context.Background(), "T1", "", true)
	assert.NoError(t, err)

	_, err = svc.GetOrderByTransactionID(context.Background(), "missing", "sita@example.com", false)
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestUpdateStatus_ForwardOnly(t *testing.T) {
	repo := newMemOrders()
	o := seedOrder(t, repo, "T1", "sita@example.com")
	svc := services.NewOrderService(repo, zap.NewNop())

	_, err := svc.UpdateStatus(context.Background(), o.ID, models.OrderStatusDelivered)
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))

	shipped, err := svc.UpdateStatus(context.Background(), o.ID, models.OrderStatusShipped)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusShipped, shipped.Status)
	assert.NotNil(t, shipped.ShippedAt)

	delivered, err := svc.UpdateStatus(context.Background(), o.ID, models.OrderStatusDelivered)
	require.NoError(t, err)
	assert.NotNil(t, delivered.DeliveredAt)

	_, err = svc.UpdateStatus(context.Background(), o.ID, models.OrderStatusPending)
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))

	_, err = svc.UpdateStatus(context.Background(), uuid.New(), models.OrderStatusShipped)
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}
