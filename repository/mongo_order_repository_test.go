package repository_test

import (
	"context"
	"testing"
	"time"

	"checkout-service/models"
	"checkout-service/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func dec128(s string) primitive.Decimal128 {
	d, _ := primitive.ParseDecimal128(s)
	return d
}

func orderDoc(id uuid.UUID, txID string) bson.D {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return bson.D{
		{Key: "_id", Value: id.String()},
		{Key: "transaction_id", Value: txID},
		{Key: "customer", Value: bson.D{{Key: "name", Value: "Sita"}, {Key: "email", Value: "sita@example.com"}}},
		{Key: "items", Value: bson.A{bson.D{
			{Key: "product_id", Value: "b1"},
			{Key: "name", Value: "Seto Dharti"},
			{Key: "price", Value: dec128("250.00")},
			{Key: "quantity", Value: 2},
			{Key: "stock", Value: 3},
		}}},
		{Key: "total", Value: dec128("500.00")},
		{Key: "payment_method", Value: "khalti"},
		{Key: "gateway_reference", Value: "P1"},
		{Key: "status", Value: "Pending"},
		{Key: "created_at", Value: now},
		{Key: "updated_at", Value: now},
	}
}

func TestMongoOrderRepository(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("find by transaction id", func(mt *mtest.T) {
		repo := repository.NewMongoOrderRepository(mt.DB)
		id := uuid.New()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "test.orders", mtest.FirstBatch, orderDoc(id, "T1")))

		order, err := repo.FindByTransactionID(context.Background(), "T1")
		require.NoError(mt, err)
		assert.Equal(mt, id, order.ID)
		assert.Equal(mt, "500.00", order.Total.StringFixed(2))
		require.Len(mt, order.Items, 1)
		assert.Equal(mt, "250.00", order.Items[0].Price.StringFixed(2))
		assert.Equal(mt, "P1", *order.GatewayReference)
		assert.Equal(mt, models.OrderStatusPending, order.Status)
	})

	mt.Run("find by transaction id missing", func(mt *mtest.T) {
		repo := repository.NewMongoOrderRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "test.orders", mtest.FirstBatch))

		order, err := repo.FindByTransactionID(context.Background(), "T404")
		assert.Nil(mt, order)
		assert.ErrorIs(mt, err, repository.ErrOrderNotFound)
	})

	mt.Run("create", func(mt *mtest.T) {
		repo := repository.NewMongoOrderRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		order := newOrder("T1")
		require.NoError(mt, repo.Create(context.Background(), order))
		assert.NotEqual(mt, uuid.Nil, order.ID)
		assert.Equal(mt, models.OrderStatusPending, order.Status)
		assert.False(mt, order.CreatedAt.IsZero())
	})

	mt.Run("create duplicate key", func(mt *mtest.T) {
		repo := repository.NewMongoOrderRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index:   0,
			Code:    11000,
			Message: "E11000 duplicate key error collection: test.orders index: uniq_transaction_id",
		}))

		err := repo.Create(context.Background(), newOrder("T1"))
		assert.ErrorIs(mt, err, repository.ErrDuplicateTransaction)
	})

	mt.Run("find all paginated", func(mt *mtest.T) {
		repo := repository.NewMongoOrderRepository(mt.DB)
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, "test.orders", mtest.FirstBatch, bson.D{{Key: "n", Value: int32(2)}}),
			mtest.CreateCursorResponse(0, "test.orders", mtest.FirstBatch, orderDoc(uuid.New(), "T1"), orderDoc(uuid.New(), "T2")),
		)

		orders, total, err := repo.FindAll(context.Background(), 1, 10)
		require.NoError(mt, err)
		assert.Equal(mt, int64(2), total)
		assert.Len(mt, orders, 2)
	})

	mt.Run("update status conflict", func(mt *mtest.T) {
		repo := repository.NewMongoOrderRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 0},
			bson.E{Key: "nModified", Value: 0},
		))

		err := repo.UpdateStatus(context.Background(), uuid.New(), models.OrderStatusPending, models.OrderStatusShipped, time.Now())
		assert.ErrorIs(mt, err, repository.ErrStatusConflict)
	})

	mt.Run("update status", func(mt *mtest.T) {
		repo := repository.NewMongoOrderRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 1},
			bson.E{Key: "nModified", Value: 1},
		))

		err := repo.UpdateStatus(context.Background(), uuid.New(), models.OrderStatusShipped, models.OrderStatusDelivered, time.Now())
		assert.NoError(mt, err)
	})
}
