package repository

import (
	"context"
	"time"

	"checkout-service/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"gorm.io/gorm"
)

// CallbackRepository stores the audit trail of processed callbacks.
type CallbackRepository interface {
	Record(ctx context.Context, attempt *models.CallbackAttempt) error
}

type GormCallbackRepository struct {
	db *gorm.DB
}

func NewGormCallbackRepository(db *gorm.DB) CallbackRepository {
	return &GormCallbackRepository{db: db}
}

func (r *GormCallbackRepository) Record(ctx context.Context, attempt *models.CallbackAttempt) error {
	return r.db.WithContext(ctx).Create(attempt).Error
}

type MongoCallbackRepository struct {
	coll *mongo.Collection
}

func NewMongoCallbackRepository(db *mongo.Database) CallbackRepository {
	return &MongoCallbackRepository{coll: db.Collection("payment_callbacks")}
}

func (r *MongoCallbackRepository) Record(ctx context.Context, attempt *models.CallbackAttempt) error {
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now().UTC()
	}
	_, err := r.coll.InsertOne(ctx, bson.M{
		"gateway":        attempt.Gateway,
		"transaction_id": attempt.TransactionID,
		"state":          attempt.State,
		"reason":         attempt.Reason,
		"gateway_status": attempt.GatewayStatus,
		"payload":        string(attempt.Payload),
		"created_at":     attempt.CreatedAt,
	})
	return err
}
