package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"checkout-service/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const ordersCollection = "orders"

type orderItemDocument struct {
	ProductID string               `bson:"product_id"`
	Name      string               `bson:"name"`
	Price     primitive.Decimal128 `bson:"price"`
	Quantity  int                  `bson:"quantity"`
	Stock     int                  `bson:"stock"`
}

type orderDocument struct {
	ID               string               `bson:"_id"`
	TransactionID    string               `bson:"transaction_id"`
	Customer         models.Customer      `bson:"customer"`
	Items            []orderItemDocument  `bson:"items"`
	Total            primitive.Decimal128 `bson:"total"`
	PaymentMethod    string               `bson:"payment_method"`
	GatewayReference *string              `bson:"gateway_reference,omitempty"`
	GatewayPayload   string               `bson:"gateway_payload,omitempty"`
	Status           string               `bson:"status"`
	ShippedAt        *time.Time           `bson:"shipped_at,omitempty"`
	DeliveredAt      *time.Time           `bson:"delivered_at,omitempty"`
	CreatedAt        time.Time            `bson:"created_at"`
	UpdatedAt        time.Time            `bson:"updated_at"`
}

func toDecimal128(d decimal.Decimal) primitive.Decimal128 {
	v, _ := primitive.ParseDecimal128(d.StringFixed(2))
	return v
}

func fromDecimal128(v primitive.Decimal128) decimal.Decimal {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}

func newOrderDocument(o *models.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, orderItemDocument{
			ProductID: it.ProductID,
			Name:      it.Name,
			Price:     toDecimal128(it.Price),
			Quantity:  it.Quantity,
			Stock:     it.Stock,
		})
	}
	return orderDocument{
		ID:               o.ID.String(),
		TransactionID:    o.TransactionID,
		Customer:         o.Customer,
		Items:            items,
		Total:            toDecimal128(o.Total),
		PaymentMethod:    o.PaymentMethod,
		GatewayReference: o.GatewayReference,
		GatewayPayload:   string(o.GatewayPayload),
		Status:           string(o.Status),
		ShippedAt:        o.ShippedAt,
		DeliveredAt:      o.DeliveredAt,
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
	}
}

func (d *orderDocument) toModel() models.Order {
	items := make([]models.OrderItem, 0, len(d.Items))
	for _, it := range d.Items {
		items = append(items, models.OrderItem{
			ProductID: it.ProductID,
			Name:      it.Name,
			Price:     fromDecimal128(it.Price),
			Quantity:  it.Quantity,
			Stock:     it.Stock,
		})
	}
	id, _ := uuid.Parse(d.ID)
	o := models.Order{
		ID:               id,
		TransactionID:    d.TransactionID,
		Customer:         d.Customer,
		Items:            items,
		Total:            fromDecimal128(d.Total),
		PaymentMethod:    d.PaymentMethod,
		GatewayReference: d.GatewayReference,
		Status:           models.OrderStatus(d.Status),
		ShippedAt:        d.ShippedAt,
		DeliveredAt:      d.DeliveredAt,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
	if d.GatewayPayload != "" {
		o.GatewayPayload = []byte(d.GatewayPayload)
	}
	return o
}

// MongoOrderRepository implements OrderRepository on a MongoDB collection.
type MongoOrderRepository struct {
	coll *mongo.Collection
}

func NewMongoOrderRepository(db *mongo.Database) *MongoOrderRepository {
	return &MongoOrderRepository{coll: db.Collection(ordersCollection)}
}

// EnsureIndexes creates the unique indexes duplicate detection relies on.
func (r *MongoOrderRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "transaction_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_transaction_id"),
		},
		{
			Keys:    bson.D{{Key: "gateway_reference", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true).SetName("uniq_gateway_reference"),
		},
		{
			Keys: bson.D{{Key: "customer.email", Value: 1}, {Key: "created_at", Value: -1}},
		},
	})
	if err != nil {
		return fmt.Errorf("create order indexes: %w", err)
	}
	return nil
}

func (r *MongoOrderRepository) findOne(ctx context.Context, filter bson.M) (*models.Order, error) {
	var doc orderDocument
	err := r.coll.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	order := doc.toModel()
	return &order, nil
}

func (r *MongoOrderRepository) FindByTransactionID(ctx context.Context, txID string) (*models.Order, error) {
	return r.findOne(ctx, bson.M{"transaction_id": txID})
}

func (r *MongoOrderRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return r.findOne(ctx, bson.M{"_id": id.String()})
}

func (r *MongoOrderRepository) Create(ctx context.Context, order *models.Order) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	if order.Status == "" {
		order.Status = models.OrderStatusPending
	}
	now := time.Now().UTC()
	order.CreatedAt = now
	order.UpdatedAt = now

	_, err := r.coll.InsertOne(ctx, newOrderDocument(order))
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateTransaction
	}
	return err
}

func (r *MongoOrderRepository) FindByCustomerEmail(ctx context.Context, email string, page, limit int) ([]models.Order, int64, error) {
	return r.paginate(ctx, bson.M{"customer.email": email}, page, limit)
}

func (r *MongoOrderRepository) FindAll(ctx context.Context, page, limit int) ([]models.Order, int64, error) {
	return r.paginate(ctx, bson.M{}, page, limit)
}

func (r *MongoOrderRepository) paginate(ctx context.Context, filter bson.M, page, limit int) ([]models.Order, int64, error) {
	total, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(int64((page - 1) * limit)).
		SetLimit(int64(limit))
	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	var docs []orderDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, 0, err
	}
	orders := make([]models.Order, 0, len(docs))
	for i := range docs {
		orders = append(orders, docs[i].toModel())
	}
	return orders, total, nil
}

func (r *MongoOrderRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to models.OrderStatus, at time.Time) error {
	set := bson.M{"status": string(to), "updated_at": at}
	switch to {
	case models.OrderStatusShipped:
		set["shipped_at"] = at
	case models.OrderStatusDelivered:
		set["delivered_at"] = at
	}

	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id.String(), "status": string(from)},
		bson.M{"$set": set},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrStatusConflict
	}
	return nil
}
