// Package events delivers order events to the configured bus.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"checkout-service/models"
	aws_pkg "checkout-service/pkg/aws"
)

// Publisher sends an order event downstream.
type Publisher interface {
	PublishOrderEvent(ctx context.Context, evt models.OrderEvent) error
}

// SNSPublisher publishes order events to one SNS topic.
type SNSPublisher struct {
	client   aws_pkg.SNSPublisher
	topicArn string
}

func NewSNSPublisher(client aws_pkg.SNSPublisher, topicArn string) *SNSPublisher {
	return &SNSPublisher{client: client, topicArn: topicArn}
}

func (p *SNSPublisher) PublishOrderEvent(ctx context.Context, evt models.OrderEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}
	return p.client.Publish(ctx, p.topicArn, data, map[string]string{
		"event_type": evt.Type,
		"gateway":    evt.Gateway,
	})
}

// NopPublisher drops every event. Used when EVENT_BUS=none.
type NopPublisher struct{}

func (NopPublisher) PublishOrderEvent(context.Context, models.OrderEvent) error { return nil }
