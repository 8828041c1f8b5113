package events_test

import (
	"context"
	"encoding/json"
	"testing"

	"checkout-service/events"
	"checkout-service/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockSNS implements aws.SNSPublisher
type mockSNS struct {
	publishedArn   string
	publishedMsg   []byte
	publishedAttrs map[string]string
}

func (m *mockSNS) Publish(_ context.Context, topicArn string, message []byte, attrs map[string]string) error {
	m.publishedArn = topicArn
	m.publishedMsg = append([]byte(nil), message...)
	m.publishedAttrs = attrs
	return nil
}

func TestSNSPublisher_PublishesEventJSON(t *testing.T) {
	sns := &mockSNS{}
	pub := events.NewSNSPublisher(sns, "arn:aws:sns:ap-south-1:000000000000:order-events")

	err := pub.PublishOrderEvent(context.Background(), models.OrderEvent{
		Type:          models.EventOrderConfirmed,
		TransactionID: "T1",
		Gateway:       "khalti",
		Replayed:      true,
	})
	require.NoError(t, err)

	assert.Equal(t, "arn:aws:sns:ap-south-1:000000000000:order-events", sns.publishedArn)
	assert.Equal(t, "order_confirmed", sns.publishedAttrs["event_type"])
	assert.Equal(t, "khalti", sns.publishedAttrs["gateway"])

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(sns.publishedMsg, &out))
	assert.Equal(t, "T1", out["transaction_id"])
	assert.Equal(t, true, out["replayed"])
}
