package services

import (
	"context"
	"encoding/json"

	"checkout-service/models"
	aws_pkg "checkout-service/pkg/aws"

	"go.uber.org/zap"
)

// CallbackMessage is a gateway callback relayed through the intake queue.
type CallbackMessage struct {
	Gateway models.GatewayKind    `json:"gateway"`
	Params  models.CallbackParams `json:"params"`
}

// CallbackConsumer feeds queued callbacks through the reconciler.
type CallbackConsumer struct {
	verifier CallbackVerifier
	metrics  MetricsRecorder
	logger   *zap.Logger
}

func NewCallbackConsumer(verifier CallbackVerifier, metrics MetricsRecorder, logger *zap.Logger) *CallbackConsumer {
	return &CallbackConsumer{verifier: verifier, metrics: metrics, logger: logger}
}

// Handle is an aws.MessageHandler. Every verification result is terminal, so
// the message is always acknowledged; undecodable messages are dropped.
func (c *CallbackConsumer) Handle(ctx context.Context, body string) error {
	var msg CallbackMessage
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		c.logger.Warn("dropping undecodable callback message", zap.Error(err))
		return nil
	}
	if !msg.Gateway.Valid() {
		c.logger.Warn("dropping callback message for unknown gateway", zap.String("gateway", string(msg.Gateway)))
		return nil
	}

	res := c.verifier.VerifyCallback(ctx, msg.Gateway, msg.Params)
	if c.metrics != nil {
		_ = c.metrics.RecordCount(ctx, aws_pkg.MetricSQSMessagesProcessed, map[string]string{
			"Gateway": string(msg.Gateway),
			"State":   string(res.State),
		})
	}
	if res.State == models.StateFailed {
		c.logger.Info("queued callback ended failed",
			zap.String("gateway", string(msg.Gateway)),
			zap.String("tx_id", res.TransactionID),
			zap.String("kind", res.Kind),
		)
	}
	return nil
}
