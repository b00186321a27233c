package stream

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/banking/fraud-detection/internal/config"
	"github.com/banking/fraud-detection/internal/pkg/logger"
)

// Consumer reads the transaction topic through a consumer group and
// feeds the coordinator. Offsets are committed by the coordinator's
// watermark tracker, never by the group session directly, so a crash
// replays exactly the uncommitted suffix.
type Consumer struct {
	group       sarama.ConsumerGroup
	coordinator *Coordinator
	topic       string
	log         *logger.Logger
}

// NewConsumer joins the configured consumer group.
func NewConsumer(cfg *config.KafkaConfig, coordinator *Coordinator, log *logger.Logger) (*Consumer, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Version = sarama.V2_8_0_0
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaCfg.Consumer.Offsets.AutoCommit.Enable = true
	saramaCfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("join consumer group %s: %w", cfg.ConsumerGroup, err)
	}

	return &Consumer{
		group:       group,
		coordinator: coordinator,
		topic:       cfg.TransactionTopic,
		log:         log.Named("consumer"),
	}, nil
}

// Run consumes until ctx is cancelled, rejoining the group after each
// rebalance.
func (c *Consumer) Run(ctx context.Context) error {
	go func() {
		for err := range c.group.Errors() {
			c.log.Warn("consumer group error", logger.ErrorField(err))
		}
	}()

	handler := &groupHandler{coordinator: c.coordinator, log: c.log}
	for {
		if err := c.group.Consume(ctx, []string{c.topic}, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return fmt.Errorf("consume %s: %w", c.topic, err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Close leaves the consumer group.
func (c *Consumer) Close() error {
	return c.group.Close()
}

type groupHandler struct {
	coordinator *Coordinator
	log         *logger.Logger
}

func (h *groupHandler) Setup(session sarama.ConsumerGroupSession) error {
	h.log.Info("consumer group session started",
		logger.StringField("member_id", session.MemberID()))
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.coordinator.Dispatch(session, msg)
		case <-session.Context().Done():
			return nil
		}
	}
}
