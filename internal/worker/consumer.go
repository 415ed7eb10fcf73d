package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/cog-core/internal/worker/domain"
)

// setupConsumer declares the queue and returns its delivery channel
func (w *Worker) setupConsumer(queueName string) (<-chan amqp.Delivery, error) {
	if err := w.consumer.DeclareQueue(queueName); err != nil {
		return nil, fmt.Errorf("failed to declare queue %q: %w", queueName, err)
	}

	consumerTag := w.workerID + "-" + queueName
	deliveries, err := w.consumer.Consume(queueName, consumerTag)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming %q: %w", queueName, err)
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", consumerTag),
		slog.String("worker_id", w.workerID),
		slog.String("queue", queueName),
	)

	return deliveries, nil
}

// validJobID accepts one-shot UUIDs and repeat instance ids
func validJobID(id string) bool {
	if strings.HasPrefix(id, "repeat:") {
		return len(id) > len("repeat:")
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// startMessageDispatcher listens to one queue's deliveries and hands jobs to the pool
func (w *Worker) startMessageDispatcher(ctx context.Context, queueName string, deliveries <-chan amqp.Delivery) {
	w.logger.Info("Message dispatcher started",
		slog.String("worker_id", w.workerID),
		slog.String("queue", queueName),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled", slog.String("queue", queueName))
			return

		case <-w.stopChan:
			w.logger.Info("Message dispatcher stopped", slog.String("queue", queueName))
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed", slog.String("queue", queueName))
				return
			}

			msg, err := parseMessage(delivery, queueName)
			if err != nil {
				w.logger.Error("Dropping malformed message",
					slog.String("queue", queueName),
					slog.String("body", string(delivery.Body)),
					slog.Any("error", err),
				)
				// malformed messages go to the dead-letter exchange, if any
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					w.logger.Error("Failed to NACK malformed message",
						slog.Any("error", nackErr),
					)
				}
				continue
			}

			select {
			case w.jobsChan <- msg:
				w.logger.Debug("Job dispatched to worker pool",
					slog.String("job_id", msg.JobID),
					slog.String("queue", msg.Queue),
					slog.Uint64("delivery_tag", msg.DeliveryTag),
				)
			case <-ctx.Done():
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					w.logger.Error("Failed to NACK message on shutdown",
						slog.Any("error", nackErr),
					)
				}
				return
			case <-w.stopChan:
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					w.logger.Error("Failed to NACK message on shutdown",
						slog.Any("error", nackErr),
					)
				}
				return
			}
		}
	}
}

func parseMessage(delivery amqp.Delivery, queueName string) (*domain.JobMessage, error) {
	var msg domain.JobMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		return nil, fmt.Errorf("invalid message JSON: %w", err)
	}
	if !validJobID(msg.JobID) {
		return nil, fmt.Errorf("invalid job_id %q", msg.JobID)
	}
	if msg.Queue == "" {
		msg.Queue = queueName
	}
	msg.DeliveryTag = delivery.DeliveryTag
	msg.Acker = delivery.Acknowledger
	return &msg, nil
}
