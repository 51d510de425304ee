package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/IBM/sarama"
)

const (
	EventTaskCreated   = "task.created"
	EventTaskCompleted = "task.completed"
	EventTaskFailed    = "task.failed"
	EventTaskCancelled = "task.cancelled"
)

// TaskEvent is the lifecycle record published for downstream
// collaborators (notification senders, analytics). Nothing in-process
// consumes it.
type TaskEvent struct {
	Type            string    `json:"type"`
	TaskID          string    `json:"task_id"`
	OwnerID         string    `json:"owner_id"`
	Mode            string    `json:"mode"`
	Status          string    `json:"status"`
	CreditsConsumed int       `json:"credits_consumed,omitempty"`
	ErrorCode       string    `json:"error_code,omitempty"`
	At              time.Time `json:"at"`
}

type Producer interface {
	SendTaskEvent(ctx context.Context, topic string, event *TaskEvent) error
	Close() error
}

type producer struct {
	producer sarama.SyncProducer
}

func NewProducer(brokers []string) (Producer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true

	p, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}

	return &producer{producer: p}, nil
}

func (p *producer) SendTaskEvent(ctx context.Context, topic string, event *TaskEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(event.TaskID),
		Value: sarama.ByteEncoder(data),
	}

	_, _, err = p.producer.SendMessage(msg)
	return err
}

func (p *producer) Close() error {
	return p.producer.Close()
}
