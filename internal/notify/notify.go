// Package notify delivers ledger notifications and withdraw codes to users and
// admins.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/IBM/sarama"
	"github.com/MarkoPoloResearchLab/vipledger/pkg/entitlement"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	adminPartitionKey    = "admins"
	kindWithdrawCode     = "WITHDRAW_CODE"
	errorOperationNotify = "notify"
	errorSubjectKafka    = "kafka"
	errorCodeEncode      = "encode"
	errorCodePublish     = "publish"
)

// Event is the wire form of a notification published to Kafka.
type Event struct {
	EventID     string     `json:"eventId"`
	Audience    string     `json:"audience"`
	RecipientID string     `json:"recipientId,omitempty"`
	Kind        string     `json:"kind"`
	Message     string     `json:"message"`
	RelatedID   string     `json:"relatedId,omitempty"`
	Code        string     `json:"code,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// LogNotifier writes notifications to a zap logger. It stands in for delivery
// channels in development.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier returns a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (notifier *LogNotifier) Notify(_ context.Context, notifications []entitlement.Notification) error {
	for _, notification := range notifications {
		notifier.logger.Info("notification",
			zap.String("audience", string(notification.Audience)),
			zap.String("recipient_id", notification.RecipientID.String()),
			zap.String("kind", string(notification.Kind)),
			zap.String("message", notification.Message),
			zap.String("related_id", notification.RelatedID),
		)
	}
	return nil
}

// SendWithdrawCode logs the code. Only wire it where no SMS or mail relay exists.
func (notifier *LogNotifier) SendWithdrawCode(_ context.Context, userID entitlement.UserID, code string, expiresAt time.Time) error {
	notifier.logger.Info("withdraw code issued",
		zap.String("user_id", userID.String()),
		zap.String("code", code),
		zap.Time("expires_at", expiresAt),
	)
	return nil
}

// KafkaConfig selects the brokers and topic of the Kafka publisher.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// NewSyncProducer connects a producer that waits for every in-sync replica.
func NewSyncProducer(config KafkaConfig) (sarama.SyncProducer, error) {
	producerConfig := sarama.NewConfig()
	producerConfig.Producer.RequiredAcks = sarama.WaitForAll
	producerConfig.Producer.Retry.Max = 3
	producerConfig.Producer.Return.Successes = true
	return sarama.NewSyncProducer(config.Brokers, producerConfig)
}

// KafkaPublisher publishes notifications and withdraw codes as JSON events.
// Messages are keyed by recipient so one user's events stay ordered.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	now      func() time.Time
}

// NewKafkaPublisher returns a KafkaPublisher over producer.
func NewKafkaPublisher(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic, now: time.Now}
}

func (publisher *KafkaPublisher) Notify(_ context.Context, notifications []entitlement.Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	messages := make([]*sarama.ProducerMessage, 0, len(notifications))
	for _, notification := range notifications {
		event := Event{
			EventID:     uuid.NewString(),
			Audience:    string(notification.Audience),
			RecipientID: notification.RecipientID.String(),
			Kind:        string(notification.Kind),
			Message:     notification.Message,
			RelatedID:   notification.RelatedID,
			CreatedAt:   notification.CreatedAt.UTC(),
		}
		message, err := publisher.message(event)
		if err != nil {
			return err
		}
		messages = append(messages, message)
	}
	if err := publisher.producer.SendMessages(messages); err != nil {
		return entitlement.WrapError(errorOperationNotify, errorSubjectKafka, errorCodePublish, err)
	}
	return nil
}

func (publisher *KafkaPublisher) SendWithdrawCode(_ context.Context, userID entitlement.UserID, code string, expiresAt time.Time) error {
	expiresUTC := expiresAt.UTC()
	message, err := publisher.message(Event{
		EventID:     uuid.NewString(),
		Audience:    string(entitlement.AudienceUser),
		RecipientID: userID.String(),
		Kind:        kindWithdrawCode,
		Message:     "Your withdraw confirmation code.",
		Code:        code,
		ExpiresAt:   &expiresUTC,
		CreatedAt:   publisher.now().UTC(),
	})
	if err != nil {
		return err
	}
	if _, _, err := publisher.producer.SendMessage(message); err != nil {
		return entitlement.WrapError(errorOperationNotify, errorSubjectKafka, errorCodePublish, err)
	}
	return nil
}

func (publisher *KafkaPublisher) message(event Event) (*sarama.ProducerMessage, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, entitlement.WrapError(errorOperationNotify, errorSubjectKafka, errorCodeEncode, err)
	}
	key := event.RecipientID
	if key == "" {
		key = adminPartitionKey
	}
	return &sarama.ProducerMessage{
		Topic: publisher.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	}, nil
}

// Close releases the underlying producer.
func (publisher *KafkaPublisher) Close() error {
	return publisher.producer.Close()
}

// Fanout delivers to every notifier and reports the joined failures.
type Fanout []entitlement.Notifier

func (fanout Fanout) Notify(ctx context.Context, notifications []entitlement.Notification) error {
	var failures []error
	for _, notifier := range fanout {
		if notifier == nil {
			continue
		}
		if err := notifier.Notify(ctx, notifications); err != nil {
			failures = append(failures, err)
		}
	}
	return errors.Join(failures...)
}

var (
	_ entitlement.Notifier   = (*LogNotifier)(nil)
	_ entitlement.CodeSender = (*LogNotifier)(nil)
	_ entitlement.Notifier   = (*KafkaPublisher)(nil)
	_ entitlement.CodeSender = (*KafkaPublisher)(nil)
	_ entitlement.Notifier   = Fanout(nil)
)
