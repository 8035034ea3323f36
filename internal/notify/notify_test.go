package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/MarkoPoloResearchLab/vipledger/pkg/entitlement"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var baseTime = time.Date(2026, time.March, 10, 9, 30, 0, 0, time.UTC)

func mustUserID(test *testing.T, raw string) entitlement.UserID {
	test.Helper()
	userID, err := entitlement.NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return userID
}

func decodeEvent(test *testing.T, message *sarama.ProducerMessage) (string, Event) {
	test.Helper()
	key, err := message.Key.Encode()
	if err != nil {
		test.Fatalf("encode key: %v", err)
	}
	value, err := message.Value.Encode()
	if err != nil {
		test.Fatalf("encode value: %v", err)
	}
	var event Event
	if err := json.Unmarshal(value, &event); err != nil {
		test.Fatalf("decode event: %v", err)
	}
	return string(key), event
}

type recordingNotifier struct {
	calls int
	err   error
}

func (notifier *recordingNotifier) Notify(context.Context, []entitlement.Notification) error {
	notifier.calls++
	return notifier.err
}

func TestKafkaPublisherKeysByRecipient(test *testing.T) {
	test.Parallel()
	producer := mocks.NewSyncProducer(test, nil)
	seen := make(map[string]Event)
	checker := func(message *sarama.ProducerMessage) error {
		if message.Topic != "vipledger.notifications" {
			return fmt.Errorf("unexpected topic %q", message.Topic)
		}
		key, event := decodeEvent(test, message)
		seen[key] = event
		return nil
	}
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(checker)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(checker)
	publisher := NewKafkaPublisher(producer, "vipledger.notifications")
	defer func() {
		if err := publisher.Close(); err != nil {
			test.Fatalf("close: %v", err)
		}
	}()

	err := publisher.Notify(context.Background(), []entitlement.Notification{
		{Audience: entitlement.AudienceUser, RecipientID: mustUserID(test, "alice"), Kind: entitlement.NotifyTopUp, Message: "Top-up received", RelatedID: "FT-1", CreatedAt: baseTime},
		{Audience: entitlement.AudienceAdmins, Kind: entitlement.NotifyWithdraw, Message: "New withdraw request", RelatedID: "req-1", CreatedAt: baseTime},
	})
	if err != nil {
		test.Fatalf("notify: %v", err)
	}
	userEvent, ok := seen["alice"]
	if !ok || userEvent.Kind != string(entitlement.NotifyTopUp) || userEvent.RelatedID != "FT-1" || !userEvent.CreatedAt.Equal(baseTime) {
		test.Fatalf("unexpected user event %+v", userEvent)
	}
	adminEvent, ok := seen[adminPartitionKey]
	if !ok || adminEvent.Audience != string(entitlement.AudienceAdmins) || adminEvent.RecipientID != "" {
		test.Fatalf("unexpected admin event %+v", adminEvent)
	}
	if userEvent.EventID == "" || userEvent.EventID == adminEvent.EventID {
		test.Fatalf("expected distinct event ids")
	}
}

func TestKafkaPublisherReportsSendFailure(test *testing.T) {
	test.Parallel()
	producer := mocks.NewSyncProducer(test, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	publisher := NewKafkaPublisher(producer, "vipledger.notifications")
	defer publisher.Close()

	err := publisher.Notify(context.Background(), []entitlement.Notification{
		{Audience: entitlement.AudienceUser, RecipientID: mustUserID(test, "bob"), Kind: entitlement.NotifyPoints, Message: "Points earned", CreatedAt: baseTime},
	})
	if err == nil {
		test.Fatalf("expected publish failure")
	}
	var operationError entitlement.OperationError
	if !errors.As(err, &operationError) || operationError.Code() != errorCodePublish {
		test.Fatalf("expected publish operation error, got %v", err)
	}
}

func TestKafkaPublisherSkipsEmptyBatch(test *testing.T) {
	test.Parallel()
	producer := mocks.NewSyncProducer(test, nil)
	publisher := NewKafkaPublisher(producer, "vipledger.notifications")
	defer publisher.Close()

	if err := publisher.Notify(context.Background(), nil); err != nil {
		test.Fatalf("notify: %v", err)
	}
}

func TestKafkaPublisherSendsWithdrawCode(test *testing.T) {
	test.Parallel()
	producer := mocks.NewSyncProducer(test, nil)
	expiresAt := baseTime.Add(5 * time.Minute)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(message *sarama.ProducerMessage) error {
		key, event := decodeEvent(test, message)
		if key != "carol" || event.Kind != kindWithdrawCode || event.Code != "493021" {
			return fmt.Errorf("unexpected code event %s %+v", key, event)
		}
		if event.ExpiresAt == nil || !event.ExpiresAt.Equal(expiresAt) {
			return fmt.Errorf("unexpected expiry %v", event.ExpiresAt)
		}
		return nil
	})
	publisher := NewKafkaPublisher(producer, "vipledger.notifications")
	publisher.now = func() time.Time { return baseTime }
	defer publisher.Close()

	if err := publisher.SendWithdrawCode(context.Background(), mustUserID(test, "carol"), "493021", expiresAt); err != nil {
		test.Fatalf("send code: %v", err)
	}
}

func TestLogNotifierWritesEntries(test *testing.T) {
	test.Parallel()
	core, logs := observer.New(zap.InfoLevel)
	notifier := NewLogNotifier(zap.New(core))

	err := notifier.Notify(context.Background(), []entitlement.Notification{
		{Audience: entitlement.AudienceUser, RecipientID: mustUserID(test, "dave"), Kind: entitlement.NotifyVip, Message: "VIP activated"},
	})
	if err != nil {
		test.Fatalf("notify: %v", err)
	}
	if err := notifier.SendWithdrawCode(context.Background(), mustUserID(test, "dave"), "111222", baseTime); err != nil {
		test.Fatalf("send code: %v", err)
	}
	entries := logs.FilterMessage("notification").All()
	if len(entries) != 1 {
		test.Fatalf("expected one notification entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["recipient_id"] != "dave" || fields["kind"] != string(entitlement.NotifyVip) {
		test.Fatalf("unexpected fields %v", fields)
	}
	if logs.FilterMessage("withdraw code issued").Len() != 1 {
		test.Fatalf("expected withdraw code entry")
	}
}

func TestFanoutJoinsFailures(test *testing.T) {
	test.Parallel()
	failure := errors.New("mail relay down")
	first := &recordingNotifier{}
	second := &recordingNotifier{err: failure}
	third := &recordingNotifier{}
	fanout := Fanout{first, nil, second, third}

	err := fanout.Notify(context.Background(), []entitlement.Notification{{Kind: entitlement.NotifyWarning}})
	if !errors.Is(err, failure) {
		test.Fatalf("expected joined failure, got %v", err)
	}
	if first.calls != 1 || second.calls != 1 || third.calls != 1 {
		test.Fatalf("expected every notifier called once, got %d %d %d", first.calls, second.calls, third.calls)
	}
	if err := (Fanout{first}).Notify(context.Background(), nil); err != nil {
		test.Fatalf("expected nil error, got %v", err)
	}
}
