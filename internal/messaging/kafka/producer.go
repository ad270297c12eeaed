package kafka

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// ErrProducerClosed возвращается при публикации через закрытый producer.
var ErrProducerClosed = errors.New("kafka producer is closed")

// Producer — синхронный Kafka producer. События заказа одного агрегата идут в одну
// партицию, поэтому порядок order.created → order.paid сохраняется.
type Producer struct {
	client   sarama.Client
	producer sarama.SyncProducer
	logger   *log.Entry
	now      func() time.Time
}

// producerConfig — идемпотентная доставка с подтверждением от всех ISR.
func producerConfig(clientID string) (*sarama.Config, error) {
	cfg := sarama.NewConfig()
	if clientID != "" {
		cfg.ClientID = clientID
	}
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Idempotent = true
	// sarama требует ровно один in-flight запрос для idempotent producer
	cfg.Net.MaxOpenRequests = 1
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("kafka producer config: %w", err)
	}
	return cfg, nil
}

// NewProducer подключается к брокерам. clientID попадает в логи брокера.
func NewProducer(brokers []string, clientID string, logger *log.Entry) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are not configured")
	}
	cfg, err := producerConfig(clientID)
	if err != nil {
		return nil, err
	}

	client, err := sarama.NewClient(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to kafka %v: %w", brokers, err)
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return newProducer(client, producer, logger), nil
}

func newProducer(client sarama.Client, producer sarama.SyncProducer, logger *log.Entry) *Producer {
	if logger == nil {
		logger = log.WithField("component", "kafka-producer")
	}
	return &Producer{client: client, producer: producer, logger: logger, now: time.Now}
}

// buildMessage раскладывает заголовки в отсортированном порядке, чтобы записи были воспроизводимы.
func buildMessage(topic, key string, value []byte, headers map[string]string, at time.Time) *sarama.ProducerMessage {
	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(value),
		Timestamp: at,
	}
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(name), Value: []byte(headers[name])})
	}
	return msg
}

// Send публикует value в topic. sarama не принимает context, поэтому отмена проверяется до отправки.
func (p *Producer) Send(ctx context.Context, topic, key string, value []byte, headers map[string]string) error {
	if p == nil || p.producer == nil {
		return ErrProducerClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	entry := p.logger.WithFields(log.Fields{"topic": topic, "key": key, "event_type": headers[HeaderEventType]})
	partition, offset, err := p.producer.SendMessage(buildMessage(topic, key, value, headers, p.now()))
	if err != nil {
		entry.WithError(err).Error("failed to send message to kafka")
		return fmt.Errorf("send to %s: %w", topic, err)
	}
	entry.WithFields(log.Fields{"partition": partition, "offset": offset}).Debug("message sent to kafka")
	return nil
}

// Ping проверяет, что клиент открыт и знает хотя бы одного живого брокера.
func (p *Producer) Ping(ctx context.Context) error {
	switch {
	case p == nil || p.producer == nil:
		return ErrProducerClosed
	case ctx.Err() != nil:
		return ctx.Err()
	case p.client == nil:
		return nil
	case p.client.Closed():
		return ErrProducerClosed
	case len(p.client.Brokers()) == 0:
		return errors.New("kafka: no brokers available")
	}
	return nil
}

// Close закрывает producer и клиента; ошибки обоих возвращаются вместе.
func (p *Producer) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	var errs []error
	if err := p.producer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close kafka producer: %w", err))
	}
	if p.client != nil && !p.client.Closed() {
		if err := p.client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close kafka client: %w", err))
		}
	}
	return errors.Join(errs...)
}
