package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/printshop/internal/messaging/kafka"
)

// initKafka подключает producer для outbox. Без брокеров или при ошибке подключения сервис
// работает дальше: события копятся в outbox, readiness показывает kafka как degraded.
func (d *runtimeDependencies) initKafka(cfg Config, logger *log.Entry) {
	brokers := cfg.Brokers()
	if len(brokers) == 0 {
		logger.Info("kafka brokers are not configured, outbox events stay pending")
		return
	}

	producerLogger := logger.WithFields(log.Fields{"component": "kafka-producer", "client_id": cfg.KafkaClientID})
	producer, err := kafka.NewProducer(brokers, cfg.KafkaClientID, producerLogger)
	if err != nil {
		logger.WithError(err).WithField("brokers", brokers).Warn("kafka is unavailable, outbox worker is not started")
		return
	}

	d.producer = producer
	d.closers = append(d.closers, func() error {
		if err := producer.Close(); err != nil {
			producerLogger.WithError(err).Warn("failed to close kafka producer")
			return err
		}
		producerLogger.Info("kafka producer closed")
		return nil
	})
	logger.WithFields(log.Fields{"brokers": brokers, "topic": cfg.KafkaTopic}).Info("kafka producer initialized")
}
