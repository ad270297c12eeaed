package app

import (
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestInitKafka_NoBrokers(t *testing.T) {
	deps := &runtimeDependencies{}
	deps.initKafka(Config{KafkaBrokers: " , "}, log.WithField("test", "kafka"))

	assert.Nil(t, deps.producer)
	assert.Empty(t, deps.closers, "nothing to close without a producer")
}

func TestInitKafka_UnreachableBroker(t *testing.T) {
	if testing.Short() {
		t.Skip("dials a missing broker")
	}
	deps := &runtimeDependencies{}
	deps.initKafka(Config{KafkaBrokers: "127.0.0.1:1", KafkaClientID: "printshop-test"}, log.WithField("test", "kafka"))

	assert.Nil(t, deps.producer, "startup continues in degraded mode")
	assert.Empty(t, deps.closers)
}
