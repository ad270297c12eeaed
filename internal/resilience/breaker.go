package resilience

import (
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/vladislavdragonenkov/printshop/internal/domain"
)

// ErrCircuitOpen возвращается без вызова fn, пока breaker разомкнут.
var ErrCircuitOpen = domain.ErrCircuitOpen

// CircuitBreaker — gobreaker с ошибками домена. Размыкается после maxFailures отказов подряд,
// через resetTimeout пропускает один пробный вызов.
type CircuitBreaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewCircuitBreaker создаёт breaker; maxFailures <= 0 заменяется на 5.
func NewCircuitBreaker(name string, maxFailures int, resetTimeout time.Duration, logger *log.Entry) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if logger == nil {
		logger = log.WithField("component", "circuit-breaker")
	}
	logger = logger.WithField("breaker", name)
	threshold := uint32(maxFailures)

	return &CircuitBreaker{cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     resetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// ошибки, помеченные Permanent (4xx провайдера), не говорят о его недоступности
		IsSuccessful: func(err error) bool {
			return err == nil || IsPermanent(err)
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			logger.WithFields(log.Fields{"from": from.String(), "to": to.String()}).Warn("circuit breaker state changed")
		},
	})}
}

// State возвращает текущее состояние.
func (b *CircuitBreaker) State() gobreaker.State {
	return b.cb.State()
}

// Execute выполняет fn через breaker. Отказ без вызова fn возвращается как ErrCircuitOpen.
func (b *CircuitBreaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}
