// Package resilience содержит ограниченный retry и circuit breaker для внешних вызовов.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// RetryConfig конфигурация для retry логики.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
	}
}

func (c RetryConfig) normalized() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = 1
	}
	if c.MaxDelay > 0 && c.InitialDelay > c.MaxDelay {
		c.InitialDelay = c.MaxDelay
	}
	return c
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent помечает ошибку как неповторяемую: Retry вернёт её сразу.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent сообщает, помечена ли ошибка через Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Retry выполняет fn до MaxAttempts раз с экспоненциальной задержкой.
// Отмена ctx прерывает ожидание; ошибки Permanent и ErrCircuitOpen не повторяются.
func Retry(ctx context.Context, cfg RetryConfig, logger *log.Entry, operation string, fn func(ctx context.Context) error) error {
	cfg = cfg.normalized()
	if logger == nil {
		logger = log.WithField("component", "retry")
	}

	delay := cfg.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				logger.WithFields(log.Fields{"operation": operation, "attempt": attempt}).Info("operation succeeded after retry")
			}
			return nil
		}
		lastErr = err

		if IsPermanent(err) || errors.Is(err, ErrCircuitOpen) {
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		logger.WithError(err).WithFields(log.Fields{
			"operation": operation,
			"attempt":   attempt,
			"delay":     delay,
		}).Warn("operation failed, retrying")

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		delay = time.Duration(float64(delay) * cfg.BackoffFactor)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return &ExhaustedError{Operation: operation, Attempts: cfg.MaxAttempts, Err: lastErr}
}

// ExhaustedError возвращается Retry, когда все попытки закончились ошибкой; Err — ошибка последней попытки.
type ExhaustedError struct {
	Operation string
	Attempts  int
	Err       error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Operation, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// LastError снимает обёртку ExhaustedError и возвращает ошибку последней попытки.
func LastError(err error) error {
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		return exhausted.Err
	}
	return err
}
