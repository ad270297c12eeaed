// Package promo проверяет промокоды и занимает слоты их использования.
package promo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/printshop/internal/domain"
)

// Ledger — учёт использований промокодов.
type Ledger struct {
	promos domain.PromoRepository
	logger *log.Entry
}

// NewLedger создаёт Ledger поверх репозитория промокодов.
func NewLedger(promos domain.PromoRepository, logger *log.Entry) *Ledger {
	if logger == nil {
		logger = log.WithField("component", "promo-ledger")
	}
	return &Ledger{promos: promos, logger: logger}
}

// Validate проверяет код без изменения счётчика. Результат носит рекомендательный характер:
// слот занимается только при подтверждении оплаты.
func (l *Ledger) Validate(ctx context.Context, code string) (domain.PromoCode, error) {
	normalized := domain.NormalizeCode(code)
	if normalized == "" {
		return domain.PromoCode{}, domain.NewValidationError("code", domain.ErrPromoCodeRequired)
	}

	promo, err := l.promos.GetByCode(ctx, normalized)
	if err != nil {
		if errors.Is(err, domain.ErrPromoCodeInvalid) {
			return domain.PromoCode{}, domain.ErrPromoCodeInvalid
		}
		return domain.PromoCode{}, fmt.Errorf("lookup promo code: %w", err)
	}
	if promo.Disabled {
		return domain.PromoCode{}, domain.ErrPromoCodeInvalid
	}
	if promo.Exhausted() {
		return domain.PromoCode{}, domain.ErrPromoUsageExceeded
	}
	return promo, nil
}

// ClaimSlot занимает один слот кода через repos, обычно внутри транзакции подтверждения оплаты.
// Если условное обновление не затронуло строку, возвращается ErrPromoUsageExceeded.
func (l *Ledger) ClaimSlot(ctx context.Context, promos domain.PromoRepository, promoCodeID string) error {
	if strings.TrimSpace(promoCodeID) == "" {
		return domain.NewValidationError("promo_code_id", domain.ErrPromoCodeRequired)
	}
	if promos == nil {
		promos = l.promos
	}

	claimed, err := promos.ClaimSlot(ctx, promoCodeID)
	if err != nil {
		return fmt.Errorf("claim promo slot: %w", err)
	}
	if !claimed {
		l.logger.WithField("promo_code_id", promoCodeID).Warn("promo slot claim rejected")
		return domain.ErrPromoUsageExceeded
	}
	return nil
}
