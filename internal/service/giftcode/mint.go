package giftcode

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/printshop/internal/domain"
)

const (
	codePrefix     = "GIFT"
	codeGroups     = 3
	codeGroupSize  = 4
	maxMintRetries = 5
	// алфавит без 0/O и 1/I, чтобы код было проще переписать
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// GenerateCode возвращает случайный код вида GIFT-XXXX-XXXX-XXXX.
func GenerateCode() (string, error) {
	var sb strings.Builder
	sb.WriteString(codePrefix)
	max := big.NewInt(int64(len(codeAlphabet)))
	for g := 0; g < codeGroups; g++ {
		sb.WriteByte('-')
		for i := 0; i < codeGroupSize; i++ {
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				return "", fmt.Errorf("generate gift code: %w", err)
			}
			sb.WriteByte(codeAlphabet[n.Int64()])
		}
	}
	return sb.String(), nil
}

// Mint создаёт подарочный PromoCode для оплаченной покупки через переданный репозиторий,
// обычно внутри транзакции сверки платежа. Коллизия кода повторяется с новым значением.
func Mint(ctx context.Context, promos domain.PromoRepository, purchase domain.GiftPurchase, promoCodeID string, now time.Time) (domain.PromoCode, error) {
	var lastErr error
	for attempt := 0; attempt < maxMintRetries; attempt++ {
		code, err := GenerateCode()
		if err != nil {
			return domain.PromoCode{}, err
		}

		promo := domain.PromoCode{
			ID:             promoCodeID,
			Code:           code,
			Kind:           domain.PromoKindGift,
			Tier:           purchase.Tier,
			UsageCount:     0,
			GiftPurchaseID: purchase.ID,
			CreatedAt:      now,
		}
		if purchase.UsageLimit != nil {
			limit := *purchase.UsageLimit
			promo.UsageLimit = &limit
		}

		err = promos.Create(ctx, promo)
		if err == nil {
			return promo, nil
		}
		if !errors.Is(err, domain.ErrPromoCodeExists) {
			return domain.PromoCode{}, fmt.Errorf("store gift code: %w", err)
		}
		lastErr = err
	}
	return domain.PromoCode{}, fmt.Errorf("mint gift code after %d attempts: %w", maxMintRetries, lastErr)
}
