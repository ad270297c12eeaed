package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/printshop/internal/domain"
)

const defaultTTL = 24 * time.Hour

// Response — сохраняемый результат запроса.
type Response struct {
	Status int
	Body   []byte
}

// Guard выполняет запрос не более одного раза на ключ и воспроизводит сохранённый ответ.
type Guard struct {
	repo   domain.IdempotencyRepository
	logger *log.Entry
	ttl    time.Duration
	now    func() time.Time
}

// NewGuard создаёт Guard; ttl <= 0 означает 24 часа.
func NewGuard(repo domain.IdempotencyRepository, ttl time.Duration, logger *log.Entry) *Guard {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if logger == nil {
		logger = log.WithField("component", "idempotency-guard")
	}
	return &Guard{repo: repo, logger: logger, ttl: ttl, now: time.Now}
}

// RequestHash вычисляет отпечаток запроса; scope отделяет разные операции с одинаковым телом.
func RequestHash(scope string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(scope))
	h.Write([]byte{':'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Do запускает run под ключом key. Повтор с тем же requestHash получает сохранённый ответ
// и replayed=true; другой requestHash даёт ErrIdempotencyHashMismatch; запрос, который ещё
// выполняется, даёт ErrIdempotencyKeyAlreadyExists.
func (g *Guard) Do(ctx context.Context, key, requestHash string, run func(ctx context.Context) Response) (resp Response, replayed bool, err error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Response{}, false, domain.NewValidationError("Idempotency-Key", domain.ErrIdempotencyKeyRequired)
	}

	record, err := g.repo.CreateProcessing(ctx, key, requestHash, g.now().UTC().Add(g.ttl))
	if err != nil {
		return g.replay(key, record, err)
	}

	resp = run(ctx)
	// отдельный контекст: ответ уже сформирован и должен быть сохранён даже после отмены запроса
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if resp.Status < http.StatusInternalServerError {
		err = g.repo.MarkDone(storeCtx, key, resp.Body, resp.Status)
	} else {
		err = g.repo.MarkFailed(storeCtx, key, resp.Body, resp.Status)
	}
	if err != nil {
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent response")
	}
	return resp, false, nil
}

func (g *Guard) replay(key string, record domain.IdempotencyRecord, createErr error) (Response, bool, error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		return Response{}, false, createErr
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		if !record.Completed() {
			return Response{}, false, createErr
		}
		return Response{Status: record.ReplayStatus(), Body: record.ResponseBody}, true, nil
	default:
		g.logger.WithError(createErr).WithField("idempotency_key", key).Warn("failed to create idempotency record")
		return Response{}, false, createErr
	}
}
