package domain

import (
	"net/http"
	"time"
)

// IdempotencyStatus — состояние ключа Idempotency-Key.
type IdempotencyStatus string

const (
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusDone — ответ с кодом ниже 500 сохранён и воспроизводится.
	IdempotencyStatusDone IdempotencyStatus = "done"
	// IdempotencyStatusFailed — обработчик ответил 5xx; ответ тоже воспроизводится.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// Valid проверяет, что статус известен.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	default:
		return false
	}
}

// IdempotencyRecord — сохранённый результат POST /checkout или POST /gift-codes/purchase под ключом клиента.
type IdempotencyRecord struct {
	// Key уже включает пользователя, см. ScopedIdempotencyKey.
	Key          string
	RequestHash  string
	ResponseBody []byte
	HTTPStatus   int
	Status       IdempotencyStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Completed сообщает, что ответ уже сформирован и его можно отдать повторно.
func (r IdempotencyRecord) Completed() bool {
	return r.Status == IdempotencyStatusDone || r.Status == IdempotencyStatusFailed
}

// ReplayStatus — HTTP-код для воспроизведения; старые записи без кода считаются 200.
func (r IdempotencyRecord) ReplayStatus() int {
	if r.HTTPStatus == 0 {
		return http.StatusOK
	}
	return r.HTTPStatus
}

// Expired сообщает, что ключ можно занять заново.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.TTLAt.After(now)
}

// ScopedIdempotencyKey отделяет ключи разных покупателей: одинаковый заголовок у двух
// пользователей не должен вернуть одному чужой заказ.
func ScopedIdempotencyKey(userID, key string) string {
	return userID + ":" + key
}
