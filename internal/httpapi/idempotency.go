package httpapi

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/printshop/internal/domain"
	"github.com/vladislavdragonenkov/printshop/internal/service/idempotency"
)

const (
	// IdempotencyKeyHeader — необязательный ключ идемпотентности запроса.
	IdempotencyKeyHeader = "Idempotency-Key"
	// IdempotentReplayedHeader выставляется на воспроизведённых ответах.
	IdempotentReplayedHeader = "Idempotent-Replayed"

	maxRequestBody = 64 << 10
)

// bufferedResponse копит ответ обработчика, чтобы сохранить его под ключом.
type bufferedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

// idempotent выполняет обработчик не более одного раза на пару (пользователь, ключ).
// Без заголовка Idempotency-Key запрос проходит как есть.
func idempotent(guard *idempotency.Guard, logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
			if guard == nil || key == "" {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
			if err != nil {
				writeError(r.Context(), w, logger, domain.NewValidationError("body", err))
				return
			}
			_ = r.Body.Close()

			id, _ := IdentityFrom(r.Context())
			scope := r.Method + " " + r.URL.Path + " " + id.UserID
			hash := idempotency.RequestHash(scope, body)

			resp, replayed, err := guard.Do(r.Context(), domain.ScopedIdempotencyKey(id.UserID, key), hash, func(ctx context.Context) idempotency.Response {
				rec := &bufferedResponse{header: make(http.Header)}
				req := r.WithContext(ctx)
				req.Body = io.NopCloser(bytes.NewReader(body))
				next.ServeHTTP(rec, req)
				if rec.status == 0 {
					rec.status = http.StatusOK
				}
				return idempotency.Response{Status: rec.status, Body: rec.body.Bytes()}
			})
			if err != nil {
				writeError(r.Context(), w, logger, err)
				return
			}

			if replayed {
				w.Header().Set(IdempotentReplayedHeader, "true")
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(resp.Status)
			_, _ = w.Write(resp.Body)
		})
	}
}
