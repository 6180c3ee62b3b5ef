package httpapi

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"
	headerWebhookToken   = "X-Webhook-Token"

	defaultIdempotencyTTL = 24 * time.Hour
)

// idempotency повторяет сохранённый ответ для ключа клиента из заголовка
// Idempotency-Key. Запрос без заголовка обрабатывается как обычно.
// Ответы 5xx не сохраняются: ключ удаляется, и клиент может повторить запрос.
func idempotency(repo domain.IdempotencyRepository, ttl time.Duration, now func() time.Time, logger *log.Entry) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawKey := r.Header.Get(headerIdempotencyKey)
			if strings.TrimSpace(rawKey) == "" || repo == nil {
				next.ServeHTTP(w, r)
				return
			}

			actor, _ := ActorFromContext(r.Context())
			key, err := domain.NewIdempotencyKey(actor, rawKey).Normalize()
			if err != nil {
				apiErr := newAPIError(codeValidation, http.StatusBadRequest, "invalid idempotency key")
				apiErr.details = map[string]string{headerIdempotencyKey: fmt.Sprintf("must be 1 to %d characters", domain.MaxIdempotencyKeyLength)}
				apiErr.cause = err
				writeError(w, logger, apiErr)
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
			if err != nil {
				apiErr := newAPIError(codeValidation, http.StatusBadRequest, "invalid request body")
				apiErr.cause = err
				writeError(w, logger, apiErr)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			entry := logger.WithFields(log.Fields{"customer_id": key.CustomerID, "idempotency_key": key.Value})
			record, err := repo.Claim(r.Context(), key, requestHash(r, body), now().Add(ttl))
			switch {
			case err == nil:
			case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists) && record.Completed():
				replay(w, record)
				return
			default:
				writeError(w, entry, err)
				return
			}

			capture := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(capture, r)

			ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 5*time.Second)
			defer cancel()

			status := capture.statusCode()
			switch {
			case status >= http.StatusInternalServerError:
				err = repo.Release(ctx, key)
			case status >= http.StatusBadRequest:
				err = repo.Complete(ctx, key, domain.IdempotencyStatusFailed, capture.body.Bytes(), status)
			default:
				err = repo.Complete(ctx, key, domain.IdempotencyStatusDone, capture.body.Bytes(), status)
			}
			if err != nil {
				entry.WithError(err).Warn("failed to persist idempotent response")
			}
		})
	}
}

// requestHash покрывает метод, путь и тело запроса.
func requestHash(r *http.Request, body []byte) string {
	h := sha256.New()
	h.Write([]byte(r.Method))
	h.Write([]byte{0})
	h.Write([]byte(r.URL.Path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func replay(w http.ResponseWriter, record domain.IdempotencyRecord) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(headerReplayed, "true")
	w.WriteHeader(record.HTTPStatus)
	_, _ = w.Write(record.ResponseBody)
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (c *responseCapture) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

func (c *responseCapture) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}
