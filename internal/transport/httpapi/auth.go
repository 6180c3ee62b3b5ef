package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

var signingMethod = jwt.SigningMethodHS256

var errTokenSecretRequired = errors.New("jwt secret is required")

// Claims: содержимое токена доступа. Subject хранит идентификатор клиента.
type Claims struct {
	Role domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// TokenVerifier проверяет bearer-токены, выданные провайдером идентичности (HS256).
type TokenVerifier struct {
	secret []byte
	issuer string
}

func NewTokenVerifier(secret, issuer string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret), issuer: issuer}
}

// Issue подписывает токен для актора. Используется в локальной разработке и тестах.
func (v *TokenVerifier) Issue(actor domain.Actor, ttl time.Duration, now time.Time) (string, error) {
	if len(v.secret) == 0 {
		return "", errTokenSecretRequired
	}
	claims := Claims{
		Role: actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID.String(),
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(signingMethod, claims).SignedString(v.secret)
}

// Parse проверяет подпись, срок действия и издателя и возвращает актора.
func (v *TokenVerifier) Parse(token string) (domain.Actor, error) {
	if len(v.secret) == 0 {
		return domain.Actor{}, errTokenSecretRequired
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method != signingMethod {
			return nil, fmt.Errorf("unexpected signing method %s", t.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		return domain.Actor{}, err
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil || id == uuid.Nil {
		return domain.Actor{}, fmt.Errorf("invalid subject %q", claims.Subject)
	}
	switch claims.Role {
	case domain.RoleCustomer, domain.RoleAdmin:
	default:
		return domain.Actor{}, fmt.Errorf("unsupported role %q", claims.Role)
	}
	return domain.Actor{ID: id, Role: claims.Role}, nil
}

type ctxKey int

const actorKey ctxKey = iota

// ActorFromContext возвращает актора, положенного authenticate.
func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(domain.Actor)
	return actor, ok
}

func withActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// authenticate требует заголовок Authorization: Bearer <token>.
func authenticate(verifier *TokenVerifier, logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if len(raw) > 7 && strings.EqualFold(raw[:7], "bearer ") {
				raw = strings.TrimSpace(raw[7:])
			} else {
				raw = ""
			}
			if raw == "" {
				writeError(w, logger, newAPIError(codeUnauthorized, http.StatusUnauthorized, "missing bearer token"))
				return
			}

			actor, err := verifier.Parse(raw)
			if err != nil {
				apiErr := newAPIError(codeUnauthorized, http.StatusUnauthorized, "invalid token")
				apiErr.cause = err
				writeError(w, logger, apiErr)
				return
			}
			next.ServeHTTP(w, r.WithContext(withActor(r.Context(), actor)))
		})
	}
}

func requireAdmin(logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromContext(r.Context())
			if !ok || !actor.IsAdmin() {
				writeError(w, logger, domain.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// webhookToken сверяет общий секрет перевозчиков. Пустой секрет отключает проверку.
func webhookToken(expected string, logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if expected != "" {
				got := r.Header.Get(headerWebhookToken)
				if subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
					writeError(w, logger, newAPIError(codeUnauthorized, http.StatusUnauthorized, "invalid webhook token"))
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
