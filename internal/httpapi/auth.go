package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/vladislavdragonenkov/printshop/internal/domain"
)

// OperatorTokenHeader — заголовок с токеном оператора для ручного подтверждения оплаты.
const OperatorTokenHeader = "X-Operator-Token"

// Identity — аутентифицированный вызывающий.
type Identity struct {
	UserID string
	// Operator выставляется при входе по операторскому токену; UserID тогда пуст.
	Operator bool
}

type identityKey struct{}

func withIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom достаёт Identity, положенную middleware аутентификации.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// Authenticator проверяет bearer-токены HS256 витрины и операторский токен.
type Authenticator struct {
	secret        []byte
	issuer        string
	operatorToken string
	parser        *jwt.Parser
	now           func() time.Time
}

// NewAuthenticator создаёт Authenticator. Пустой issuer отключает проверку iss,
// пустой operatorToken отключает операторский вход.
func NewAuthenticator(secret, issuer, operatorToken string) *Authenticator {
	return &Authenticator{
		secret:        []byte(secret),
		issuer:        strings.TrimSpace(issuer),
		operatorToken: strings.TrimSpace(operatorToken),
		parser:        jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
		now:           time.Now,
	}
}

// IssueToken выпускает токен пользователя; нужен для локальной разработки и тестов.
func (a *Authenticator) IssueToken(userID string, ttl time.Duration) (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) verify(header string) (Identity, error) {
	raw, ok := bearerToken(header)
	if !ok || len(a.secret) == 0 {
		return Identity{}, domain.ErrUnauthenticated
	}
	claims := &jwt.RegisteredClaims{}
	if _, err := a.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}); err != nil {
		return Identity{}, errors.Join(domain.ErrUnauthenticated, err)
	}
	if a.issuer != "" && !claims.VerifyIssuer(a.issuer, true) {
		return Identity{}, domain.ErrUnauthenticated
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Identity{}, domain.ErrUnauthenticated
	}
	return Identity{UserID: claims.Subject}, nil
}

func (a *Authenticator) operator(r *http.Request) bool {
	if a.operatorToken == "" {
		return false
	}
	got := strings.TrimSpace(r.Header.Get(OperatorTokenHeader))
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(a.operatorToken)) == 1
}

// RequireUser пропускает только запросы с валидным bearer-токеном пользователя.
func (a *Authenticator) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := a.verify(r.Header.Get("Authorization"))
		if err != nil {
			writeAPIError(r.Context(), w, newAPIError("unauthenticated", domain.ErrUnauthenticated.Error(), http.StatusUnauthorized))
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), id)))
	})
}

// UserOrOperator дополнительно принимает операторский токен.
func (a *Authenticator) UserOrOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.operator(r) {
			next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), Identity{Operator: true})))
			return
		}
		a.RequireUser(next).ServeHTTP(w, r)
	})
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
