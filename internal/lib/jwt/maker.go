// Package jwt выпускает и проверяет сервисные JWT токены для служебных эндпоинтов.
//
// Токен подписывается HS256 и содержит scope: область, на которую выдан доступ
// (например, "cleanup" для запуска задачи очистки планировщиком).
package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrScopeMismatch возвращается, если токен выдан на другую область.
var ErrScopeMismatch = errors.New("token scope mismatch")

// ServiceClaims описывает данные, хранящиеся в сервисном JWT.
type ServiceClaims struct {
	Scope                string `json:"scope"` // Область доступа
	jwt.RegisteredClaims        // Стандартные claims (ExpiresAt, IssuedAt, Subject)
}

// Maker выпускает и проверяет токены общим секретом.
type Maker struct {
	secretKey string
	now       func() time.Time
}

// NewMaker создаёт Maker на основе секретного ключа.
func NewMaker(secretKey string) *Maker {
	return &Maker{
		secretKey: secretKey,
		now:       time.Now,
	}
}

// Issue создаёт токен для subject с областью scope и временем жизни ttl.
func (m *Maker) Issue(subject, scope string, ttl time.Duration) (string, error) {
	now := m.now()
	claims := ServiceClaims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(m.secretKey))
}

// Verify проверяет подпись, срок действия и область токена.
func (m *Maker) Verify(tokenStr, scope string) (*ServiceClaims, error) {
	const op = "jwt.Verify"
	token, err := jwt.ParseWithClaims(tokenStr, &ServiceClaims{}, func(_ *jwt.Token) (any, error) {
		return []byte(m.secretKey), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	claims, ok := token.Claims.(*ServiceClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%s: invalid token", op)
	}
	if claims.Scope != scope {
		return nil, fmt.Errorf("%s: %w", op, ErrScopeMismatch)
	}
	return claims, nil
}
