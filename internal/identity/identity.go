package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/shuttle-roster/internal/apperrors"
	"github.com/example/shuttle-roster/internal/models"
)

// Principal is an authenticated caller.
type Principal struct {
	ID   string
	Role models.Role
}

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator resolves a bearer credential to a Principal.
type Authenticator interface {
	Authenticate(credential string) (Principal, error)
}

// JWT issues and verifies HS256 tokens whose subject is the user id.
type JWT struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

func NewJWT(secret string, ttl time.Duration) *JWT {
	return &JWT{secret: []byte(secret), ttl: ttl, issuer: "shuttle-roster", now: time.Now}
}

func (j *JWT) Issue(userID string, role models.Role) (string, error) {
	now := j.now()
	claims := Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

// Authenticate accepts a raw token or an "Authorization" header value.
// Every failure wraps apperrors.ErrUnauthenticated.
func (j *JWT) Authenticate(credential string) (Principal, error) {
	raw := strings.TrimSpace(credential)
	if len(raw) > 7 && strings.EqualFold(raw[:7], "Bearer ") {
		raw = strings.TrimSpace(raw[7:])
	}
	if raw == "" {
		return Principal{}, fmt.Errorf("missing credential: %w", apperrors.ErrUnauthenticated)
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return j.secret, nil
	}, jwt.WithIssuer(j.issuer), jwt.WithTimeFunc(j.now), jwt.WithExpirationRequired())
	if err != nil {
		return Principal{}, fmt.Errorf("%v: %w", err, apperrors.ErrUnauthenticated)
	}
	if claims.Subject == "" {
		return Principal{}, fmt.Errorf("token without subject: %w", apperrors.ErrUnauthenticated)
	}
	role, err := models.ParseRole(claims.Role)
	if err != nil {
		return Principal{}, fmt.Errorf("%v: %w", err, apperrors.ErrUnauthenticated)
	}
	return Principal{ID: claims.Subject, Role: role}, nil
}

func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CheckPassword reports whether password matches hash. An empty hash never
// matches, so users created without a password cannot log in.
func CheckPassword(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
