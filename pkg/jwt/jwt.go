package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sensortrack/telemetry-hub/internal/models"
)

// ErrInvalidToken is returned for tokens that fail signature, shape, or
// expiry checks. Callers treat it as an authentication failure.
var ErrInvalidToken = errors.New("invalid or expired token")

// VerifierInterface defines methods to verify bearer credentials.
type VerifierInterface interface {
	Verify(token string) (*models.Identity, error)
}

// Claims is the token payload issued by the user service.
type Claims struct {
	UserID    int         `json:"id"`
	Username  string      `json:"username"`
	Email     string      `json:"email"`
	Role      models.Role `json:"role"`
	CompanyID int         `json:"company_id,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates HMAC-signed bearer tokens against a shared secret.
type Verifier struct {
	secret []byte
}

// NewVerifier initializes a new Verifier with the shared signing secret.
func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret}
}

// Verify checks the token and returns the identity it carries.
func (v *Verifier) Verify(token string) (*models.Identity, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	return &models.Identity{
		UserID:    claims.UserID,
		Username:  claims.Username,
		Email:     claims.Email,
		Role:      claims.Role,
		CompanyID: claims.CompanyID,
	}, nil
}

// Sign issues a token for the given identity, valid for ttl. Token issuance
// belongs to the user service; this helper exists for tests and tooling.
func (v *Verifier) Sign(identity *models.Identity, ttl time.Duration) (string, error) {
	claims := Claims{
		UserID:    identity.UserID,
		Username:  identity.Username,
		Email:     identity.Email,
		Role:      identity.Role,
		CompanyID: identity.CompanyID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
