package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bissquit/deepvisas/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformedSnapshot is returned by codecs for snapshots that cannot be trusted.
var ErrMalformedSnapshot = errors.New("malformed session snapshot")

// Codec turns the signed-in identity into the persisted snapshot and back.
// Snapshots never carry the secret.
type Codec interface {
	Encode(identity domain.Identity) ([]byte, error)
	Decode(data []byte) (domain.Identity, error)
}

type snapshotRecord struct {
	ID          string      `json:"id"`
	Email       string      `json:"email"`
	Role        domain.Role `json:"role"`
	DisplayName string      `json:"display_name,omitempty"`
}

func (r snapshotRecord) validate() error {
	if strings.TrimSpace(r.Email) == "" {
		return fmt.Errorf("%w: missing email", ErrMalformedSnapshot)
	}
	if !r.Role.IsValid() {
		return fmt.Errorf("%w: invalid role %q", ErrMalformedSnapshot, r.Role)
	}
	return nil
}

func (r snapshotRecord) toDomain() domain.Identity {
	return domain.Identity{ID: r.ID, Email: r.Email, Role: r.Role, DisplayName: r.DisplayName}
}

// JSONCodec stores the snapshot as a plain JSON object.
type JSONCodec struct{}

// Encode implements Codec.
func (JSONCodec) Encode(identity domain.Identity) ([]byte, error) {
	return json.Marshal(snapshotRecord{
		ID:          identity.ID,
		Email:       identity.Email,
		Role:        identity.Role,
		DisplayName: identity.DisplayName,
	})
}

// Decode implements Codec.
func (JSONCodec) Decode(data []byte) (domain.Identity, error) {
	var r snapshotRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}
	if err := r.validate(); err != nil {
		return domain.Identity{}, err
	}
	return r.toDomain(), nil
}

const snapshotIssuer = "deepvisas"

type snapshotClaims struct {
	Email       string      `json:"email"`
	Role        domain.Role `json:"role"`
	DisplayName string      `json:"display_name,omitempty"`
	jwt.RegisteredClaims
}

// JWTCodec stores the snapshot as an HS256-signed token so that an edited
// snapshot is rejected on rehydration.
type JWTCodec struct {
	key    []byte
	maxAge time.Duration
	now    func() time.Time
}

// NewJWTCodec creates a signing codec. maxAge of zero means snapshots never expire.
func NewJWTCodec(key []byte, maxAge time.Duration) *JWTCodec {
	return &JWTCodec{key: key, maxAge: maxAge, now: time.Now}
}

// Encode implements Codec.
func (c *JWTCodec) Encode(identity domain.Identity) ([]byte, error) {
	now := c.now()
	claims := snapshotClaims{
		Email:       identity.Email,
		Role:        identity.Role,
		DisplayName: identity.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  identity.ID,
			Issuer:   snapshotIssuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if c.maxAge > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(c.maxAge))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return nil, fmt.Errorf("sign snapshot: %w", err)
	}
	return []byte(signed), nil
}

// Decode implements Codec.
func (c *JWTCodec) Decode(data []byte) (domain.Identity, error) {
	var claims snapshotClaims
	_, err := jwt.ParseWithClaims(string(data), &claims,
		func(*jwt.Token) (interface{}, error) { return c.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(snapshotIssuer),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}

	r := snapshotRecord{
		ID:          claims.Subject,
		Email:       claims.Email,
		Role:        claims.Role,
		DisplayName: claims.DisplayName,
	}
	if err := r.validate(); err != nil {
		return domain.Identity{}, err
	}
	return r.toDomain(), nil
}
