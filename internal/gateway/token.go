package gateway

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// RoomGrant is the permission block of a room access token.
type RoomGrant struct {
	RoomJoin       bool   `json:"roomJoin"`
	Room           string `json:"room"`
	CanPublish     bool   `json:"canPublish"`
	CanSubscribe   bool   `json:"canSubscribe"`
	CanPublishData bool   `json:"canPublishData"`
}

// RoomClaims are the JWT claims carried by a room access token.
type RoomClaims struct {
	Name         string    `json:"name,omitempty"`
	Metadata     string    `json:"metadata,omitempty"`
	RoomMetadata string    `json:"roomMetadata,omitempty"`
	Video        RoomGrant `json:"video"`
	jwt.RegisteredClaims
}

// Role returns the "role" field of the participant metadata.
func (c *RoomClaims) Role() string {
	var meta struct {
		Role string `json:"role"`
	}
	if c.Metadata == "" || json.Unmarshal([]byte(c.Metadata), &meta) != nil {
		return ""
	}
	return meta.Role
}

// TokenIssuer signs and verifies HS256 room tokens.
type TokenIssuer struct {
	apiKey string
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates an issuer. Tokens expire after ttl.
func NewTokenIssuer(apiKey, apiSecret string, ttl time.Duration) (*TokenIssuer, error) {
	if apiKey == "" || apiSecret == "" {
		return nil, errors.New("api key and secret must be set")
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &TokenIssuer{apiKey: apiKey, secret: []byte(apiSecret), ttl: ttl, now: time.Now}, nil
}

// Issue signs a token letting identity join room.
func (i *TokenIssuer) Issue(identity, name, room string, metadata, roomMetadata any) (string, error) {
	meta, err := marshalString(metadata)
	if err != nil {
		return "", err
	}
	roomMeta, err := marshalString(roomMetadata)
	if err != nil {
		return "", err
	}

	now := i.now()
	claims := RoomClaims{
		Name:         name,
		Metadata:     meta,
		RoomMetadata: roomMeta,
		Video: RoomGrant{
			RoomJoin:       true,
			Room:           room,
			CanPublish:     true,
			CanSubscribe:   true,
			CanPublishData: true,
		},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.apiKey,
			Subject:   identity,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Verify parses and validates a token signed by this issuer.
func (i *TokenIssuer) Verify(token string) (*RoomClaims, error) {
	claims := &RoomClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.apiKey),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, err
	}
	if !claims.Video.RoomJoin || claims.Video.Room == "" {
		return nil, errors.New("token does not grant room join")
	}
	return claims, nil
}

// RoomName returns "cook-<first 8 of recipe>-<6 hex>".
func RoomName(recipeID string) string {
	short := recipeID
	if len(short) > 8 {
		short = short[:8]
	}
	var b [3]byte
	if _, err := rand.Read(b[:]); err != nil {
		copy(b[:], uuid.New().NodeID())
	}
	return fmt.Sprintf("cook-%s-%s", short, hex.EncodeToString(b[:]))
}

func marshalString(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	return string(data), nil
}
