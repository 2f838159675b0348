package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/NorikGo/tailormp-sub002/pkg/enums"
)

// AccessTokenPayload captures the data the identity provider puts in a token.
type AccessTokenPayload struct {
	UserID   uuid.UUID
	Role     enums.Role
	TailorID *uuid.UUID
}

// AccessTokenClaims is the typed JWT presented by clients.
type AccessTokenClaims struct {
	UserID   uuid.UUID  `json:"user_id"`
	Role     enums.Role `json:"role"`
	TailorID *uuid.UUID `json:"tailor_id,omitempty"`
	jwt.RegisteredClaims
}
