package auth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Claims are the JWT claims a PDS puts in its access and refresh tokens.
// They are decoded without verifying the signature and are only used for
// diagnostics; the server remains the authority on validity.
type Claims struct {
	Scope     string    `json:"scope,omitempty"`
	Subject   string    `json:"subject,omitempty"`
	Audience  string    `json:"audience,omitempty"`
	TokenID   string    `json:"tokenId,omitempty"`
	IssuedAt  time.Time `json:"issuedAt,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

// Expired reports whether the token carried an expiry that has passed at now.
func (c Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

var jwtPattern = regexp.MustCompile(`^[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]*$`)

// DecodeClaims extracts claims from a compact JWT. ok is false for anything
// that is not a decodable three-part token.
func DecodeClaims(token string) (Claims, bool) {
	if !jwtPattern.MatchString(token) {
		return Claims{}, false
	}

	parts := strings.Split(token, ".")
	payload, err := decodeSegment(parts[1])
	if err != nil {
		return Claims{}, false
	}

	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Claims{}, false
	}

	var claims Claims
	if scope, ok := raw["scope"].(string); ok {
		claims.Scope = scope
	}
	if sub, ok := raw["sub"].(string); ok {
		claims.Subject = sub
	}
	switch aud := raw["aud"].(type) {
	case string:
		claims.Audience = aud
	case []any:
		if len(aud) > 0 {
			claims.Audience, _ = aud[0].(string)
		}
	}
	if jti, ok := raw["jti"].(string); ok {
		claims.TokenID = jti
	}
	if iat, ok := raw["iat"].(float64); ok {
		claims.IssuedAt = time.Unix(int64(iat), 0)
	}
	if exp, ok := raw["exp"].(float64); ok {
		claims.ExpiresAt = time.Unix(int64(exp), 0)
	}

	return claims, true
}

// ValidateToken rejects values that can never be a usable credential. It does
// not check expiry: an expired access token is still worth sending, since the
// server's rejection is what triggers a refresh.
func ValidateToken(token string) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("token cannot be empty")
	}
	if strings.ContainsAny(token, " \t\n\r") {
		return fmt.Errorf("token cannot contain whitespace characters")
	}
	if len(token) > 8192 {
		return fmt.Errorf("token is too long (maximum 8192 characters)")
	}
	return nil
}

func decodeSegment(seg string) ([]byte, error) {
	switch len(seg) % 4 {
	case 2:
		seg += "=="
	case 3:
		seg += "="
	}
	data, err := base64.URLEncoding.DecodeString(seg)
	if err != nil {
		return nil, fmt.Errorf("invalid base64URL encoding: %w", err)
	}
	return data, nil
}
