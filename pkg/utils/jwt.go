package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"pipeline-crm-backend/pkg/models"
)

const (
	AccessTokenTTL  = time.Hour
	RefreshTokenTTL = 7 * 24 * time.Hour

	// TokenAudience matches the hosted auth provider's signed-in audience
	TokenAudience = "authenticated"
)

// JWTService signs and validates HS256 session tokens. Tokens minted by the
// hosted auth provider with the same secret validate here too.
type JWTService struct {
	secretKey []byte
	now       func() time.Time
}

func NewJWTService(secretKey string) *JWTService {
	return &JWTService{
		secretKey: []byte(secretKey),
		now:       time.Now,
	}
}

func (j *JWTService) sign(userID, email, typ string, ttl time.Duration) (string, time.Time, error) {
	now := j.now()
	expiry := now.Add(ttl)
	claims := &models.TokenClaims{
		Email: email,
		Role:  TokenAudience,
		Type:  typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Audience:  jwt.ClaimStrings{TokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign %s token: %w", typ, err)
	}
	return token, expiry, nil
}

// GenerateTokenPair issues an access and a refresh token
func (j *JWTService) GenerateTokenPair(userID, email string) (*models.TokenPair, error) {
	access, expiry, err := j.sign(userID, email, "access", AccessTokenTTL)
	if err != nil {
		return nil, err
	}
	refresh, _, err := j.sign(userID, email, "refresh", RefreshTokenTTL)
	if err != nil {
		return nil, err
	}
	return &models.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(expiry.Sub(j.now()).Seconds()),
	}, nil
}

// GenerateAccessToken issues an access token and returns its expiry as unix seconds
func (j *JWTService) GenerateAccessToken(userID, email string) (string, int64, error) {
	token, expiry, err := j.sign(userID, email, "access", AccessTokenTTL)
	if err != nil {
		return "", 0, err
	}
	return token, expiry.Unix(), nil
}

// ValidateToken checks signature, expiry and subject
func (j *JWTService) ValidateToken(tokenString string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return j.secretKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

// ValidateAccessToken rejects refresh tokens. Provider tokens carry no type
// claim and count as access tokens.
func (j *JWTService) ValidateAccessToken(tokenString string) (*models.TokenClaims, error) {
	claims, err := j.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Type != "" && claims.Type != "access" {
		return nil, fmt.Errorf("invalid token type: expected access, got %s", claims.Type)
	}
	return claims, nil
}

func (j *JWTService) ValidateRefreshToken(tokenString string) (*models.TokenClaims, error) {
	claims, err := j.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Type != "refresh" {
		return nil, fmt.Errorf("invalid token type: expected refresh, got %s", claims.Type)
	}
	return claims, nil
}

// RefreshAccessToken trades a refresh token for a new pair
func (j *JWTService) RefreshAccessToken(refreshToken string) (*models.TokenPair, error) {
	claims, err := j.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh token: %w", err)
	}
	return j.GenerateTokenPair(claims.UserID(), claims.Email)
}

// ExtractUserFromToken returns the user an access token was issued to
func (j *JWTService) ExtractUserFromToken(tokenString string) (*models.User, error) {
	claims, err := j.ValidateAccessToken(tokenString)
	if err != nil {
		return nil, err
	}
	return &models.User{ID: claims.UserID(), Email: claims.Email}, nil
}
