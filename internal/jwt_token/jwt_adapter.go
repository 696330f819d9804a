package jwttoken

import (
	authmw "folio/pkg/platform/middleware/auth"
)

// JWTServiceAdapter bridges the token service to the middleware's validator
// interface so the middleware package stays free of jwt imports.
type JWTServiceAdapter struct {
	service *JWTService
}

func NewJWTServiceAdapter(service *JWTService) *JWTServiceAdapter {
	return &JWTServiceAdapter{service: service}
}

func (a *JWTServiceAdapter) ValidateToken(tokenString string) (*authmw.Claims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return &authmw.Claims{
		Subject: claims.Subject,
		Role:    authmw.Role(claims.Role),
	}, nil
}
