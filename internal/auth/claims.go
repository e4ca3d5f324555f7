package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenExpired inspecciona el claim exp de un access token sin verificar la
// firma (la firma la valida el backend). Sirve para saber, antes de gastar
// una ida y vuelta, si el token ya caduco. Ante un token ilegible o sin exp
// devuelve false y deja que el backend decida.
func TokenExpired(token string, now time.Time) bool {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return now.After(exp.Time)
}
