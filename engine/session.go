package engine

import (
	"fmt"
	"strings"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// Session details from the `userid` handshake. The value is either a bare
// user name or a signed session token; tokens are read unverified here
// (transport authentication is out of scope), the subject claim becomes
// the session user.
type SessionDetails struct {
	UserId string
}

func ParseSessionUserId(userid string) string {
	if strings.Count(userid, ".") != 2 {
		return userid
	}
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(userid, gojwt.MapClaims{})
	if err != nil {
		return userid
	}
	claims := token.Claims.(gojwt.MapClaims)
	if sub, ok := claims["sub"].(string); ok && sub != "" {
		return sub
	}
	return userid
}

// MintSessionToken signs a session token for a user, for deployments that
// want an auditable user id on the wire instead of a bare name.
func MintSessionToken(userId string, secret []byte) (string, error) {
	if userId == "" {
		return "", fmt.Errorf("empty user id")
	}
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{
		"sub": userId,
		"iat": time.Now().Unix(),
	})
	return token.SignedString(secret)
}
