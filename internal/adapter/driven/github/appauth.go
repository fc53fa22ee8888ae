package github

import (
	"crypto/rsa"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ericfisherdev/sponsoredissues/internal/domain/port/driven"
)

// parsePrivateKey accepts a PEM block whose newlines may have been escaped as
// literal "\n", which is how multi-line keys usually arrive through env vars.
func parsePrivateKey(pemText string) (*rsa.PrivateKey, error) {
	pemText = strings.ReplaceAll(pemText, `\n`, "\n")

	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(pemText))
	if err != nil {
		return nil, fmt.Errorf("parsing github app private key: %w", err)
	}
	return key, nil
}

// appJWT signs a short-lived RS256 assertion identifying the app. A new one is
// minted for every call batch; iat is backdated a minute for clock drift.
func (c *Client) appJWT() (string, error) {
	if !c.AppConfigured() {
		return "", driven.ErrNotConfigured
	}

	now := c.now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
		Issuer:    strconv.FormatInt(c.appID, 10),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(c.privateKey)
	if err != nil {
		return "", fmt.Errorf("signing app assertion: %w", err)
	}
	return signed, nil
}
