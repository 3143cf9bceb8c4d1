package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	TokenIDBytes      = 32
	VerifySecretBytes = 20
	LinkSecretBytes   = 32
	UserTokenKeyBytes = 32
	QRCodeSize        = 256
)

var verifyCodeOpts = hotp.ValidateOpts{
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return b, nil
}

// NewTokenID returns an unguessable login token id (hex).
func NewTokenID() (string, error) {
	b, err := randomBytes(TokenIDBytes)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// NewUserTokenKey returns the per-user key mixed into JWT signing.
// Replacing it invalidates every bundle issued for that user.
func NewUserTokenKey() (string, error) {
	b, err := randomBytes(UserTokenKeyBytes)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// NewVerifySecret returns a base32 HOTP secret for one login token.
func NewVerifySecret() (string, error) {
	b, err := randomBytes(VerifySecretBytes)
	if err != nil {
		return "", err
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(b), nil
}

// VerifyCode derives the 6-digit code shown next to a login token. Each
// token has its own secret, so the counter is always zero.
func VerifyCode(secret string) (string, error) {
	code, err := hotp.GenerateCodeCustom(secret, 0, verifyCodeOpts)
	if err != nil {
		return "", fmt.Errorf("failed to derive verify code: %w", err)
	}
	return code, nil
}

// CheckVerifyCode reports whether code matches secret.
func CheckVerifyCode(secret, code string) bool {
	ok, err := hotp.ValidateCustom(code, 0, secret, verifyCodeOpts)
	return err == nil && ok
}

// NewLinkSecret returns the secret mailed in a magic link. Only its hash
// is stored.
func NewLinkSecret() (string, error) {
	b, err := randomBytes(LinkSecretBytes)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NewPollSecret returns the secret that lets the issuing device read a
// token's status. It is handed out once, in the issue response.
func NewPollSecret() (string, error) {
	b, err := randomBytes(LinkSecretBytes)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashSecret returns the hex SHA-256 of secret.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// SecretMatches compares secret against a stored hash in constant time.
func SecretMatches(secret, hash string) bool {
	return subtle.ConstantTimeCompare([]byte(HashSecret(secret)), []byte(hash)) == 1
}

// QRCodePNG renders content as a PNG QR code.
func QRCodePNG(content string) ([]byte, error) {
	png, err := qrcode.Encode(content, qrcode.Medium, QRCodeSize)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}
	return png, nil
}
