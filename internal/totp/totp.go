package totp

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// Fixed parameters: 30-second steps, six digits, SHA-1 (the otpauth default
// every authenticator app implements), and a skew of one step either side so
// modest clock drift does not lock users out.
const (
	period = 30
	skew   = 1

	// BackupCodeCount is the size of the batch generated on enrollment.
	BackupCodeCount = 10

	// 80 bits per code. Codes are stored as unsalted digests, so they need
	// enough entropy to resist offline guessing if the hashes ever leak.
	backupCodeBytes = 10
)

// GenerateSecret creates a new random TOTP secret and its provisioning URI
// (otpauth://) for the given account.
func GenerateSecret(issuer, accountName string) (secret, provisioningURI string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountName,
		Period:      period,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", "", fmt.Errorf("generate totp secret: %w", err)
	}
	return key.Secret(), key.URL(), nil
}

// ValidateCode checks a time-step code against the secret, accepting one step
// before and after the current window. It does not reveal which step matched.
func ValidateCode(code, secret string) bool {
	ok, err := totp.ValidateCustom(code, secret, time.Now().UTC(), totp.ValidateOpts{
		Period:    period,
		Skew:      skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// GenerateBackupCodes creates a batch of single-use backup codes. The
// plaintexts are returned exactly once; only the hashes are ever stored.
func GenerateBackupCodes() (plaintexts, hashes []string, err error) {
	plaintexts = make([]string, 0, BackupCodeCount)
	hashes = make([]string, 0, BackupCodeCount)

	for i := 0; i < BackupCodeCount; i++ {
		buf := make([]byte, backupCodeBytes)
		if _, err := rand.Read(buf); err != nil {
			return nil, nil, fmt.Errorf("generate backup code: %w", err)
		}
		code := hex.EncodeToString(buf)
		plaintexts = append(plaintexts, code)
		hashes = append(hashes, HashBackupCode(code))
	}

	return plaintexts, hashes, nil
}

// HashBackupCode returns the SHA-256 hex digest of a backup code.
func HashBackupCode(code string) string {
	h := sha256.Sum256([]byte(code))
	return hex.EncodeToString(h[:])
}
