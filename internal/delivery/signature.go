package delivery

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// SigningSecret is one signing key. Multiple keys coexist during
// rotation: the newest always signs, older ones are included for 24h so
// receivers can verify in-flight deliveries against either key.
type SigningSecret struct {
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
}

const secretGracePeriod = 24 * time.Hour

type SignatureManager struct {
	secrets []SigningSecret
	now     func() time.Time
}

type SignatureManagerOption func(*SignatureManager)

// WithSignatureClock overrides time for tests.
func WithSignatureClock(now func() time.Time) SignatureManagerOption {
	return func(sm *SignatureManager) {
		sm.now = now
	}
}

func NewSignatureManager(secrets []SigningSecret, opts ...SignatureManagerOption) *SignatureManager {
	sm := &SignatureManager{
		secrets: secrets,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(sm)
	}
	return sm
}

func hmacSHA256(key, content string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(content))
	return hex.EncodeToString(mac.Sum(nil))
}

// GenerateSignatures signs "<unix ts>.<body>" with every eligible
// secret, newest first.
func (sm *SignatureManager) GenerateSignatures(timestamp time.Time, body []byte) []string {
	if len(sm.secrets) == 0 {
		return nil
	}

	sortedSecrets := make([]SigningSecret, len(sm.secrets))
	copy(sortedSecrets, sm.secrets)
	sort.Slice(sortedSecrets, func(i, j int) bool {
		return sortedSecrets[i].CreatedAt.After(sortedSecrets[j].CreatedAt)
	})

	content := fmt.Sprintf("%d.%s", timestamp.Unix(), body)

	signatures := []string{hmacSHA256(sortedSecrets[0].Key, content)}

	now := sm.now()
	for _, secret := range sortedSecrets[1:] {
		if now.Sub(secret.CreatedAt) < secretGracePeriod {
			signatures = append(signatures, hmacSHA256(secret.Key, content))
		}
	}

	return signatures
}

// GenerateSignatureHeader renders the header value in the form
// "t=<unix>,v0=<sig>[,<sig>...]".
func (sm *SignatureManager) GenerateSignatureHeader(timestamp time.Time, body []byte) string {
	signatures := sm.GenerateSignatures(timestamp, body)
	if len(signatures) == 0 {
		return ""
	}
	return fmt.Sprintf("t=%d,v0=%s", timestamp.Unix(), strings.Join(signatures, ","))
}
