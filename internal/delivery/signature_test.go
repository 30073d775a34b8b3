package delivery_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/delivery"
)

func expectedSignature(key string, timestamp time.Time, body []byte) string {
	mac := hmac.New(sha256.New, []byte(key))
	fmt.Fprintf(mac, "%d.%s", timestamp.Unix(), body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestSignatureManager_SingleSecret(t *testing.T) {
	t.Parallel()

	timestamp := time.Now()
	body := []byte(`{"hello":"world"}`)

	sm := delivery.NewSignatureManager([]delivery.SigningSecret{
		{Key: "whsec_current", CreatedAt: timestamp},
	})

	signatures := sm.GenerateSignatures(timestamp, body)
	require.Len(t, signatures, 1)
	assert.Equal(t, expectedSignature("whsec_current", timestamp, body), signatures[0])

	header := sm.GenerateSignatureHeader(timestamp, body)
	assert.Equal(t, fmt.Sprintf("t=%d,v0=%s", timestamp.Unix(), signatures[0]), header)
}

func TestSignatureManager_Rotation(t *testing.T) {
	t.Parallel()

	now := time.Now()
	body := []byte(`{}`)

	t.Run("old secret within grace period still signs", func(t *testing.T) {
		sm := delivery.NewSignatureManager([]delivery.SigningSecret{
			{Key: "whsec_old", CreatedAt: now.Add(-23 * time.Hour)},
			{Key: "whsec_new", CreatedAt: now},
		}, delivery.WithSignatureClock(func() time.Time { return now }))

		signatures := sm.GenerateSignatures(now, body)
		require.Len(t, signatures, 2)
		// Newest secret always signs first.
		assert.Equal(t, expectedSignature("whsec_new", now, body), signatures[0])
		assert.Equal(t, expectedSignature("whsec_old", now, body), signatures[1])
	})

	t.Run("expired secret is dropped", func(t *testing.T) {
		sm := delivery.NewSignatureManager([]delivery.SigningSecret{
			{Key: "whsec_old", CreatedAt: now.Add(-25 * time.Hour)},
			{Key: "whsec_new", CreatedAt: now},
		}, delivery.WithSignatureClock(func() time.Time { return now }))

		signatures := sm.GenerateSignatures(now, body)
		require.Len(t, signatures, 1)
		assert.Equal(t, expectedSignature("whsec_new", now, body), signatures[0])
	})
}

func TestSignatureManager_NoSecrets(t *testing.T) {
	t.Parallel()

	sm := delivery.NewSignatureManager(nil)
	assert.Nil(t, sm.GenerateSignatures(time.Now(), []byte(`{}`)))
	assert.Empty(t, sm.GenerateSignatureHeader(time.Now(), []byte(`{}`)))
}
