package database

import (
	"strings"
	"testing"

	"smsrelay/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptor_Disabled(t *testing.T) {
	enc, err := NewEncryptor(models.EncryptionConfig{})
	require.NoError(t, err)
	assert.False(t, enc.Enabled())

	out, err := enc.Seal([]byte(`{"sender":"+1"}`), "sms_1")
	require.NoError(t, err)
	assert.Equal(t, `{"sender":"+1"}`, out)

	plain, err := enc.Open(out, "sms_1")
	require.NoError(t, err)
	assert.Equal(t, `{"sender":"+1"}`, string(plain))
}

func TestEncryptor_RoundTrip(t *testing.T) {
	enc, err := NewEncryptor(models.EncryptionConfig{Enabled: true, Secret: testSecret, Salt: "custom-salt-0123456789"})
	require.NoError(t, err)
	require.True(t, enc.Enabled())

	a, err := enc.Seal([]byte("api key value"), "sms_1")
	require.NoError(t, err)
	b, err := enc.Seal([]byte("api key value"), "sms_1")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "nonces must differ")
	assert.True(t, strings.HasPrefix(a, "v1."))

	plain, err := enc.Open(a, "sms_1")
	require.NoError(t, err)
	assert.Equal(t, "api key value", string(plain))
}

func TestEncryptor_BoundToWorkID(t *testing.T) {
	enc, err := NewEncryptor(models.EncryptionConfig{Enabled: true, Secret: testSecret})
	require.NoError(t, err)

	sealed, err := enc.Seal([]byte("hello"), "sms_1")
	require.NoError(t, err)

	_, err = enc.Open(sealed, "sms_2")
	assert.ErrorIs(t, err, ErrSealedValue)
}

func TestEncryptor_OpenErrors(t *testing.T) {
	enc, err := NewEncryptor(models.EncryptionConfig{Enabled: true, Secret: testSecret})
	require.NoError(t, err)

	_, err = enc.Open("v1.not base64!", "sms_1")
	assert.ErrorIs(t, err, ErrSealedValue)

	_, err = enc.Open("v1.AAAA", "sms_1")
	assert.ErrorIs(t, err, ErrSealedValue)

	_, err = enc.Open("garbage", "sms_1")
	assert.ErrorIs(t, err, ErrSealedValue)

	other, err := NewEncryptor(models.EncryptionConfig{Enabled: true, Secret: testSecret + "-other"})
	require.NoError(t, err)
	sealed, err := other.Seal([]byte("hello"), "sms_1")
	require.NoError(t, err)
	_, err = enc.Open(sealed, "sms_1")
	assert.ErrorIs(t, err, ErrSealedValue)

	disabled, err := NewEncryptor(models.EncryptionConfig{})
	require.NoError(t, err)
	_, err = disabled.Open(sealed, "sms_1")
	assert.ErrorContains(t, err, "encryption is disabled")
}

func TestEncryptor_OpensPlaintextWrittenBeforeEnabling(t *testing.T) {
	enc, err := NewEncryptor(models.EncryptionConfig{Enabled: true, Secret: testSecret})
	require.NoError(t, err)

	plain, err := enc.Open(`{"sender":"+1"}`, "sms_1")
	require.NoError(t, err)
	assert.Equal(t, `{"sender":"+1"}`, string(plain))
}

func TestNewEncryptor_SecretValidation(t *testing.T) {
	_, err := NewEncryptor(models.EncryptionConfig{Enabled: true})
	assert.ErrorContains(t, err, "SMSRELAY_ENCRYPTION_SECRET")

	_, err = NewEncryptor(models.EncryptionConfig{Enabled: true, Secret: "short"})
	assert.Error(t, err)

	_, err = NewEncryptor(models.EncryptionConfig{Enabled: true, Secret: testSecret, Salt: "tiny"})
	assert.Error(t, err)
}

func TestSealAndOpenPayload(t *testing.T) {
	enc, err := NewEncryptor(models.EncryptionConfig{Enabled: true, Secret: testSecret})
	require.NoError(t, err)

	plan := models.ForwardingPlan{Sender: "+15551234567", Body: "hi", PartCount: 1,
		Endpoints: []models.Endpoint{{ID: "1", Credential: "k"}}}
	sealed, err := SealPayload(enc, "sms_1", plan)
	require.NoError(t, err)
	assert.NotContains(t, sealed, "+15551234567")

	opened, err := OpenPayload(enc, "sms_1", sealed)
	require.NoError(t, err)
	assert.Equal(t, plan.Sender, opened.Sender)
	assert.Equal(t, "k", opened.Endpoints[0].Credential)
}
