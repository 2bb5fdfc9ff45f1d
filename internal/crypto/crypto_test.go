package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/eNMS-automation/eNMS-sub001/internal/database"
)

func setupTestDB(t *testing.T) {
	t.Helper()
	db, err := database.Open(":memory:", logger.Silent)
	require.NoError(t, err)
	prev := database.DB
	database.DB = db
	ResetKeyCache()
	t.Cleanup(func() {
		database.DB = prev
		ResetKeyCache()
	})
}

func TestEncryptDecrypt(t *testing.T) {
	setupTestDB(t)

	tok, err := Encrypt("s3cret!")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret!", tok)

	plain, err := Decrypt(tok)
	require.NoError(t, err)
	assert.Equal(t, "s3cret!", plain)

	stored, err := database.GetSetting(keySetting)
	require.NoError(t, err)
	assert.NotEmpty(t, stored)
}

func TestKeySurvivesCacheReset(t *testing.T) {
	setupTestDB(t)

	tok, err := Encrypt("pw")
	require.NoError(t, err)
	ResetKeyCache()

	plain, err := Decrypt(tok)
	require.NoError(t, err)
	assert.Equal(t, "pw", plain)
}

func TestEmptyValues(t *testing.T) {
	setupTestDB(t)

	tok, err := Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, tok)

	plain, err := Decrypt("")
	require.NoError(t, err)
	assert.Empty(t, plain)
}

func TestDecrypt_InvalidToken(t *testing.T) {
	setupTestDB(t)
	_, err := Decrypt("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMask(t *testing.T) {
	assert.Equal(t, "", Mask(""))
	assert.Equal(t, "****", Mask("abc"))
	assert.Equal(t, "****6789", Mask("123456789"))
}
