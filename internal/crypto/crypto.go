// Package crypto encrypts device credentials at rest with Fernet. The key
// lives in the settings table and is generated on first use.
package crypto

import (
	"errors"
	"fmt"
	"sync"

	"github.com/fernet/fernet-go"

	"github.com/eNMS-automation/eNMS-sub001/internal/database"
)

const keySetting = "credential_key"

var ErrInvalidToken = errors.New("decrypt: invalid token")

var (
	keyMu  sync.Mutex
	cached *fernet.Key
)

func getKey() (*fernet.Key, error) {
	keyMu.Lock()
	defer keyMu.Unlock()
	if cached != nil {
		return cached, nil
	}

	keyStr, err := database.GetSetting(keySetting)
	if err != nil {
		var k fernet.Key
		if err := k.Generate(); err != nil {
			return nil, fmt.Errorf("generate credential key: %w", err)
		}
		if err := database.SetSetting(keySetting, k.Encode()); err != nil {
			return nil, fmt.Errorf("save credential key: %w", err)
		}
		cached = &k
		return cached, nil
	}

	key, err := fernet.DecodeKey(keyStr)
	if err != nil {
		return nil, fmt.Errorf("decode credential key: %w", err)
	}
	cached = key
	return cached, nil
}

// ResetKeyCache forgets the cached key so the next call reads the settings
// table again. Used when the database is swapped.
func ResetKeyCache() {
	keyMu.Lock()
	cached = nil
	keyMu.Unlock()
}

// Encrypt returns a Fernet token for plaintext. Empty input stays empty.
func Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	key, err := getKey()
	if err != nil {
		return "", err
	}
	tok, err := fernet.EncryptAndSign([]byte(plaintext), key)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	return string(tok), nil
}

func Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	key, err := getKey()
	if err != nil {
		return "", err
	}
	msg := fernet.VerifyAndDecrypt([]byte(ciphertext), 0, []*fernet.Key{key})
	if msg == nil {
		return "", ErrInvalidToken
	}
	return string(msg), nil
}

// Mask hides all but the last four characters of a secret.
func Mask(value string) string {
	if value == "" {
		return ""
	}
	if len(value) > 4 {
		return "****" + value[len(value)-4:]
	}
	return "****"
}
