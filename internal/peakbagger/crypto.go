package peakbagger

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
)

// Stored Peakbagger passwords are AES-256-GCM sealed with a key derived from
// the owning user's id. The key doubles as the 32-byte nonce.

func userCipher(userID int64) (cipher.AEAD, []byte, error) {
	key := sha256.Sum256([]byte(strconv.FormatInt(userID, 10)))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, nil, err
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, len(key))
	if err != nil {
		return nil, nil, err
	}
	return gcm, key[:], nil
}

// EncryptPassword returns the lowercase hex ciphertext for password.
func EncryptPassword(userID int64, password string) (string, error) {
	gcm, nonce, err := userCipher(userID)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(gcm.Seal(nil, nonce, []byte(password), nil)), nil
}

func DecryptPassword(userID int64, ciphertext string) (string, error) {
	data, err := hex.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decode password: %w", err)
	}
	gcm, nonce, err := userCipher(userID)
	if err != nil {
		return "", err
	}
	plain, err := gcm.Open(nil, nonce, data, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt password: %w", err)
	}
	return string(plain), nil
}
