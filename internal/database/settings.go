package database

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/scrypt"
)

// Well-known settings keys
const (
	SettingVeeamURL      = "veeam_url"
	SettingVeeamUsername = "veeam_username"
	SettingVeeamPassword = "veeam_password" // stored encrypted
)

// GetSetting retrieves a setting value.
// Returns empty string if the key does not exist.
func GetSetting(db *sql.DB, key string) (string, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query setting: %w", err)
	}
	return value, nil
}

// SetSetting writes a setting value, replacing any existing value
func SetSetting(db *sql.DB, key, value string) error {
	_, err := db.Exec(
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to set setting: %w", err)
	}
	return nil
}

// DeleteSetting removes a setting
func DeleteSetting(db *sql.DB, key string) error {
	_, err := db.Exec(`DELETE FROM settings WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete setting: %w", err)
	}
	return nil
}

// CredentialCipher encrypts stored credentials with AES-256-GCM.
// The key is derived from the configured hex master key and salt via scrypt.
type CredentialCipher struct {
	gcm cipher.AEAD
}

// NewCredentialCipher derives the AES key from the 64-character hex master
// key and the salt and prepares the AEAD
func NewCredentialCipher(masterKeyHex, salt string) (*CredentialCipher, error) {
	if masterKeyHex == "" {
		return nil, fmt.Errorf("encryption key is required")
	}

	master, err := hex.DecodeString(masterKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid hex key: %w", err)
	}
	if len(master) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes for AES-256, got %d", len(master))
	}

	key, err := scrypt.Key(master, []byte(salt), 1<<15, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &CredentialCipher{gcm: gcm}, nil
}

// Encrypt seals plaintext and returns base64(nonce || ciphertext)
func (c *CredentialCipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt
func (c *CredentialCipher) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	if len(raw) < c.gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce := raw[:c.gcm.NonceSize()]
	plaintext, err := c.gcm.Open(nil, nonce, raw[c.gcm.NonceSize():], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}

// SaveVeeamCredentials persists the Veeam connection settings, encrypting
// the password at rest
func SaveVeeamCredentials(db *sql.DB, c *CredentialCipher, url, username, password string) error {
	encrypted, err := c.Encrypt(password)
	if err != nil {
		return err
	}

	if err := SetSetting(db, SettingVeeamURL, url); err != nil {
		return err
	}
	if err := SetSetting(db, SettingVeeamUsername, username); err != nil {
		return err
	}
	return SetSetting(db, SettingVeeamPassword, encrypted)
}

// LoadVeeamCredentials retrieves the persisted Veeam connection settings.
// Returns empty strings when nothing has been saved.
func LoadVeeamCredentials(db *sql.DB, c *CredentialCipher) (url, username, password string, err error) {
	if url, err = GetSetting(db, SettingVeeamURL); err != nil {
		return "", "", "", err
	}
	if username, err = GetSetting(db, SettingVeeamUsername); err != nil {
		return "", "", "", err
	}

	encrypted, err := GetSetting(db, SettingVeeamPassword)
	if err != nil {
		return "", "", "", err
	}
	if encrypted == "" {
		return url, username, "", nil
	}

	password, err = c.Decrypt(encrypted)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to decrypt stored password: %w", err)
	}
	return url, username, password, nil
}
