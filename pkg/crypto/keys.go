package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// keys.go - вывод ключа шифрования из парольной фразы
//
// Оператор задаёт ENCRYPTION_PASSPHRASE; 32-байтный ключ AES-256
// выводится через PBKDF2-SHA256 с фиксированным количеством итераций.
// Соль хранится рядом с зашифрованными данными (base64, ENCRYPTION_SALT).

// KeyIterations - количество итераций PBKDF2 (баланс скорость/стойкость,
// ключ выводится один раз на старте процесса)
const KeyIterations = 600_000

// SaltLength - длина соли в байтах
const SaltLength = 16

// Ошибки вывода ключа
var (
	ErrEmptyPassphrase = errors.New("passphrase cannot be empty")
	ErrInvalidSalt     = errors.New("invalid salt encoding")
)

// DeriveKey выводит 32-байтный ключ AES-256 из парольной фразы и соли
func DeriveKey(passphrase string, salt []byte) ([]byte, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	return pbkdf2.Key([]byte(passphrase), salt, KeyIterations, 32, sha256.New), nil
}

// DeriveKeyBase64 выводит ключ из парольной фразы и base64-encoded соли
// (формат хранения соли в .env)
func DeriveKeyBase64(passphrase, saltBase64 string) ([]byte, error) {
	salt, err := base64.StdEncoding.DecodeString(saltBase64)
	if err != nil {
		return nil, ErrInvalidSalt
	}
	return DeriveKey(passphrase, salt)
}

// GenerateSalt генерирует криптографически стойкую соль
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	return salt, nil
}
