package exchange

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"
)

// Envelope layout: magic | version | salt | nonce | AES-256-GCM ciphertext.
const (
	envelopeVersion = 1
	saltSize        = 16
	keySize         = 32

	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

var envelopeMagic = []byte("IPRX")

var (
	// ErrNotEncrypted means the payload does not start with the envelope magic.
	ErrNotEncrypted = errors.New("exchange: payload is not an encrypted export")
	// ErrBadPassphrase means authentication failed; the passphrase is wrong
	// or the payload was modified.
	ErrBadPassphrase = errors.New("exchange: wrong passphrase or corrupted payload")
	// ErrUnsupportedVersion means the envelope was written by a newer format.
	ErrUnsupportedVersion = errors.New("exchange: unsupported envelope version")
)

// IsEncrypted reports whether data carries the envelope magic.
func IsEncrypted(data []byte) bool {
	return bytes.HasPrefix(data, envelopeMagic)
}

func deriveKey(passphrase string, salt []byte) ([]byte, error) {
	return scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, keySize)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext under passphrase.
func Seal(passphrase string, plaintext []byte) ([]byte, error) {
	if passphrase == "" {
		return nil, errors.New("exchange: passphrase is empty")
	}
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return nil, fmt.Errorf("exchange: derive key: %w", err)
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	header := make([]byte, 0, len(envelopeMagic)+1+saltSize+len(nonce))
	header = append(header, envelopeMagic...)
	header = append(header, envelopeVersion)
	header = append(header, salt...)
	header = append(header, nonce...)

	// The header is bound as additional data so it cannot be swapped.
	return gcm.Seal(header, nonce, plaintext, header[:len(envelopeMagic)+1]), nil
}

// Open decrypts an envelope produced by Seal.
func Open(passphrase string, data []byte) ([]byte, error) {
	if !IsEncrypted(data) {
		return nil, ErrNotEncrypted
	}
	rest := data[len(envelopeMagic):]
	if len(rest) < 1+saltSize {
		return nil, ErrBadPassphrase
	}
	if rest[0] != envelopeVersion {
		return nil, fmt.Errorf("%w %d", ErrUnsupportedVersion, rest[0])
	}
	salt := rest[1 : 1+saltSize]

	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return nil, fmt.Errorf("exchange: derive key: %w", err)
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	body := rest[1+saltSize:]
	ns := gcm.NonceSize()
	if len(body) < ns {
		return nil, ErrBadPassphrase
	}
	plain, err := gcm.Open(nil, body[:ns], body[ns:], data[:len(envelopeMagic)+1])
	if err != nil {
		return nil, ErrBadPassphrase
	}
	return plain, nil
}
