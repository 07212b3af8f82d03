package backup

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	envelopeVersion = 1
	kdfArgon2id     = "argon2id"
	saltSize        = 16
	keySize         = 32
)

var (
	// ErrNoBackupKey is returned when MC_BACKUP_KEY is not configured
	ErrNoBackupKey = errors.New("MC_BACKUP_KEY not set")
	// ErrDecrypt is returned for a wrong key or a tampered backup
	ErrDecrypt = errors.New("backup decryption failed: wrong key or corrupted file")
	// ErrUnsupportedEnvelope is returned for unknown versions or KDFs
	ErrUnsupportedEnvelope = errors.New("unsupported backup envelope")
)

// KDFParams are the Argon2id cost parameters stored in each envelope
type KDFParams struct {
	Time    uint32 `json:"time"`
	Memory  uint32 `json:"memory"` // KiB
	Threads uint8  `json:"threads"`
}

// DefaultKDFParams follows the RFC 9106 second recommended option
func DefaultKDFParams() KDFParams {
	return KDFParams{Time: 3, Memory: 64 * 1024, Threads: 4}
}

// Envelope is the on-disk format of an encrypted backup. Byte fields are base64 in JSON.
type Envelope struct {
	Version    int       `json:"version"`
	KDF        string    `json:"kdf"`
	Params     KDFParams `json:"params"`
	Salt       []byte    `json:"salt"`
	Nonce      []byte    `json:"nonce"`
	Ciphertext []byte    `json:"ciphertext"`
}

// Encrypt seals plaintext under a key derived from passphrase with a fresh random salt
func Encrypt(plaintext []byte, passphrase string, params KDFParams) ([]byte, error) {
	if passphrase == "" {
		return nil, ErrNoBackupKey
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt, params)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	env := Envelope{
		Version:    envelopeVersion,
		KDF:        kdfArgon2id,
		Params:     params,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: gcm.Seal(nil, nonce, plaintext, additionalData(envelopeVersion)),
	}
	return json.Marshal(env)
}

// Decrypt opens an envelope produced by Encrypt
func Decrypt(data []byte, passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, ErrNoBackupKey
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedEnvelope, err)
	}
	if env.Version != envelopeVersion || env.KDF != kdfArgon2id {
		return nil, fmt.Errorf("%w: version %d kdf %q", ErrUnsupportedEnvelope, env.Version, env.KDF)
	}
	if len(env.Salt) != saltSize || env.Params.Time == 0 || env.Params.Memory == 0 || env.Params.Threads == 0 {
		return nil, fmt.Errorf("%w: bad kdf parameters", ErrUnsupportedEnvelope)
	}

	gcm, err := newGCM(passphrase, env.Salt, env.Params)
	if err != nil {
		return nil, err
	}
	if len(env.Nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("%w: bad nonce", ErrUnsupportedEnvelope)
	}

	plaintext, err := gcm.Open(nil, env.Nonce, env.Ciphertext, additionalData(env.Version))
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

func newGCM(passphrase string, salt []byte, p KDFParams) (cipher.AEAD, error) {
	key := argon2.IDKey([]byte(passphrase), salt, p.Time, p.Memory, p.Threads, keySize)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// additionalData binds the envelope version into the authentication tag
func additionalData(version int) []byte {
	return []byte(fmt.Sprintf("mission-control-backup-v%d", version))
}
