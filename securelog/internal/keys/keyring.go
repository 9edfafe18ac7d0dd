package keys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/argon2"

	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/models"
)

const (
	keyringFormatVersion = 1

	saltSize  = 16
	nonceSize = 12
)

// KDFParams are the argon2id parameters used to derive the keyring KEK.
type KDFParams struct {
	Time    uint32 `json:"time"`
	Memory  uint32 `json:"memory"`
	Threads uint8  `json:"threads"`
	KeyLen  uint32 `json:"key_len"`
}

// DefaultKDFParams matches the interactive argon2id recommendation.
var DefaultKDFParams = KDFParams{Time: 3, Memory: 64 * 1024, Threads: 4, KeyLen: 32}

// keyringFile is the on-disk envelope.
type keyringFile struct {
	Version    int       `json:"version"`
	UpdatedAt  string    `json:"updated_at"`
	KDF        KDFParams `json:"kdf"`
	Salt       string    `json:"salt"`
	Nonce      string    `json:"nonce"`
	Ciphertext string    `json:"ciphertext"`
}

// keyringPayload is the sealed content.
type keyringPayload struct {
	Current int         `json:"current"`
	Keys    []storedKey `json:"keys"`
}

type storedKey struct {
	Version   int       `json:"version"`
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
}

// Keyring persists key versions to a file sealed with AES-256-GCM under a
// key derived from a passphrase.
type Keyring struct {
	path       string
	passphrase []byte
	params     KDFParams
}

// NewKeyring returns a keyring stored at path.
func NewKeyring(path, passphrase string) (*Keyring, error) {
	if path == "" || passphrase == "" {
		return nil, fmt.Errorf("%w: keyring requires a path and a passphrase", models.ErrConfiguration)
	}
	return &Keyring{path: path, passphrase: []byte(passphrase), params: DefaultKDFParams}, nil
}

// WithKDFParams overrides the argon2id cost used for new saves.
func (k *Keyring) WithKDFParams(p KDFParams) *Keyring {
	k.params = p
	return k
}

// Load returns the stored versions and current version. A missing file
// yields (nil, 0, nil).
func (k *Keyring) Load() ([]KeyVersion, int, error) {
	data, err := os.ReadFile(k.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("read keyring: %w", err)
	}

	var file keyringFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, 0, fmt.Errorf("%w: keyring is not valid JSON: %v", models.ErrIntegrity, err)
	}
	if file.Version != keyringFormatVersion {
		return nil, 0, fmt.Errorf("%w: unsupported keyring version %d", models.ErrConfiguration, file.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(file.Salt)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: keyring salt: %v", models.ErrIntegrity, err)
	}
	nonce, err := base64.StdEncoding.DecodeString(file.Nonce)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: keyring nonce: %v", models.ErrIntegrity, err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(file.Ciphertext)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: keyring ciphertext: %v", models.ErrIntegrity, err)
	}

	gcm, err := k.aead(salt, file.KDF)
	if err != nil {
		return nil, 0, err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, []byte(k.path))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: keyring authentication failed (wrong passphrase or tampered file)", models.ErrIntegrity)
	}

	var payload keyringPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, 0, fmt.Errorf("%w: keyring payload: %v", models.ErrIntegrity, err)
	}

	versions := make([]KeyVersion, 0, len(payload.Keys))
	for _, sk := range payload.Keys {
		raw, err := base64.StdEncoding.DecodeString(sk.Key)
		if err != nil || len(raw) != KeySize {
			return nil, 0, fmt.Errorf("%w: key version %d is malformed", models.ErrIntegrity, sk.Version)
		}
		versions = append(versions, KeyVersion{Version: sk.Version, Key: raw, CreatedAt: sk.CreatedAt})
	}
	return versions, payload.Current, nil
}

// Save atomically replaces the keyring with the given versions.
func (k *Keyring) Save(versions []KeyVersion, current int) error {
	payload := keyringPayload{Current: current}
	for _, v := range versions {
		payload.Keys = append(payload.Keys, storedKey{
			Version:   v.Version,
			Key:       base64.StdEncoding.EncodeToString(v.Key),
			CreatedAt: v.CreatedAt,
		})
	}
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal keyring: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	gcm, err := k.aead(salt, k.params)
	if err != nil {
		return err
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, []byte(k.path))

	file := keyringFile{
		Version:    keyringFormatVersion,
		UpdatedAt:  time.Now().UTC().Format(time.RFC3339),
		KDF:        k.params,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal keyring file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(k.path), 0o700); err != nil {
		return fmt.Errorf("create keyring directory: %w", err)
	}
	tmp := k.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write keyring: %w", err)
	}
	if err := os.Rename(tmp, k.path); err != nil {
		return fmt.Errorf("replace keyring: %w", err)
	}
	return nil
}

func (k *Keyring) aead(salt []byte, p KDFParams) (cipher.AEAD, error) {
	if p.KeyLen != 32 {
		return nil, fmt.Errorf("%w: keyring KEK must be 32 bytes", models.ErrConfiguration)
	}
	kek := argon2.IDKey(k.passphrase, salt, p.Time, p.Memory, p.Threads, p.KeyLen)
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
