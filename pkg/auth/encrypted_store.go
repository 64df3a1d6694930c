package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

// PassphraseVariable overrides the generated passphrase of the vault
const PassphraseVariable = "PEXELSYNC_PASSPHRASE"

const (
	saltSize        = 32
	keySize         = 32
	kdfIterations   = 100000
	vaultVersion    = 1
	passphraseFile  = ".passphrase"
	passphraseBytes = 32
)

// vault is the on-disk form. Sealed holds the JSON of every profile,
// encrypted with AES-GCM under a key derived from the passphrase and Salt.
type vault struct {
	Version  int       `json:"version"`
	Salt     []byte    `json:"salt"`
	Sealed   []byte    `json:"sealed"`
	Modified time.Time `json:"modified"`
}

// EncryptedFileStore keeps the Pexels key and destination token of every
// profile in one encrypted file. It is the fallback when no system keyring
// is available.
type EncryptedFileStore struct {
	path       string
	passphrase string
	mu         sync.RWMutex
}

// NewEncryptedFileStore opens the vault at path. An empty passphrase is
// read from PEXELSYNC_PASSPHRASE, or from a .passphrase file next to the
// vault, generated on first use.
func NewEncryptedFileStore(path, passphrase string) (*EncryptedFileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	if passphrase == "" {
		var err error
		if passphrase, err = localPassphrase(filepath.Dir(path)); err != nil {
			return nil, fmt.Errorf("failed to get passphrase: %w", err)
		}
	}
	return &EncryptedFileStore{path: path, passphrase: passphrase}, nil
}

func (e *EncryptedFileStore) Store(cred *Credential) error {
	if cred == nil || cred.Profile == "" {
		return ErrInvalidCredentials
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	profiles, salt, err := e.read()
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load existing data: %w", err)
	}
	profiles[cred.Profile] = *cred
	return e.write(profiles, salt)
}

func (e *EncryptedFileStore) Retrieve(profile string) (*Credential, error) {
	if profile == "" {
		return nil, ErrInvalidCredentials
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	profiles, _, err := e.read()
	if os.IsNotExist(err) {
		return nil, ErrCredentialsNotFound
	}
	if err != nil {
		return nil, err
	}
	cred, ok := profiles[profile]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	return &cred, nil
}

func (e *EncryptedFileStore) List() ([]*Credential, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	profiles, _, err := e.read()
	if os.IsNotExist(err) {
		return []*Credential{}, nil
	}
	if err != nil {
		return nil, err
	}
	creds := make([]*Credential, 0, len(profiles))
	for _, c := range profiles {
		c := c
		creds = append(creds, &c)
	}
	return creds, nil
}

// Delete removes profile and removes the vault once it is empty
func (e *EncryptedFileStore) Delete(profile string) error {
	if profile == "" {
		return ErrInvalidCredentials
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	profiles, salt, err := e.read()
	if os.IsNotExist(err) {
		return ErrCredentialsNotFound
	}
	if err != nil {
		return err
	}
	if _, ok := profiles[profile]; !ok {
		return ErrCredentialsNotFound
	}
	delete(profiles, profile)

	if len(profiles) == 0 {
		return os.Remove(e.path)
	}
	return e.write(profiles, salt)
}

func (e *EncryptedFileStore) Exists(profile string) bool {
	cred, err := e.Retrieve(profile)
	return err == nil && cred != nil
}

// read returns the profiles and salt of the vault. A missing vault yields
// an empty map, a nil salt and an os.IsNotExist error.
func (e *EncryptedFileStore) read() (map[string]Credential, []byte, error) {
	profiles := make(map[string]Credential)

	content, err := os.ReadFile(e.path)
	if err != nil {
		return profiles, nil, err
	}
	var v vault
	if err := json.Unmarshal(content, &v); err != nil {
		return profiles, nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}

	gcm, err := e.aead(v.Salt)
	if err != nil {
		return profiles, nil, err
	}
	if len(v.Sealed) < gcm.NonceSize() {
		return profiles, nil, errors.New("credentials file is truncated")
	}
	nonce, sealed := v.Sealed[:gcm.NonceSize()], v.Sealed[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return profiles, nil, fmt.Errorf("failed to decrypt credentials, wrong passphrase?: %w", err)
	}
	if err := json.Unmarshal(plain, &profiles); err != nil {
		return profiles, nil, fmt.Errorf("failed to parse credentials: %w", err)
	}
	return profiles, v.Salt, nil
}

// write seals profiles with salt, drawing a fresh salt when there is none
func (e *EncryptedFileStore) write(profiles map[string]Credential, salt []byte) error {
	if len(salt) == 0 {
		salt = make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			return fmt.Errorf("failed to generate salt: %w", err)
		}
	}
	gcm, err := e.aead(salt)
	if err != nil {
		return err
	}

	plain, err := json.Marshal(profiles)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	content, err := json.MarshalIndent(vault{
		Version:  vaultVersion,
		Salt:     salt,
		Sealed:   gcm.Seal(nonce, nonce, plain, nil),
		Modified: time.Now(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials file: %w", err)
	}

	tmp := e.path + ".tmp"
	if err := os.WriteFile(tmp, content, 0600); err != nil {
		return fmt.Errorf("failed to write credentials file: %w", err)
	}
	return os.Rename(tmp, e.path)
}

func (e *EncryptedFileStore) aead(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(e.passphrase), salt, kdfIterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func localPassphrase(dir string) (string, error) {
	if pass := os.Getenv(PassphraseVariable); pass != "" {
		return pass, nil
	}

	path := filepath.Join(dir, passphraseFile)
	if content, err := os.ReadFile(path); err == nil && len(content) > 0 {
		return string(content), nil
	}

	b := make([]byte, passphraseBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	pass := base64.URLEncoding.EncodeToString(b)
	if err := os.WriteFile(path, []byte(pass), 0600); err != nil {
		return "", fmt.Errorf("failed to save passphrase: %w", err)
	}
	return pass, nil
}
