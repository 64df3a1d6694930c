package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"pexelsync/pkg/logger"
)

// DefaultProfile is used when no profile name is given
const DefaultProfile = "default"

// Credential holds the secrets of one profile: the Pexels API key and,
// optionally, the token of a remote destination
type Credential struct {
	Profile          string    `json:"profile"`
	APIKey           string    `json:"api_key"`
	DestinationToken string    `json:"destination_token,omitempty"`
	LastModified     time.Time `json:"last_modified"`
}

// CredentialStore is the interface for storing and retrieving credentials
type CredentialStore interface {
	Store(cred *Credential) error
	Retrieve(profile string) (*Credential, error)
	List() ([]*Credential, error)
	Delete(profile string) error
	Exists(profile string) bool
}

// Manager handles credential storage with fallback mechanisms
type Manager struct {
	stores []CredentialStore
}

// NewManager creates a credential manager over the system keyring (when
// available), an encrypted file in the config directory and the
// environment, in that order
func NewManager() (*Manager, error) {
	var stores []CredentialStore

	if keyringStore, err := NewKeyringStore(); err == nil {
		stores = append(stores, keyringStore)
	}

	dir, err := configDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}
	encryptedStore, err := NewEncryptedFileStore(filepath.Join(dir, "credentials.enc"), "")
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore, NewEnvironmentStore())

	return &Manager{stores: stores}, nil
}

// NewManagerWithStores uses the given stores, first one preferred
func NewManagerWithStores(stores ...CredentialStore) *Manager {
	return &Manager{stores: stores}
}

// Store saves the credential in the first store that accepts it
func (m *Manager) Store(cred *Credential) error {
	if cred == nil || cred.APIKey == "" {
		return errors.New("API key is required")
	}
	if cred.Profile == "" {
		cred.Profile = DefaultProfile
	}
	cred.LastModified = time.Now()

	var lastErr error
	for _, store := range m.stores {
		err := store.Store(cred)
		if err == nil {
			return nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return fmt.Errorf("failed to store credentials: %w", lastErr)
	}
	return ErrStoreUnavailable
}

// Retrieve gets the credential from the first store that has it
func (m *Manager) Retrieve(profile string) (*Credential, error) {
	if profile == "" {
		profile = DefaultProfile
	}
	for _, store := range m.stores {
		if cred, err := store.Retrieve(profile); err == nil && cred != nil {
			return cred, nil
		}
	}
	return nil, fmt.Errorf("profile %q: %w", profile, ErrCredentialsNotFound)
}

// List returns every profile, the most recent copy of each, sorted by name
func (m *Manager) List() ([]*Credential, error) {
	byProfile := make(map[string]*Credential)

	for _, store := range m.stores {
		creds, err := store.List()
		if err != nil {
			continue
		}
		for _, c := range creds {
			if existing, ok := byProfile[c.Profile]; !ok || c.LastModified.After(existing.LastModified) {
				byProfile[c.Profile] = c
			}
		}
	}

	result := make([]*Credential, 0, len(byProfile))
	for _, c := range byProfile {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Profile < result[j].Profile })
	return result, nil
}

// Delete removes the profile from every store
func (m *Manager) Delete(profile string) error {
	if profile == "" {
		profile = DefaultProfile
	}

	var deleted bool
	var lastErr error
	for _, store := range m.stores {
		if err := store.Delete(profile); err == nil {
			deleted = true
		} else {
			lastErr = err
		}
	}

	if deleted {
		return nil
	}
	if lastErr != nil && !errors.Is(lastErr, ErrCredentialsNotFound) && !errors.Is(lastErr, ErrStoreUnavailable) {
		return fmt.Errorf("failed to delete credentials: %w", lastErr)
	}
	return fmt.Errorf("profile %q: %w", profile, ErrCredentialsNotFound)
}

// KeySource lists the places an API key may come from
type KeySource struct {
	// Explicit is a key given on the command line or in the config file
	Explicit string
	// KeyFile is a local path or http(s) URL of a key=value file
	KeyFile string
	Profile string
	// HTTPClient fetches a remote KeyFile; nil means a default client
	HTTPClient *http.Client
	Logger     logger.Logger
}

// ResolveKey returns the API key and a short description of where it came
// from. The explicit key wins, then the key file, then the stores. A key
// file that cannot be read is logged and skipped.
func (m *Manager) ResolveKey(ctx context.Context, src KeySource) (key, origin string, err error) {
	if src.Explicit != "" {
		return src.Explicit, "config", nil
	}

	var fileErr error
	if src.KeyFile != "" {
		key, err := LoadKeyFile(ctx, src.KeyFile, src.HTTPClient)
		if err == nil {
			return key, "key file " + src.KeyFile, nil
		}
		fileErr = err
		log := src.Logger
		if log == nil {
			log = logger.GetLogger()
		}
		log.WarnWithFields("Key file unusable, trying stored credentials", map[string]interface{}{
			"key_file": src.KeyFile,
			"error":    err.Error(),
		})
	}

	cred, err := m.Retrieve(src.Profile)
	if err != nil {
		if fileErr != nil {
			err = errors.Join(fileErr, err)
		}
		return "", "", fmt.Errorf("no Pexels API key configured (use --api-key, --key-file or 'pexelsync auth login'): %w", err)
	}
	return cred.APIKey, "profile " + cred.Profile, nil
}

// configDir returns the XDG config directory for pexelsync, creating it
func configDir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		var err error
		base, err = os.UserConfigDir()
		if err != nil {
			return "", err
		}
	}

	dir := filepath.Join(base, "pexelsync")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return dir, nil
}

// Sanitize returns a copy of cred with the secrets masked
func Sanitize(cred *Credential) *Credential {
	if cred == nil {
		return nil
	}
	out := *cred
	out.APIKey = maskString(cred.APIKey)
	if cred.DestinationToken != "" {
		out.DestinationToken = maskString(cred.DestinationToken)
	}
	return &out
}

// maskString masks all but the first 4 and last 4 characters of a string
func maskString(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

var (
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrStoreUnavailable    = errors.New("credential store unavailable")
)
