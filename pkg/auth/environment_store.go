package auth

import "os"

// EnvironmentStore reads the key from PEXELS_API_KEY and the destination
// token from PEXELSYNC_DESTINATION_TOKEN. It is read-only and answers for
// every profile.
type EnvironmentStore struct{}

func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

func (e *EnvironmentStore) Store(*Credential) error {
	return ErrStoreUnavailable
}

func (e *EnvironmentStore) Retrieve(profile string) (*Credential, error) {
	key := os.Getenv(KeyVariable)
	if key == "" {
		return nil, ErrCredentialsNotFound
	}
	if profile == "" {
		profile = DefaultProfile
	}
	return &Credential{
		Profile:          profile,
		APIKey:           key,
		DestinationToken: os.Getenv("PEXELSYNC_DESTINATION_TOKEN"),
	}, nil
}

func (e *EnvironmentStore) List() ([]*Credential, error) {
	cred, err := e.Retrieve(DefaultProfile)
	if err != nil {
		return []*Credential{}, nil
	}
	return []*Credential{cred}, nil
}

func (e *EnvironmentStore) Delete(string) error {
	return ErrStoreUnavailable
}

func (e *EnvironmentStore) Exists(string) bool {
	return os.Getenv(KeyVariable) != ""
}
