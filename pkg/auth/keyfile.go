package auth

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// KeyVariable is the variable a key file must define
const KeyVariable = "PEXELS_API_KEY"

// LoadKeyFile reads a key=value file, from disk or over HTTP(S), and returns
// its PEXELS_API_KEY value
func LoadKeyFile(ctx context.Context, location string, client *http.Client) (string, error) {
	var (
		data []byte
		err  error
	)
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		data, err = fetchKeyFile(ctx, location, client)
	} else {
		data, err = os.ReadFile(location)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read key file: %w", err)
	}

	env, err := godotenv.Parse(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to parse key file: %w", err)
	}

	key := strings.TrimSpace(env[KeyVariable])
	if key == "" {
		return "", fmt.Errorf("key file does not define %s: %w", KeyVariable, ErrInvalidCredentials)
	}
	return key, nil
}

func fetchKeyFile(ctx context.Context, url string, client *http.Client) ([]byte, error) {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 64<<10))
}
