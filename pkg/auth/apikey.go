package auth

import (
	"context"

	"github.com/ethpandaops/proxyoor/pkg/config"
	"golang.org/x/crypto/bcrypt"
)

// APIKeyVerifier validates API keys against configured bcrypt hashes. The
// plaintext key never appears in configuration or logs.
type APIKeyVerifier struct {
	keys []config.APIKeyConfig
}

// Ensure APIKeyVerifier implements Verifier.
var _ Verifier = (*APIKeyVerifier)(nil)

// NewAPIKeyVerifier creates a verifier over the configured key set.
func NewAPIKeyVerifier(keys []config.APIKeyConfig) *APIKeyVerifier {
	return &APIKeyVerifier{keys: keys}
}

// Verify compares the presented key against every configured hash. The key
// set is small (config-declared), so a linear scan is fine.
func (v *APIKeyVerifier) Verify(_ context.Context, credential string) (*Identity, error) {
	for _, k := range v.keys {
		if bcrypt.CompareHashAndPassword([]byte(k.KeyHash), []byte(credential)) == nil {
			return &Identity{
				ID:     k.ID,
				Name:   k.Name,
				Method: "api_key",
			}, nil
		}
	}

	return nil, ErrInvalidCredential
}
