package fabric

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"strings"

	"github.com/agentfabric/fabric/internal/config"
)

// loadMasterKey resolves the 32-byte process master key from which every
// session secret is derived (spec §4.1, §6). cfg.MasterKeyFile takes
// precedence over the environment variable named by cfg.MasterKeyEnv; a
// missing key is the one Invariant failure this package treats as fatal
// at boot (spec §7: "master-key missing").
func loadMasterKey(cfg *config.Config) ([32]byte, error) {
	var raw string
	if cfg.MasterKeyFile != "" {
		data, err := os.ReadFile(cfg.MasterKeyFile)
		if err != nil {
			return [32]byte{}, ErrMasterKeyMissing
		}
		raw = strings.TrimSpace(string(data))
	} else {
		envName := cfg.MasterKeyEnv
		if envName == "" {
			envName = "AGENTFABRIC_MASTER_KEY"
		}
		raw = strings.TrimSpace(os.Getenv(envName))
	}

	if raw == "" {
		return [32]byte{}, ErrMasterKeyMissing
	}

	decoded, err := hex.DecodeString(raw)
	if err != nil || len(decoded) != 32 {
		return [32]byte{}, ErrMasterKeyMissing
	}

	var key [32]byte
	copy(key[:], decoded)
	return key, nil
}

// GenerateMasterKeyHex returns a fresh, hex-encoded 32-byte key suitable
// for AGENTFABRIC_MASTER_KEY — a convenience for first-boot / dev setups,
// never used on the authentication hot path itself.
func GenerateMasterKeyHex() (string, error) {
	var key [32]byte
	if _, err := rand.Read(key[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(key[:]), nil
}
