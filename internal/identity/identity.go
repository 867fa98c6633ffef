// Package identity acquires the kernel's private key from one of several
// sources, derives its address, and signs bytes on its behalf.
package identity

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	kerrors "wasmkernel/internal/errors"
	"wasmkernel/internal/config"
)

// Material is the process-wide private key and its derived address. Exactly
// one exists per running kernel; the private key is never exposed to
// plugins, only signatures produced from it.
type Material struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// Address returns the 20-byte address derived from the key.
func (m *Material) Address() common.Address {
	return m.address
}

// Sign hashes data with keccak-256 and signs the hash, returning the
// 65-byte compact r‖s‖v signature. Deterministic per RFC 6979: the same key
// signing the same bytes always returns the same signature.
func (m *Material) Sign(data []byte) ([]byte, error) {
	hash := crypto.Keccak256(data)
	sig, err := crypto.Sign(hash, m.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	return sig, nil
}

// Acquire runs the configured fallback chain and returns the resulting
// Material: environment variable (if allowed), then the key file (only
// when use_keyring is false) or the OS keyring with a bounded wait (only
// when use_keyring is true), then freshly generated and persisted.
func Acquire(ctx context.Context, cfg *config.IdentityConfig, dataDir string) (*Material, error) {
	return acquireWith(ctx, cfg, dataDir, systemKeyring{})
}

func acquireWith(ctx context.Context, cfg *config.IdentityConfig, dataDir string, ks keyringStore) (*Material, error) {
	if cfg.AllowEnvKey {
		if raw, ok := os.LookupEnv(config.EnvPrivateKey); ok && raw != "" {
			key, err := decodeHexKey(raw)
			if err != nil {
				return nil, kerrors.Wrap(CodeCorrupt, err, "private key from "+config.EnvPrivateKey)
			}
			return fromRaw(key)
		}
	}

	if !cfg.UseKeyring {
		path := cfg.PrivateKeyFile
		if path == "" {
			path = defaultKeyFile(dataDir)
		}
		if raw, err := readKeyFile(path); err == nil {
			return fromRaw(raw)
		} else if !os.IsNotExist(err) {
			return nil, kerrors.Wrap(CodeCorrupt, err, "private key file "+path)
		}
	}

	if cfg.UseKeyring {
		timeout := time.Duration(cfg.KeyringTimeoutSecs) * time.Second
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		raw, err := loadFromKeyring(ks, timeout)
		switch {
		case err == nil:
			return fromRaw(raw)
		case kerrors.CodeOf(err) == CodeTimeout:
			return nil, err
		}
		// any other keyring error (not found, locked, etc.) falls through
		// to generation below.
	}

	raw, err := generate()
	if err != nil {
		return nil, kerrors.Wrap(CodeUnavailable, err, "generate private key")
	}

	if cfg.UseKeyring {
		timeout := time.Duration(cfg.KeyringTimeoutSecs) * time.Second
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		if err := saveToKeyring(ctx, ks, raw, timeout); err != nil {
			return nil, kerrors.Wrap(CodeUnavailable, err, "persist generated key to keyring")
		}
	} else {
		path := cfg.PrivateKeyFile
		if path == "" {
			path = defaultKeyFile(dataDir)
		}
		if err := writeKeyFile(path, raw); err != nil {
			return nil, kerrors.Wrap(CodeUnavailable, err, "persist generated key to "+path)
		}
	}

	return fromRaw(raw)
}

func fromRaw(raw []byte) (*Material, error) {
	key, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, kerrors.Wrap(CodeCorrupt, err, "decode private key")
	}
	return &Material{
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

func generate() ([]byte, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return crypto.FromECDSA(key), nil
}

func decodeHexKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "0x")
	raw = strings.TrimPrefix(raw, "0X")
	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode hex key: %w", err)
	}
	if len(decoded) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(decoded))
	}
	return decoded, nil
}

func defaultKeyFile(dataDir string) string {
	return dataDir + string(os.PathSeparator) + "identity.key"
}
