package identity

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"wasmkernel/internal/config"
	kerrors "wasmkernel/internal/errors"
)

type fakeKeyring struct {
	values map[string]string
}

func newFakeKeyring() *fakeKeyring {
	return &fakeKeyring{values: make(map[string]string)}
}

func (f *fakeKeyring) Get(service, account string) (string, error) {
	v, ok := f.values[service+"/"+account]
	if !ok {
		return "", errNotFound
	}
	return v, nil
}

func (f *fakeKeyring) Set(service, account, value string) error {
	f.values[service+"/"+account] = value
	return nil
}

type notFoundError struct{}

func (notFoundError) Error() string { return "secret not found in keyring" }

var errNotFound = notFoundError{}

func TestAcquireFromEnv(t *testing.T) {
	t.Setenv(config.EnvPrivateKey, "0x"+strings.Repeat("11", 32))

	cfg := &config.IdentityConfig{AllowEnvKey: true}
	mat, err := acquireWith(context.Background(), cfg, t.TempDir(), newFakeKeyring())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if mat.Address().Hex() == "0x0000000000000000000000000000000000000000" {
		t.Fatal("expected a non-zero derived address")
	}
}

func TestAcquireGeneratesAndPersistsToFile(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.IdentityConfig{UseKeyring: false}

	first, err := acquireWith(context.Background(), cfg, dir, newFakeKeyring())
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	second, err := acquireWith(context.Background(), cfg, dir, newFakeKeyring())
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}

	if first.Address() != second.Address() {
		t.Fatalf("expected persisted key to be reused, got %s vs %s",
			first.Address().Hex(), second.Address().Hex())
	}
}

func TestAcquireCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.key")
	if err := os.WriteFile(path, []byte("not-hex-and-not-32-bytes"), 0o600); err != nil {
		t.Fatalf("write bad file: %v", err)
	}

	cfg := &config.IdentityConfig{UseKeyring: false, PrivateKeyFile: path}
	_, err := acquireWith(context.Background(), cfg, dir, newFakeKeyring())
	if kerrors.CodeOf(err) != CodeCorrupt {
		t.Fatalf("expected CodeCorrupt, got %v", err)
	}
}

func TestAcquireFromKeyring(t *testing.T) {
	dir := t.TempDir()
	ks := newFakeKeyring()

	cfg := &config.IdentityConfig{UseKeyring: true, KeyringTimeoutSecs: 1}
	generated, err := acquireWith(context.Background(), cfg, dir, ks)
	if err != nil {
		t.Fatalf("generate into keyring: %v", err)
	}

	reloaded, err := acquireWith(context.Background(), cfg, dir, ks)
	if err != nil {
		t.Fatalf("reload from keyring: %v", err)
	}
	if generated.Address() != reloaded.Address() {
		t.Fatal("expected keyring-backed identity to round-trip")
	}
}

func TestSignIsDeterministic(t *testing.T) {
	cfg := &config.IdentityConfig{UseKeyring: false}
	mat, err := acquireWith(context.Background(), cfg, t.TempDir(), newFakeKeyring())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	msg := make([]byte, 32)
	first, err := mat.Sign(msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	second, err := mat.Sign(msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if hex.EncodeToString(first) != hex.EncodeToString(second) {
		t.Fatal("expected deterministic signature across invocations")
	}
	if len(first) != 65 {
		t.Fatalf("expected a 65-byte signature, got %d", len(first))
	}
}
