package identity

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/zalando/go-keyring"

	kerrors "wasmkernel/internal/errors"
)

const (
	keyringService = "wasmkernel"
	keyringAccount = "identity-key"
)

// keyringStore is the seam between this package and the OS credential
// store, kept narrow so github.com/zalando/go-keyring is only ever touched
// from this file.
type keyringStore interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

type systemKeyring struct{}

func (systemKeyring) Get(service, account string) (string, error) {
	return keyring.Get(service, account)
}

func (systemKeyring) Set(service, account, value string) error {
	return keyring.Set(service, account, value)
}

// loadFromKeyring fetches the hex-encoded private key from the OS
// credential store, bounded by timeout to tolerate a user unlock prompt.
func loadFromKeyring(ks keyringStore, timeout time.Duration) ([]byte, error) {
	type result struct {
		value string
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := ks.Get(keyringService, keyringAccount)
		done <- result{value: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		return decodeHexKey(r.value)
	case <-time.After(timeout):
		return nil, kerrors.New(CodeTimeout, fmt.Sprintf("keyring access exceeded %s", timeout))
	}
}

// saveToKeyring persists raw as a hex string under the well-known
// service/account pair, also bounded by timeout.
func saveToKeyring(ctx context.Context, ks keyringStore, raw []byte, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- ks.Set(keyringService, keyringAccount, hex.EncodeToString(raw))
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return kerrors.New(CodeTimeout, fmt.Sprintf("keyring save exceeded %s", timeout))
	case <-ctx.Done():
		return ctx.Err()
	}
}
