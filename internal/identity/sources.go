package identity

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// readKeyFile loads a private key from path, accepting either raw 32-byte
// binary content or a hex string (with or without "0x") that decodes to 32
// bytes.
func readKeyFile(path string) ([]byte, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if len(content) == 32 {
		return content, nil
	}

	text := strings.TrimSpace(string(content))
	text = strings.TrimPrefix(text, "0x")
	text = strings.TrimPrefix(text, "0X")
	decoded, err := hex.DecodeString(text)
	if err != nil || len(decoded) != 32 {
		return nil, fmt.Errorf("%s is not 32 raw bytes or a 32-byte hex string", path)
	}
	return decoded, nil
}

// writeKeyFile persists raw as a hex string with owner-only permissions.
func writeKeyFile(path string, raw []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create identity directory: %w", err)
	}
	encoded := hex.EncodeToString(raw)
	return os.WriteFile(path, []byte(encoded), 0o600)
}
