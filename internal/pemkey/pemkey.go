// Package pemkey parses RSA private keys out of PEM bytes, supporting
// PKCS#1, plain PKCS#8, and password-encrypted PKCS#8 (via youmark/pkcs8).
// Legacy PKCS#1 AES-encrypted keys (the "Proc-Type: 4,ENCRYPTED" header) are
// also supported, matching the OCI config file's `key_file`/`pass_phrase`
// convention.
package pemkey

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/youmark/pkcs8"
)

// ErrNotRSA is returned when a parsed key is a valid private key of some
// other algorithm (e.g. ECDSA), which this engine does not support.
var ErrNotRSA = errors.New("pemkey: private key is not RSA")

// ErrNoPEMBlock is returned when the input does not contain a PEM block.
var ErrNoPEMBlock = errors.New("pemkey: no PEM block found")

// Source identifies where PEM bytes should come from.
type Source struct {
	// Bytes, when non-nil, is used directly.
	Bytes []byte
	// Path, used when Bytes is nil, is read from disk.
	Path string
}

// Load resolves a Source to PEM bytes.
func (s Source) Load() ([]byte, error) {
	if s.Bytes != nil {
		return s.Bytes, nil
	}
	if s.Path == "" {
		return nil, errors.New("pemkey: empty key source")
	}
	b, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("pemkey: read %s: %w", s.Path, err)
	}
	return b, nil
}

// ParsePrivateKey decodes an RSA private key from PEM bytes, trying in order:
// unencrypted PKCS#1; unencrypted PKCS#8 (only when passphrase is empty);
// legacy encrypted PKCS#1 (when the block carries a "Proc-Type: 4,ENCRYPTED"
// header); and otherwise password-protected PKCS#8. passphrase may be
// nil/empty when the key is not encrypted.
func ParsePrivateKey(pemBytes, passphrase []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, ErrNoPEMBlock
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	if len(passphrase) == 0 && !isEncryptedPKCS1(block) {
		if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
			return asRSA(key)
		}
	}

	if isEncryptedPKCS1(block) {
		return parseEncryptedPKCS1(block, passphrase)
	}

	// Encrypted PKCS#8 ("BEGIN ENCRYPTED PRIVATE KEY").
	key, err := pkcs8.ParsePKCS8PrivateKey(block.Bytes, passphrase)
	if err != nil {
		return nil, fmt.Errorf("pemkey: failed to parse private key: %w", err)
	}
	return asRSA(key)
}

func asRSA(key any) (*rsa.PrivateKey, error) {
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, ErrNotRSA
	}
	return rsaKey, nil
}

// isEncryptedPKCS1 reports whether a PEM block carries the legacy
// "Proc-Type: 4,ENCRYPTED" header used by old-style encrypted PKCS#1 keys.
func isEncryptedPKCS1(block *pem.Block) bool {
	return block.Headers["Proc-Type"] == "4,ENCRYPTED"
}

// parseEncryptedPKCS1 decrypts a legacy "BEGIN RSA PRIVATE KEY" block whose
// body is protected with DES or AES-{128,192,256}-CBC, as declared in its
// DEK-Info header. Only AES is accepted per the configuration contract;
// other ciphers are rejected even though x509.DecryptPEMBlock could attempt
// them, since the OCI config file's key_file convention never produces
// them.
func parseEncryptedPKCS1(block *pem.Block, passphrase []byte) (*rsa.PrivateKey, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("pemkey: encrypted key requires a passphrase")
	}
	dekInfo := block.Headers["DEK-Info"]
	if !supportedCipher(dekInfo) {
		return nil, fmt.Errorf("pemkey: unsupported cipher in DEK-Info %q", dekInfo)
	}

	//lint:ignore SA1019 stdlib still implements this; no third-party
	//replacement for legacy PEM (RFC 1421) decryption exists in the corpus.
	der, err := x509.DecryptPEMBlock(block, passphrase) //nolint:staticcheck
	if err != nil {
		return nil, fmt.Errorf("pemkey: decrypt PKCS#1 key: %w", err)
	}
	key, err := x509.ParsePKCS1PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("pemkey: parse decrypted PKCS#1 key: %w", err)
	}
	return key, nil
}

func supportedCipher(dekInfo string) bool {
	for _, prefix := range []string{"AES-128-", "AES-192-", "AES-256-"} {
		if len(dekInfo) >= len(prefix) && dekInfo[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// Zero overwrites a byte slice in place. Callers use it to scrub passphrases
// and transient key material once it has served its purpose.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
