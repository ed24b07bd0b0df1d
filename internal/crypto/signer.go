package crypto

import (
	"bufio"
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const retiredSuffix = ".retired"

// Verifier checks ledger entry signatures.
type Verifier interface {
	VerifySignature(hash, signatureHex string) bool
}

// Signer handles Ed25519 signing of ledger entry hashes.
// The private key is stored hex-encoded at keyPath; public keys retired by
// RotateKey are kept in keyPath+".retired" so older entries keep verifying.
// Safe for concurrent use.
type Signer struct {
	mu         sync.RWMutex
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	retired    []ed25519.PublicKey
}

// NewSigner loads the key at keyPath or generates and saves a new one (0600).
func NewSigner(keyPath string) (*Signer, error) {
	if keyPath == "" {
		return nil, errors.New("key path must not be empty")
	}
	retired, err := loadRetired(keyPath + retiredSuffix)
	if err != nil {
		return nil, err
	}

	privateKey, err := loadPrivateKey(keyPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generating keypair: %w", err)
		}
		if err := savePrivateKey(keyPath, priv); err != nil {
			return nil, fmt.Errorf("saving private key: %w", err)
		}
		return &Signer{privateKey: priv, publicKey: pub, retired: retired}, nil
	}

	return &Signer{
		privateKey: privateKey,
		publicKey:  privateKey.Public().(ed25519.PublicKey),
		retired:    retired,
	}, nil
}

// NewEphemeralSigner returns a signer whose key lives only in memory.
func NewEphemeralSigner() (*Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating keypair: %w", err)
	}
	return &Signer{privateKey: priv, publicKey: pub}, nil
}

// SignHash signs the hash string directly (it is not re-hashed).
func (s *Signer) SignHash(hash string) (string, error) {
	if hash == "" {
		return "", errors.New("hash must not be empty")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return hex.EncodeToString(ed25519.Sign(s.privateKey, []byte(hash))), nil
}

// PublicKey returns the current public key hex-encoded.
func (s *Signer) PublicKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return hex.EncodeToString(s.publicKey)
}

// VerifySignature accepts signatures from the current or any retired key.
func (s *Signer) VerifySignature(hash, signatureHex string) bool {
	signature, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ed25519.Verify(s.publicKey, []byte(hash), signature) {
		return true
	}
	for _, pub := range s.retired {
		if ed25519.Verify(pub, []byte(hash), signature) {
			return true
		}
	}
	return false
}

// RotateKey generates a new keypair, saves it to keyPath and retires the old public key.
func (s *Signer) RotateKey(keyPath string) (oldPubKey, newPubKey string, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generating new keypair: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	oldPubKey = hex.EncodeToString(s.publicKey)
	if err := appendRetired(keyPath+retiredSuffix, oldPubKey); err != nil {
		return "", "", fmt.Errorf("retiring old key: %w", err)
	}
	if err := savePrivateKey(keyPath, priv); err != nil {
		return "", "", fmt.Errorf("saving rotated key: %w", err)
	}

	s.retired = append(s.retired, s.publicKey)
	s.privateKey = priv
	s.publicKey = pub
	return oldPubKey, hex.EncodeToString(pub), nil
}

func loadPrivateKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	keyBytes, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("decoding key: %w", err)
	}
	if len(keyBytes) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid key size: expected %d, got %d", ed25519.PrivateKeySize, len(keyBytes))
	}
	return ed25519.PrivateKey(keyBytes), nil
}

func savePrivateKey(path string, key ed25519.PrivateKey) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(hex.EncodeToString(key)), 0600)
}

func loadRetired(path string) ([]ed25519.PublicKey, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading retired keys: %w", err)
	}

	var keys []ed25519.PublicKey
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		b, err := hex.DecodeString(line)
		if err != nil || len(b) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("invalid retired key %q", line)
		}
		keys = append(keys, ed25519.PublicKey(b))
	}
	return keys, sc.Err()
}

func appendRetired(path, pubHex string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(pubHex + "\n"); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
