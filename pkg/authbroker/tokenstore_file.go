package authbroker

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	fileStoreVersion    = "1.0"
	fileStoreKDF        = "pbkdf2-hmac-sha256"
	fileStoreCipher     = "aes-256-gcm"
	fileStoreIterations = 100000
	fileStoreSaltSize   = 32
	fileStoreIVSize     = 12
)

// ErrWrongPassphrase indicates the store's passphrase does not match the
// one it was created with, or the file was corrupted.
var ErrWrongPassphrase = errors.New("authbroker: wrong passphrase or corrupted token store")

// fileStoreDocument is the on-disk JSON structure, directly adapted from
// the teacher's keystore.KeystoreFile shape.
type fileStoreDocument struct {
	Version    string            `json:"version"`
	KDF        string            `json:"kdf"`
	Iterations int               `json:"iterations"`
	Salt       string            `json:"salt"`
	Cipher     string            `json:"cipher"`
	IV         string            `json:"iv"`
	Ciphertext string            `json:"ciphertext"`
}

// FileTokenStore is a passphrase-encrypted, single-file key/value token
// store: AES-256-GCM under a PBKDF2-HMAC-SHA256-derived key, written with
// 0600 permissions. It is a direct generalization of the teacher's
// pkg/crypto/keystore (which persists exactly one hybrid keypair) into a
// named-token key/value store, since Baltica needs to persist more than
// one secret per client (the identity keypair and, separately, any cached
// online refresh token).
type FileTokenStore struct {
	path       string
	passphrase string
	mu         sync.Mutex
}

// NewFileTokenStore returns a store backed by the file at path, encrypted
// under passphrase. The file need not exist yet; the first Save creates it.
func NewFileTokenStore(path, passphrase string) (*FileTokenStore, error) {
	if len(passphrase) < 12 {
		return nil, fmt.Errorf("authbroker: passphrase must be at least 12 characters")
	}
	return &FileTokenStore{path: path, passphrase: passphrase}, nil
}

func (s *FileTokenStore) readAll() (map[string]string, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}

	var doc fileStoreDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("authbroker: parse token store: %w", err)
	}
	if doc.Version != fileStoreVersion || doc.KDF != fileStoreKDF || doc.Cipher != fileStoreCipher {
		return nil, fmt.Errorf("authbroker: unsupported token store format")
	}

	salt, err := base64.StdEncoding.DecodeString(doc.Salt)
	if err != nil {
		return nil, fmt.Errorf("authbroker: decode salt: %w", err)
	}
	iv, err := base64.StdEncoding.DecodeString(doc.IV)
	if err != nil || len(iv) != fileStoreIVSize {
		return nil, fmt.Errorf("authbroker: decode iv: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(doc.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("authbroker: decode ciphertext: %w", err)
	}

	key := deriveKey(s.passphrase, salt, doc.Iterations)
	defer zero(key[:])

	plaintext, err := decryptGCM(key, iv, ciphertext)
	if err != nil {
		return nil, ErrWrongPassphrase
	}

	var tokens map[string]string
	if err := json.Unmarshal(plaintext, &tokens); err != nil {
		return nil, fmt.Errorf("authbroker: parse decrypted tokens: %w", err)
	}
	return tokens, nil
}

func (s *FileTokenStore) writeAll(tokens map[string]string) error {
	plaintext, err := json.Marshal(tokens)
	if err != nil {
		return err
	}

	var salt [fileStoreSaltSize]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return fmt.Errorf("authbroker: generate salt: %w", err)
	}
	key := deriveKey(s.passphrase, salt[:], fileStoreIterations)
	defer zero(key[:])

	iv, ciphertext, err := encryptGCM(key, plaintext)
	if err != nil {
		return err
	}

	doc := fileStoreDocument{
		Version:    fileStoreVersion,
		KDF:        fileStoreKDF,
		Iterations: fileStoreIterations,
		Salt:       base64.StdEncoding.EncodeToString(salt[:]),
		Cipher:     fileStoreCipher,
		IV:         base64.StdEncoding.EncodeToString(iv),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, out, 0600)
}

// Save stores token under key, re-encrypting the whole document — the
// store holds few enough tokens per client that a single-writer
// read-modify-write is the simplest correct approach; concurrent Save
// calls on the same store serialize through mu.
func (s *FileTokenStore) Save(key string, token []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens, err := s.readAll()
	if err != nil {
		return err
	}
	tokens[key] = base64.StdEncoding.EncodeToString(token)
	return s.writeAll(tokens)
}

// Load returns the token stored under key, or ErrNotFound.
func (s *FileTokenStore) Load(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens, err := s.readAll()
	if err != nil {
		return nil, err
	}
	encoded, ok := tokens[key]
	if !ok {
		return nil, ErrNotFound
	}
	return base64.StdEncoding.DecodeString(encoded)
}

// Delete removes key from the store. Deleting an absent key is not an error.
func (s *FileTokenStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens, err := s.readAll()
	if err != nil {
		return err
	}
	delete(tokens, key)
	return s.writeAll(tokens)
}

func deriveKey(passphrase string, salt []byte, iterations int) [32]byte {
	var key [32]byte
	derived := pbkdf2.Key([]byte(passphrase), salt, iterations, 32, sha256.New)
	copy(key[:], derived)
	zero(derived)
	return key
}

func encryptGCM(key [32]byte, plaintext []byte) (iv, ciphertext []byte, err error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}
	iv = make([]byte, fileStoreIVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, err
	}
	ciphertext = gcm.Seal(nil, iv, plaintext, nil)
	return iv, ciphertext, nil
}

func decryptGCM(key [32]byte, iv, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, iv, ciphertext, nil)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
