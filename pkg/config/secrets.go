package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/crypto/scrypt"

	"tokenforge/pkg/logx"
)

// Secret key names for the provider API keys.
const (
	SecretAnthropicAPIKey = "ANTHROPIC_API_KEY"
	SecretOpenAIAPIKey    = "OPENAI_API_KEY"
	SecretGoogleAPIKey    = "GEMINI_API_KEY"
	SecretRedisPassword   = "REDIS_PASSWORD"
)

const (
	secretsFileName = "secrets.json.enc"
	secretsDirName  = ".tokenforge"

	// scrypt parameters. Changing these invalidates existing files.
	saltSize   = 16
	nonceSize  = 12
	scryptN    = 32768
	scryptR    = 8
	scryptP    = 1
	keySize    = 32 // AES-256
	gcmTagSize = 16
)

// APIKeyName maps a provider name to the secret/env key holding its API
// key. Ollama is local and needs none.
func APIKeyName(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return SecretAnthropicAPIKey
	case ProviderOpenAI:
		return SecretOpenAIAPIKey
	case ProviderGoogle:
		return SecretGoogleAPIKey
	default:
		return ""
	}
}

// SecretStore holds decrypted secrets for one project directory. Secrets
// live in <dir>/.tokenforge/secrets.json.enc, encrypted with a key derived
// from the project password via scrypt and sealed with AES-256-GCM.
//
// A zero-value store is locked: Get falls through to environment
// variables until Unlock succeeds.
type SecretStore struct {
	dir string

	mu       sync.RWMutex
	password []byte
	secrets  map[string]string
	unlocked bool
}

// NewSecretStore returns a locked store rooted at projectDir.
func NewSecretStore(projectDir string) *SecretStore {
	if projectDir == "" {
		projectDir = "."
	}
	return &SecretStore{dir: projectDir}
}

func (s *SecretStore) filePath() string {
	return filepath.Join(s.dir, secretsDirName, secretsFileName)
}

// Exists reports whether an encrypted secrets file is present.
func (s *SecretStore) Exists() bool {
	_, err := os.Stat(s.filePath())
	return err == nil
}

// Unlock decrypts the secrets file into memory and keeps the password for
// later saves. A missing file unlocks an empty store so Set can create it.
func (s *SecretStore) Unlock(password string) error {
	secrets := map[string]string{}
	if s.Exists() {
		decrypted, err := s.decryptFile(password)
		if err != nil {
			return err
		}
		secrets = decrypted
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.zeroPasswordLocked()
	s.password = []byte(password)
	s.secrets = secrets
	s.unlocked = true
	return nil
}

// Lock clears the in-memory password and secrets.
func (s *SecretStore) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zeroPasswordLocked()
	s.secrets = nil
	s.unlocked = false
}

func (s *SecretStore) zeroPasswordLocked() {
	for i := range s.password {
		s.password[i] = 0
	}
	s.password = nil
}

// Get returns a secret by key. Precedence: decrypted file, then
// environment variable of the same name.
func (s *SecretStore) Get(key string) (string, error) {
	s.mu.RLock()
	if s.unlocked {
		if value, ok := s.secrets[key]; ok && value != "" {
			s.mu.RUnlock()
			return value, nil
		}
	}
	s.mu.RUnlock()

	if value := os.Getenv(key); value != "" {
		return value, nil
	}

	return "", fmt.Errorf("secret %s not found in secrets file or environment", key)
}

// Set stores a secret and persists the file. The store must be unlocked.
func (s *SecretStore) Set(key, value string) error {
	if key == "" {
		return fmt.Errorf("secret key cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.unlocked {
		return fmt.Errorf("secret store is locked")
	}
	s.secrets[key] = value
	return s.saveLocked()
}

// Delete removes a secret and persists the file. Deleting a missing key
// is a no-op.
func (s *SecretStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.unlocked {
		return fmt.Errorf("secret store is locked")
	}
	if _, ok := s.secrets[key]; !ok {
		return nil
	}
	delete(s.secrets, key)
	return s.saveLocked()
}

// Keys returns the stored secret names, sorted. Values are never listed.
func (s *SecretStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.secrets))
	for key := range s.secrets {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (s *SecretStore) saveLocked() error {
	copied := make(map[string]string, len(s.secrets))
	for k, v := range s.secrets {
		copied[k] = v
	}
	return s.encryptFile(string(s.password), copied)
}

// encryptFile writes [salt][nonce][ciphertext+tag] with 0600 permissions.
func (s *SecretStore) encryptFile(password string, secrets map[string]string) error {
	passwordBytes := []byte(password)
	defer func() {
		for i := range passwordBytes {
			passwordBytes[i] = 0
		}
	}()

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	key, err := scrypt.Key(passwordBytes, salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return fmt.Errorf("failed to derive encryption key: %w", err)
	}
	defer func() {
		for i := range key {
			key[i] = 0
		}
	}()

	plaintext, err := json.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("failed to marshal secrets: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	fileData := make([]byte, 0, saltSize+nonceSize+len(ciphertext))
	fileData = append(fileData, salt...)
	fileData = append(fileData, nonce...)
	fileData = append(fileData, ciphertext...)

	dir := filepath.Join(s.dir, secretsDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", secretsDirName, err)
	}
	if err := os.WriteFile(s.filePath(), fileData, 0600); err != nil {
		return fmt.Errorf("failed to write secrets file: %w", err)
	}

	return nil
}

func (s *SecretStore) decryptFile(password string) (map[string]string, error) {
	path := s.filePath()

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat secrets file: %w", err)
	}
	if info.Mode().Perm() != 0600 {
		logx.Warnf("⚠️  secrets file has permissions %04o, fixing to 0600", info.Mode().Perm())
		if chmodErr := os.Chmod(path, 0600); chmodErr != nil {
			return nil, fmt.Errorf("failed to fix secrets file permissions: %w", chmodErr)
		}
	}

	fileData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secrets file: %w", err)
	}
	if len(fileData) < saltSize+nonceSize+gcmTagSize {
		return nil, fmt.Errorf("secrets file is corrupted or invalid format (too small)")
	}

	salt := fileData[:saltSize]
	nonce := fileData[saltSize : saltSize+nonceSize]
	ciphertext := fileData[saltSize+nonceSize:]

	passwordBytes := []byte(password)
	defer func() {
		for i := range passwordBytes {
			passwordBytes[i] = 0
		}
	}()

	key, err := scrypt.Key(passwordBytes, salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to derive decryption key: %w", err)
	}
	defer func() {
		for i := range key {
			key[i] = 0
		}
	}()

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed (wrong password or corrupted file)")
	}

	var secrets map[string]string
	if err := json.Unmarshal(plaintext, &secrets); err != nil {
		return nil, fmt.Errorf("failed to parse secrets: %w", err)
	}

	return secrets, nil
}
