// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
)

const (
	// Argon2id parameters for deriving the file encryption key.
	argon2Time        = 3
	argon2Memory      = 64 * 1024 // KiB
	argon2Parallelism = 4
	argon2KeyLength   = 32 // AES-256

	gcmNonceSize = 12

	// masterKeyEnv names the environment variable the file provider
	// reads its master key from when none is passed explicitly.
	masterKeyEnv = "CONDUIT_MASTER_KEY"
)

// FileProvider resolves file:path#key references against encrypted
// secrets files. A secrets file is a JSON object of name/value pairs
// sealed with AES-256-GCM under a key derived from the master key with
// Argon2id; the fragment after the last '#' selects the entry.
type FileProvider struct {
	masterKey []byte
	available bool

	// mu serializes Store's read-modify-write of a secrets file.
	mu sync.Mutex
}

// sealedFile is the on-disk layout of an encrypted secrets file.
type sealedFile struct {
	Salt  []byte `json:"salt"`
	Nonce []byte `json:"nonce"`
	Data  []byte `json:"data"`
}

// NewFileProvider creates a file provider. When masterKey is empty the
// key is taken from CONDUIT_MASTER_KEY, then from
// ~/.config/conduit/master.key. Without a key the provider reports
// itself unavailable rather than failing construction.
func NewFileProvider(masterKey string) *FileProvider {
	key, err := resolveMasterKey(masterKey)
	if err != nil {
		return &FileProvider{}
	}
	return &FileProvider{masterKey: key, available: true}
}

// Scheme returns "file".
func (f *FileProvider) Scheme() string {
	return "file"
}

// Available reports whether a master key was found.
func (f *FileProvider) Available() bool {
	return f.available
}

// Resolve loads the encrypted file at the path before the last '#' and
// returns the entry named after it, e.g.
// file:/etc/conduit/secrets.enc#dbPassword.
func (f *FileProvider) Resolve(ctx context.Context, ref string) (string, error) {
	if !f.available {
		return "", fmt.Errorf("%w: master key not configured (set %s)", ErrProviderUnavailable, masterKeyEnv)
	}

	path, key, err := splitFileRef(ref)
	if err != nil {
		return "", err
	}

	entries, err := f.load(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: secrets file %s does not exist", ErrSecretNotFound, path)
		}
		return "", err
	}

	value, ok := entries[key]
	if !ok {
		return "", fmt.Errorf("%w: no entry %q in %s", ErrSecretNotFound, key, path)
	}
	return value, nil
}

// Store writes or replaces one entry in the encrypted file at path,
// creating the file when missing. Intended for provisioning tooling.
func (f *FileProvider) Store(path, key, value string) error {
	if !f.available {
		return fmt.Errorf("%w: master key not configured (set %s)", ErrProviderUnavailable, masterKeyEnv)
	}
	if key == "" {
		return errors.New("secret entry name must not be empty")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.load(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		entries = make(map[string]string)
	}
	entries[key] = value

	return f.save(path, entries)
}

// load reads and decrypts a secrets file.
func (f *FileProvider) load(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var sealed sealedFile
	if err := json.Unmarshal(raw, &sealed); err != nil {
		return nil, fmt.Errorf("secrets file %s has invalid format: %w", path, err)
	}

	key := argon2.IDKey(f.masterKey, sealed.Salt, argon2Time, argon2Memory, argon2Parallelism, argon2KeyLength)
	defer zeroBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, sealed.Nonce, sealed.Data, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt %s: wrong master key or corrupted data", path)
	}
	defer zeroBytes(plaintext)

	var entries map[string]string
	if err := json.Unmarshal(plaintext, &entries); err != nil {
		return nil, fmt.Errorf("secrets file %s has invalid payload: %w", path, err)
	}
	return entries, nil
}

// save encrypts and atomically writes a secrets file with 0600
// permissions.
func (f *FileProvider) save(path string, entries map[string]string) error {
	plaintext, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal secrets: %w", err)
	}
	defer zeroBytes(plaintext)

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}

	key := argon2.IDKey(f.masterKey, salt, argon2Time, argon2Memory, argon2Parallelism, argon2KeyLength)
	defer zeroBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("create GCM: %w", err)
	}

	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	sealed := sealedFile{
		Salt:  salt,
		Nonce: nonce,
		Data:  gcm.Seal(nil, nonce, plaintext, nil),
	}
	raw, err := json.Marshal(sealed)
	if err != nil {
		return fmt.Errorf("marshal sealed file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create secrets directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0600); err != nil {
		return fmt.Errorf("write secrets file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename secrets file: %w", err)
	}
	return nil
}

// splitFileRef splits "path#key" on the last '#'.
func splitFileRef(ref string) (path, key string, err error) {
	idx := strings.LastIndexByte(ref, '#')
	if idx <= 0 || idx == len(ref)-1 {
		return "", "", fmt.Errorf("file reference must be path#key, got %q", ref)
	}
	return ref[:idx], ref[idx+1:], nil
}

// resolveMasterKey picks the master key from the explicit value, the
// environment, then the user key file.
func resolveMasterKey(provided string) ([]byte, error) {
	if provided != "" {
		return []byte(provided), nil
	}
	if envKey := os.Getenv(masterKeyEnv); envKey != "" {
		return []byte(envKey), nil
	}

	configDir, err := os.UserConfigDir()
	if err == nil {
		keyPath := filepath.Join(configDir, "conduit", "master.key")
		if key, err := os.ReadFile(keyPath); err == nil {
			if err := verifyKeyFilePermissions(keyPath); err == nil {
				return key, nil
			}
		}
	}

	return nil, fmt.Errorf("master key not available (set %s or create a master.key file)", masterKeyEnv)
}

// verifyKeyFilePermissions rejects key files readable by group or world.
func verifyKeyFilePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		return fmt.Errorf("key file permissions too open (got %o, want 0600)", perm)
	}
	return nil
}

// zeroBytes scrubs key material after use.
func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
