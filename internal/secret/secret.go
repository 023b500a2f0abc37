// Package secret implements the AES-256-CBC secret-file layer: a JSON key
// file the proxy uses to decrypt backend passwords stored in the
// configuration, with file-watch-triggered reload so a rotated key file
// takes effect without a restart.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	cryptorand "crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

const (
	cipherName  = "EVP_aes_256_cbc"
	keyLenBytes = 32 // AES-256
	ivLenBytes  = aes.BlockSize
)

// ErrWrongCipher is returned when the secret file names a cipher other than
// EVP_aes_256_cbc; the original implementation discards the key as invalid
// in this case rather than guessing at a different AES mode.
var ErrWrongCipher = errors.New("secret: encryption_cipher is not EVP_aes_256_cbc")

// file is the on-disk JSON layout of the key file.
type file struct {
	Description      string `json:"description"`
	MaxscaleVersion  string `json:"maxscale_version"`
	EncryptionCipher string `json:"encryption_cipher"`
	EncryptionKey    string `json:"encryption_key"`
}

// Keyring holds the decryption key loaded from a secret file and decrypts
// passwords encoded as hex(IV || ciphertext). A zero-value Keyring has no
// key loaded and DecryptPassword returns its input unchanged, matching the
// original's "encryption not in use" fallback.
type Keyring struct {
	mu  sync.RWMutex
	key []byte
}

// Load reads and validates the secret file at path. A missing file is not
// an error: it returns an empty Keyring, mirroring secrets_readkeys's
// "file does not exist, return empty result" branch.
func Load(path string) (*Keyring, error) {
	k := &Keyring{}
	if err := k.reload(path); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return k, nil
}

func (k *Keyring) reload(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			k.setKey(nil)
			return err
		}
		return fmt.Errorf("secret: stat %s: %w", path, err)
	}
	if mode := info.Mode().Perm(); mode != 0o400 {
		return fmt.Errorf("secret: %s has permissions %#o, want owner-read-only (0400)", path, mode)
	}

	body, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("secret: read %s: %w", path, err)
	}
	var f file
	if err := json.Unmarshal(body, &f); err != nil {
		return fmt.Errorf("secret: parse %s: %w", path, err)
	}
	if f.EncryptionCipher != cipherName {
		return ErrWrongCipher
	}
	key, err := hex.DecodeString(f.EncryptionKey)
	if err != nil {
		return fmt.Errorf("secret: encryption_key is not valid hex: %w", err)
	}
	if len(key) != keyLenBytes {
		return fmt.Errorf("secret: encryption_key is %d bytes, want %d", len(key), keyLenBytes)
	}

	k.setKey(key)
	return nil
}

func (k *Keyring) setKey(key []byte) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.key = key
}

func (k *Keyring) currentKey() []byte {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.key
}

// DecryptPassword decrypts input, the hex concatenation of a 16-byte IV and
// AES-256-CBC ciphertext. If no key is loaded, or input is not a hex
// string, it is returned unchanged: password encryption is then simply not
// in use, per decrypt_password's fallback.
func (k *Keyring) DecryptPassword(input string) (string, error) {
	key := k.currentKey()
	if len(key) == 0 {
		return input, nil
	}
	if !isHex(input) {
		return input, nil
	}

	raw, err := hex.DecodeString(input)
	if err != nil {
		return input, nil
	}
	if len(raw) < ivLenBytes {
		return "", fmt.Errorf("secret: ciphertext shorter than IV")
	}
	iv, ciphertext := raw[:ivLenBytes], raw[ivLenBytes:]
	if len(ciphertext)%aes.BlockSize != 0 {
		return "", fmt.Errorf("secret: ciphertext is not a multiple of the block size")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)
	plaintext = pkcs7Unpad(plaintext)
	return string(plaintext), nil
}

// EncryptPassword encrypts plaintext with a freshly generated IV, producing
// the hex(IV || ciphertext) layout DecryptPassword reverses. Used by the
// operator-facing key-management tooling, not by the proxy at runtime.
func (k *Keyring) EncryptPassword(plaintext string) (string, error) {
	key := k.currentKey()
	if len(key) == 0 {
		return "", fmt.Errorf("secret: no key loaded")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	iv := make([]byte, ivLenBytes)
	if _, err := cryptorand.Read(iv); err != nil {
		return "", err
	}
	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	out := make([]byte, 0, ivLenBytes*2+len(ciphertext)*2)
	out = append(out, []byte(hex.EncodeToString(iv))...)
	out = append(out, []byte(hex.EncodeToString(ciphertext))...)
	return string(out), nil
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool {
		return !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F'))
	}) == -1
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	padLen := blockSize - len(b)%blockSize
	padding := make([]byte, padLen)
	for i := range padding {
		padding[i] = byte(padLen)
	}
	return append(b, padding...)
}

func pkcs7Unpad(b []byte) []byte {
	if len(b) == 0 {
		return b
	}
	padLen := int(b[len(b)-1])
	if padLen <= 0 || padLen > len(b) {
		return b
	}
	return b[:len(b)-padLen]
}

// Watch starts an fsnotify watcher on path and calls k.reload whenever the
// file is rewritten, logging but not returning reload failures so a
// momentarily-invalid intermediate write (e.g. during an atomic rotation)
// never tears down the watcher goroutine.
func (k *Keyring) Watch(path string, log *logrus.Entry) (io.Closer, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := dirOf(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != path {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					if err := k.reload(path); err != nil {
						log.WithError(err).Warn("secret file reload failed, keeping previous key")
					} else {
						log.Info("secret file reloaded")
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("secret file watcher error")
			}
		}
	}()

	return watcher, nil
}

func dirOf(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return "."
	}
	return path[:idx]
}
