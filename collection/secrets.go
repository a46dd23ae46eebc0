package collection

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/brettbedarf/colstore"
)

// AESCipher is a [colstore.SecretCipher] using AES-GCM with a random nonce
// prefixed to every sealed value
type AESCipher struct {
	aead cipher.AEAD
}

// NewAESCipher creates a cipher from a 16, 24 or 32 byte key
func NewAESCipher(key []byte) (*AESCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AESCipher{aead: aead}, nil
}

func (c *AESCipher) Encrypt(plain string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *AESCipher) Decrypt(cipherText string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(cipherText)
	if err != nil {
		return "", err
	}
	ns := c.aead.NonceSize()
	if len(raw) < ns {
		return "", errors.New("sealed value too short")
	}
	plain, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

var _ colstore.SecretCipher = (*AESCipher)(nil)

// readSecrets loads the variable name to ciphertext map; a missing file is empty
func readSecrets(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	sealed := map[string]string{}
	if err := json.Unmarshal(data, &sealed); err != nil {
		return nil, &SchemaError{Path: path, Reason: "secrets file is not a string map", Err: err}
	}
	return sealed, nil
}

// revealSecrets decrypts the stored value of every secret variable in vars
func revealSecrets(vars map[string]colstore.Variable, sealed map[string]string, c colstore.SecretCipher) error {
	var errs []error
	for name, v := range vars {
		if !v.Secret {
			continue
		}
		ct, ok := sealed[name]
		if !ok {
			continue
		}
		plain, err := c.Decrypt(ct)
		if err != nil {
			errs = append(errs, fmt.Errorf("secret %q: %w", name, err))
			continue
		}
		v.Value = plain
		vars[name] = v
	}
	return errors.Join(errs...)
}

// sealSecrets returns the ciphertext map for every secret variable in vars
func sealSecrets(vars map[string]colstore.Variable, c colstore.SecretCipher) (map[string]string, error) {
	sealed := map[string]string{}
	for name, v := range vars {
		if !v.Secret {
			continue
		}
		ct, err := c.Encrypt(v.Value)
		if err != nil {
			return nil, fmt.Errorf("secret %q: %w", name, err)
		}
		sealed[name] = ct
	}
	return sealed, nil
}

// redactSecrets returns a copy of vars with secret values blanked for the info file
func redactSecrets(vars map[string]colstore.Variable) map[string]colstore.Variable {
	if vars == nil {
		return nil
	}
	out := make(map[string]colstore.Variable, len(vars))
	for name, v := range vars {
		if v.Secret {
			v.Value = ""
		}
		out[name] = v
	}
	return out
}

func encodeSecrets(sealed map[string]string) ([]byte, error) {
	return json.Marshal(sealed)
}
