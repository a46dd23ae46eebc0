package colstore

import (
	"context"
	"io"
)

// SourceResolver turns a [SourceDescriptor] into a readable byte source.
// Implementations must not buffer the whole payload.
type SourceResolver interface {
	Resolve(ctx context.Context, src SourceDescriptor) (io.ReadCloser, error)
}

// SecretCipher encrypts and decrypts opaque secret strings
type SecretCipher interface {
	Encrypt(plain string) (string, error)
	Decrypt(cipherText string) (string, error)
}
