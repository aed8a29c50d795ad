// Package crypto implements the payload codec (AES-128-CBC with PKCS#7
// padding) and the HTTP key exchange that provides its key and IV.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"

	"github.com/linchenxuan/strixlink/network/transport"
)

// KEY_SIZE is the AES-128 key length, and also the IV length.
const KEY_SIZE = 16

var (
	errBadPadding  = errors.New("invalid PKCS#7 padding")
	errNotBlockLen = errors.New("ciphertext is not a multiple of the block size")
)

// Codec encrypts and decrypts frame bodies with one session key and IV. It
// holds no per-call state and is safe for concurrent use.
type Codec struct {
	block cipher.Block
	iv    [KEY_SIZE]byte
}

// NewCodec validates key and iv and builds a codec.
func NewCodec(key, iv []byte) (*Codec, error) {
	if len(key) != KEY_SIZE {
		return nil, transport.CodecError(transport.CodeBadKey, "init", fmt.Errorf("key must be %d bytes, got %d", KEY_SIZE, len(key)))
	}
	if len(iv) != KEY_SIZE {
		return nil, transport.CodecError(transport.CodeBadKey, "init", fmt.Errorf("iv must be %d bytes, got %d", KEY_SIZE, len(iv)))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, transport.CodecError(transport.CodeBadKey, "init", err)
	}
	c := &Codec{block: block}
	copy(c.iv[:], iv)
	return c, nil
}

// Encrypt pads plain to a whole number of blocks and encrypts it. The result
// is always longer than plain.
func (c *Codec) Encrypt(plain []byte) []byte {
	padded := pad(plain, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(c.block, c.iv[:]).CryptBlocks(out, padded)
	return out
}

// Decrypt reverses Encrypt.
func (c *Codec) Decrypt(data []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, transport.CodecError(transport.CodeCorrupt, "decrypt", errNotBlockLen)
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(c.block, c.iv[:]).CryptBlocks(out, data)
	plain, err := unpad(out, aes.BlockSize)
	if err != nil {
		return nil, transport.CodecError(transport.CodeCorrupt, "decrypt", err)
	}
	return plain, nil
}

func pad(b []byte, size int) []byte {
	n := size - len(b)%size
	out := make([]byte, len(b), len(b)+n)
	copy(out, b)
	return append(out, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 {
		return nil, errBadPadding
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, errBadPadding
	}
	for _, v := range b[len(b)-n:] {
		if int(v) != n {
			return nil, errBadPadding
		}
	}
	return b[:len(b)-n], nil
}
