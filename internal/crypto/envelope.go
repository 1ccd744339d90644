package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
)

// ErrMalformedEnvelope is returned for inputs that cannot be a valid
// IV-prefixed AES-CBC envelope.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// EncodeEnvelope encrypts plaintext with AES-256-CBC under key/iv and
// returns the wire envelope: the 16-byte IV followed by the ciphertext
// of the PKCS#7-padded plaintext.
func EncodeEnvelope(plaintext, key, iv []byte) ([]byte, error) {
	if len(key) != 32 {
		return nil, errors.New("key must be 32 bytes")
	}
	if len(iv) != aes.BlockSize {
		return nil, errors.New("iv must be 16 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	envelope := make([]byte, aes.BlockSize+len(padded))
	copy(envelope, iv)
	mode := cipher.NewCBCEncrypter(block, iv)
	mode.CryptBlocks(envelope[aes.BlockSize:], padded)
	return envelope, nil
}

// DecodeEnvelope splits an envelope into its IV and ciphertext without
// decrypting. The server never holds the symmetric key, so structural
// validation is all that happens here.
func DecodeEnvelope(envelope []byte) (iv, ciphertext []byte, err error) {
	if len(envelope) < aes.BlockSize {
		return nil, nil, fmt.Errorf("%w: shorter than iv", ErrMalformedEnvelope)
	}
	iv = envelope[:aes.BlockSize]
	ciphertext = envelope[aes.BlockSize:]
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, nil, fmt.Errorf("%w: ciphertext not a multiple of block size", ErrMalformedEnvelope)
	}
	return iv, ciphertext, nil
}

// DecryptEnvelope reverses EncodeEnvelope given the symmetric key.
// Only devices hold the key in production; this exists for tooling and
// tests.
func DecryptEnvelope(envelope, key []byte) ([]byte, error) {
	iv, ciphertext, err := DecodeEnvelope(envelope)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	plaintext := make([]byte, len(ciphertext))
	mode := cipher.NewCBCDecrypter(block, iv)
	mode.CryptBlocks(plaintext, ciphertext)
	return pkcs7Unpad(plaintext, aes.BlockSize)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padding)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padding)
	}
	return padded
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize {
		return nil, errors.New("invalid padding")
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, errors.New("invalid padding")
		}
	}
	return data[:len(data)-padding], nil
}
