package pusher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
)

const ivSize = aes.BlockSize

// deriveSecret derives the per-channel symmetric key: HMAC-SHA256 over
// the channel name keyed by the app secret. The 32-byte output doubles as
// the AES-256 key, and the derivation is deterministic so re-subscription
// never needs renegotiation.
func deriveSecret(appSecret, channelName string) []byte {
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write([]byte(channelName))
	return mac.Sum(nil)
}

// encryptPayload encrypts plaintext under AES-256-CBC with PKCS7 padding
// and a freshly drawn 16-byte IV, returning base64(IV || ciphertext).
// The IV is drawn here rather than accepted from the caller so reuse is
// impossible.
func encryptPayload(plaintext string, secret []byte) (string, error) {
	block, err := aes.NewCipher(secret)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("encrypt: draw iv: %w", err)
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, ivSize+len(padded))
	copy(out, iv)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[ivSize:], padded)

	return base64.StdEncoding.EncodeToString(out), nil
}

// decryptPayload reverses encryptPayload. Corruption is only detectable
// as a length or padding failure; CBC carries no integrity tag.
func decryptPayload(ciphertext string, secret []byte) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	if len(raw) < ivSize || (len(raw)-ivSize)%aes.BlockSize != 0 || len(raw) == ivSize {
		return "", fmt.Errorf("%w: malformed ciphertext", ErrDecryption)
	}

	block, err := aes.NewCipher(secret)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	iv, body := raw[:ivSize], raw[ivSize:]
	plain := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, body)

	unpadded, err := pkcs7Unpad(plain, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(unpadded), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	pad := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+pad)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(pad)
	}
	return out
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("%w: bad padding", ErrDecryption)
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > blockSize || pad > len(data) {
		return nil, fmt.Errorf("%w: bad padding", ErrDecryption)
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, fmt.Errorf("%w: bad padding", ErrDecryption)
		}
	}
	return data[:len(data)-pad], nil
}
