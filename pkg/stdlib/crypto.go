package stdlib

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"io"

	"github.com/pkg/errors"

	"github.com/kristofer/policyvm/pkg/value"
	"github.com/kristofer/policyvm/pkg/vm"
)

// registerCryptoNatives installs hash and base64 globals, grounded on
// the teacher's host-method inventory for the same concerns.
func registerCryptoNatives(machine *vm.VM) {
	machine.RegisterGlobal("sha256", native("sha256", 1, func(args []value.Value) (value.Value, error) {
		s, err := wantString(args, 0, "sha256")
		if err != nil {
			return nil, err
		}
		sum := sha256.Sum256([]byte(s))
		return value.String(hex.EncodeToString(sum[:])), nil
	}))

	machine.RegisterGlobal("sha512", native("sha512", 1, func(args []value.Value) (value.Value, error) {
		s, err := wantString(args, 0, "sha512")
		if err != nil {
			return nil, err
		}
		sum := sha512.Sum512([]byte(s))
		return value.String(hex.EncodeToString(sum[:])), nil
	}))

	machine.RegisterGlobal("md5", native("md5", 1, func(args []value.Value) (value.Value, error) {
		s, err := wantString(args, 0, "md5")
		if err != nil {
			return nil, err
		}
		sum := md5.Sum([]byte(s))
		return value.String(hex.EncodeToString(sum[:])), nil
	}))

	machine.RegisterGlobal("base64_encode", native("base64_encode", 1, func(args []value.Value) (value.Value, error) {
		s, err := wantString(args, 0, "base64_encode")
		if err != nil {
			return nil, err
		}
		return value.String(base64.StdEncoding.EncodeToString([]byte(s))), nil
	}))

	machine.RegisterGlobal("base64_decode", native("base64_decode", 1, func(args []value.Value) (value.Value, error) {
		s, err := wantString(args, 0, "base64_decode")
		if err != nil {
			return nil, err
		}
		decoded, decErr := base64.StdEncoding.DecodeString(s)
		if decErr != nil {
			return value.Nil{}, nil // soft failure: malformed input degrades to Nil
		}
		return value.String(decoded), nil
	}))

	machine.RegisterGlobal("aes_generate_key", native("aes_generate_key", 0, func(args []value.Value) (value.Value, error) {
		key := make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, key); err != nil {
			return nil, errors.Wrap(err, "aes_generate_key")
		}
		return value.String(key), nil
	}))

	machine.RegisterGlobal("aes_encrypt", native("aes_encrypt", 2, func(args []value.Value) (value.Value, error) {
		data, err := wantString(args, 0, "aes_encrypt")
		if err != nil {
			return nil, err
		}
		key, err := wantString(args, 1, "aes_encrypt")
		if err != nil {
			return nil, err
		}
		if len(key) != 32 {
			return nil, errors.Errorf("aes_encrypt: key must be 32 bytes, got %d", len(key))
		}
		block, cipherErr := aes.NewCipher([]byte(key))
		if cipherErr != nil {
			return nil, errors.Wrap(cipherErr, "aes_encrypt")
		}
		iv := make([]byte, aes.BlockSize)
		if _, err := io.ReadFull(rand.Reader, iv); err != nil {
			return nil, errors.Wrap(err, "aes_encrypt")
		}
		plaintext := []byte(data)
		padding := aes.BlockSize - (len(plaintext) % aes.BlockSize)
		padded := make([]byte, len(plaintext)+padding)
		copy(padded, plaintext)
		for i := len(plaintext); i < len(padded); i++ {
			padded[i] = byte(padding)
		}
		ciphertext := make([]byte, len(padded))
		cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
		return value.String(base64.StdEncoding.EncodeToString(append(iv, ciphertext...))), nil
	}))

	machine.RegisterGlobal("aes_decrypt", native("aes_decrypt", 2, func(args []value.Value) (value.Value, error) {
		data, err := wantString(args, 0, "aes_decrypt")
		if err != nil {
			return nil, err
		}
		key, err := wantString(args, 1, "aes_decrypt")
		if err != nil {
			return nil, err
		}
		if len(key) != 32 {
			return nil, errors.Errorf("aes_decrypt: key must be 32 bytes, got %d", len(key))
		}
		encrypted, decErr := base64.StdEncoding.DecodeString(data)
		if decErr != nil || len(encrypted) < aes.BlockSize {
			return value.Nil{}, nil // soft failure: malformed ciphertext degrades to Nil
		}
		block, cipherErr := aes.NewCipher([]byte(key))
		if cipherErr != nil {
			return nil, errors.Wrap(cipherErr, "aes_decrypt")
		}
		iv, ciphertext := encrypted[:aes.BlockSize], encrypted[aes.BlockSize:]
		if len(ciphertext)%aes.BlockSize != 0 {
			return value.Nil{}, nil
		}
		plaintext := make([]byte, len(ciphertext))
		cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)
		if len(plaintext) == 0 {
			return value.Nil{}, nil
		}
		padding := int(plaintext[len(plaintext)-1])
		if padding == 0 || padding > len(plaintext) || padding > aes.BlockSize {
			return value.Nil{}, nil // soft failure: invalid padding degrades to Nil
		}
		return value.String(plaintext[:len(plaintext)-padding]), nil
	}))
}
