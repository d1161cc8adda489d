package seeding

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	sealedAlg     = "AES-GCM"
	kdfPrefix     = "PBKDF2-HMAC-SHA256/"
	defaultRounds = 150_000
	keyLen        = 32
)

var ErrUnseal = errors.New("cannot unseal pack")

// Envelope is the on-disk form of a sealed pack.
type Envelope struct {
	Alg      string `json:"alg"`
	PBKDF2   string `json:"pbkdf2"`
	SaltB64  string `json:"salt_b64"`
	NonceB64 string `json:"nonce_b64"`
	CTB64    string `json:"ct_b64"`
}

// IsSealed reports whether data looks like a sealed envelope.
func IsSealed(data []byte) bool {
	var env Envelope
	if json.Unmarshal(data, &env) != nil {
		return false
	}
	return env.CTB64 != "" && env.SaltB64 != ""
}

// Unseal decrypts a sealed envelope with password and returns the plaintext pack.
func Unseal(data []byte, password string) ([]byte, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnseal, err)
	}
	if env.Alg != "" && env.Alg != sealedAlg {
		return nil, fmt.Errorf("%w: unsupported alg %q", ErrUnseal, env.Alg)
	}
	rounds, err := kdfRounds(env.PBKDF2)
	if err != nil {
		return nil, err
	}
	salt, err := base64.StdEncoding.DecodeString(env.SaltB64)
	if err != nil {
		return nil, fmt.Errorf("%w: salt: %v", ErrUnseal, err)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.NonceB64)
	if err != nil {
		return nil, fmt.Errorf("%w: nonce: %v", ErrUnseal, err)
	}
	ct, err := base64.StdEncoding.DecodeString(env.CTB64)
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext: %v", ErrUnseal, err)
	}

	key := pbkdf2.Key([]byte(password), salt, rounds, keyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnseal, err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, len(nonce))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnseal, err)
	}
	plain, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: wrong password or corrupted pack", ErrUnseal)
	}
	return plain, nil
}

// Seal is the inverse of Unseal. It exists for fixtures and local tooling.
func Seal(plain []byte, password string, salt, nonce []byte, rounds int) ([]byte, error) {
	key := pbkdf2.Key([]byte(password), salt, rounds, keyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, len(nonce))
	if err != nil {
		return nil, err
	}
	env := Envelope{
		Alg:      sealedAlg,
		PBKDF2:   kdfPrefix + strconv.Itoa(rounds),
		SaltB64:  base64.StdEncoding.EncodeToString(salt),
		NonceB64: base64.StdEncoding.EncodeToString(nonce),
		CTB64:    base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, plain, nil)),
	}
	return json.MarshalIndent(env, "", "  ")
}

func kdfRounds(param string) (int, error) {
	if param == "" {
		return defaultRounds, nil
	}
	if !strings.HasPrefix(param, kdfPrefix) {
		return 0, fmt.Errorf("%w: unsupported kdf %q", ErrUnseal, param)
	}
	n, err := strconv.Atoi(strings.TrimPrefix(param, kdfPrefix))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: bad kdf rounds in %q", ErrUnseal, param)
	}
	return n, nil
}

// LoadPack parses data as a plaintext pack, unsealing it first when it is an envelope.
func LoadPack(data []byte, password string) (*Pack, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if IsSealed(data) {
		plain, err := Unseal(data, password)
		if err != nil {
			return nil, err
		}
		data = plain
	}
	return ParsePack(data)
}
