// Package crypto loads the operator key, signs and recovers EIP-191 command
// signatures, and authenticates webhook deliveries.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// OperatorKeyPurpose labels key files that hold the marketplace operator
	// key. Files carrying any other label are refused.
	OperatorKeyPurpose = "groupmarket-operator"

	keyFileVersion = 2
	kdfIterations  = 480_000
	saltLen        = 16
	aesKeyLen      = 32
)

// ErrKeyPurpose is returned when a key file was sealed for something other
// than the operator role.
var ErrKeyPurpose = errors.New("crypto: key file is not an operator key")

// operatorKeyFile is the on-disk form of a sealed operator key. Address is
// stored in the clear so the operator identity can be read without the
// passphrase; it is bound into the ciphertext as associated data together
// with Purpose, so neither can be swapped without failing decryption.
type operatorKeyFile struct {
	Version    int            `json:"version"`
	Purpose    string         `json:"purpose"`
	Address    common.Address `json:"address"`
	Salt       string         `json:"salt"`
	Nonce      string         `json:"nonce"`
	Ciphertext string         `json:"ciphertext"`
}

func (f *operatorKeyFile) aad() []byte {
	return []byte(f.Purpose + ":" + strings.ToLower(f.Address.Hex()))
}

// KeyConfig says where the operator key comes from.
type KeyConfig struct {
	// Address is the operator address when no key material is available to
	// this process. It must match the key when both are set.
	Address string

	// RawPrivateKey is a hex private key, 0x prefix optional.
	RawPrivateKey string

	// EncryptedKeyPath points at a file written by SealOperatorKey.
	EncryptedKeyPath string
	KeyPassword      string
}

func keyAEAD(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(pbkdf2.Key([]byte(passphrase), salt, kdfIterations, aesKeyLen, sha256.New))
	if err != nil {
		return nil, fmt.Errorf("crypto: key cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// SealOperatorKey encrypts an operator private key under passphrase
// (PBKDF2-SHA256, AES-256-GCM) and returns the JSON key file.
func SealOperatorKey(privateKeyHex, passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, errors.New("crypto: passphrase must not be empty")
	}
	signer, err := NewSigner(privateKeyHex)
	if err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: private key hex: %w", err)
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	aead, err := keyAEAD(passphrase, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}

	f := operatorKeyFile{
		Version: keyFileVersion,
		Purpose: OperatorKeyPurpose,
		Address: signer.Address(),
		Salt:    base64.StdEncoding.EncodeToString(salt),
		Nonce:   base64.StdEncoding.EncodeToString(nonce),
	}
	f.Ciphertext = base64.StdEncoding.EncodeToString(aead.Seal(nil, nonce, raw, f.aad()))
	return json.MarshalIndent(f, "", "  ")
}

// readKeyFile parses a key file and checks its version and purpose label.
func readKeyFile(blob []byte) (*operatorKeyFile, error) {
	var f operatorKeyFile
	if err := json.Unmarshal(blob, &f); err != nil {
		return nil, fmt.Errorf("crypto: key file: %w", err)
	}
	if f.Version != keyFileVersion {
		return nil, fmt.Errorf("crypto: key file version %d", f.Version)
	}
	if f.Purpose != OperatorKeyPurpose {
		return nil, fmt.Errorf("%w (purpose %q)", ErrKeyPurpose, f.Purpose)
	}
	return &f, nil
}

// OpenOperatorKey decrypts a key file written by SealOperatorKey and returns
// the private key as hex without prefix. The decrypted key must derive the
// address recorded in the file.
func OpenOperatorKey(blob []byte, passphrase string) (string, error) {
	if passphrase == "" {
		return "", errors.New("crypto: passphrase must not be empty")
	}
	f, err := readKeyFile(blob)
	if err != nil {
		return "", err
	}
	var salt, nonce, sealed []byte
	for _, p := range []struct {
		dst *[]byte
		src string
	}{{&salt, f.Salt}, {&nonce, f.Nonce}, {&sealed, f.Ciphertext}} {
		if *p.dst, err = base64.StdEncoding.DecodeString(p.src); err != nil {
			return "", fmt.Errorf("crypto: key file encoding: %w", err)
		}
	}
	aead, err := keyAEAD(passphrase, salt)
	if err != nil {
		return "", err
	}
	if len(nonce) != aead.NonceSize() {
		return "", fmt.Errorf("crypto: key file nonce is %d bytes", len(nonce))
	}
	raw, err := aead.Open(nil, nonce, sealed, f.aad())
	if err != nil {
		return "", fmt.Errorf("crypto: open operator key (wrong passphrase?): %w", err)
	}
	key := hex.EncodeToString(raw)
	signer, err := NewSigner(key)
	if err != nil {
		return "", err
	}
	if signer.Address() != f.Address {
		return "", fmt.Errorf("crypto: key file address %s does not match its key", f.Address.Hex())
	}
	return key, nil
}

// KeyFileAddress reads the operator address recorded in a key file without
// decrypting it.
func KeyFileAddress(blob []byte) (common.Address, error) {
	f, err := readKeyFile(blob)
	if err != nil {
		return common.Address{}, err
	}
	return f.Address, nil
}

// LoadKey resolves the operator private key. A raw key wins over a key
// file.
func LoadKey(cfg KeyConfig) (string, error) {
	switch {
	case cfg.RawPrivateKey != "":
		k := strings.TrimPrefix(cfg.RawPrivateKey, "0x")
		if _, err := hex.DecodeString(k); err != nil {
			return "", fmt.Errorf("crypto: raw private key is not hex: %w", err)
		}
		return k, nil
	case cfg.EncryptedKeyPath != "":
		blob, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return "", fmt.Errorf("crypto: read key file: %w", err)
		}
		return OpenOperatorKey(blob, cfg.KeyPassword)
	}
	return "", errors.New("crypto: no operator key configured")
}

// OperatorAddress resolves the operator address. With a key file and no
// passphrase the address recorded in the file is used, so read-only
// processes can identify the operator without holding the secret.
func OperatorAddress(cfg KeyConfig) (common.Address, error) {
	var addr common.Address
	switch {
	case cfg.RawPrivateKey != "" || (cfg.EncryptedKeyPath != "" && cfg.KeyPassword != ""):
		key, err := LoadKey(cfg)
		if err != nil {
			return common.Address{}, err
		}
		signer, err := NewSigner(key)
		if err != nil {
			return common.Address{}, err
		}
		addr = signer.Address()
	case cfg.EncryptedKeyPath != "":
		blob, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return common.Address{}, fmt.Errorf("crypto: read key file: %w", err)
		}
		if addr, err = KeyFileAddress(blob); err != nil {
			return common.Address{}, err
		}
	default:
		if !common.IsHexAddress(cfg.Address) {
			return common.Address{}, errors.New("crypto: no operator key or address configured")
		}
		return common.HexToAddress(cfg.Address), nil
	}
	if cfg.Address != "" && common.HexToAddress(cfg.Address) != addr {
		return common.Address{}, fmt.Errorf("crypto: configured address %s does not match key address %s", cfg.Address, addr.Hex())
	}
	return addr, nil
}
