package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/groupmarket/internal/domain"
)

// Signer produces EIP-191 personal-message signatures over marketplace
// command payloads.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the Ethereum address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignMessage signs payload with the "\x19Ethereum Signed Message:\n" prefix
// and returns the hex-encoded 65-byte signature (r || s || v, v in {27,28}).
func (s *Signer) SignMessage(payload []byte) (string, error) {
	sig, err := ethcrypto.Sign(accounts.TextHash(payload), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverAddress returns the address that produced sigHex over payload.
// Both v encodings ({0,1} and {27,28}) are accepted.
func RecoverAddress(payload []byte, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil || len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto/signer: malformed signature: %w", domain.ErrBadSignature)
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return common.Address{}, fmt.Errorf("crypto/signer: invalid recovery id: %w", domain.ErrBadSignature)
	}

	pub, err := ethcrypto.SigToPub(accounts.TextHash(payload), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %v: %w", err, domain.ErrBadSignature)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}
