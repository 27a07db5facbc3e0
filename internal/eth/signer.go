package eth

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/clearsync/pkg/signer"
)

// Signer signs hashes with the service key.
type Signer interface {
	Address() common.Address
	// SignHash returns a 65 byte personal-message signature with a 27/28 recovery id.
	// The result must be deterministic for a given hash.
	SignHash(hash common.Hash) ([]byte, error)
}

// KeySigner is a Signer backed by an in-memory secp256k1 key.
// It is also a clearsync signer, so it can sign user operations.
type KeySigner struct {
	signer.LocalSigner
}

var _ signer.Signer = (*KeySigner)(nil)

// NewKeySigner creates a signer for key.
func NewKeySigner(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{LocalSigner: signer.NewLocalSigner(key)}
}

// NewKeySignerFromHex parses a hex encoded private key, with or without 0x prefix.
func NewKeySignerFromHex(hexKey string) (*KeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return NewKeySigner(key), nil
}

func (s *KeySigner) Address() common.Address {
	return s.CommonAddress()
}

// SignHash signs the EIP-191 digest of hash. secp256k1 signing here uses
// RFC 6979 nonces, so re-signing the same hash reproduces the same bytes.
func (s *KeySigner) SignHash(hash common.Hash) ([]byte, error) {
	sig, err := signer.SignEthMessage(s.LocalSigner, hash.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to sign hash: %w", err)
	}
	return sig.Raw(), nil
}

// CallDigest is the hash a relay authenticates a submitted call by:
// keccak256(uint256 chainID ++ target ++ onBehalfOf ++ data).
func CallDigest(chainID int64, target, onBehalfOf common.Address, data []byte) common.Hash {
	return crypto.Keccak256Hash(
		common.LeftPadBytes(big.NewInt(chainID).Bytes(), 32),
		target.Bytes(),
		onBehalfOf.Bytes(),
		data,
	)
}
