package ethereum

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ParsePrivateKey accepts a hex key with or without the 0x prefix.
func ParsePrivateKey(privateKeyHex string) (*ecdsa.PrivateKey, common.Address, error) {
	pk, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("parse private key: %w", err)
	}
	return pk, crypto.PubkeyToAddress(pk.PublicKey), nil
}

// IsChecksumAddress reports whether s is a well-formed, EIP-55 checksummed address.
func IsChecksumAddress(s string) bool {
	return common.IsHexAddress(s) && common.HexToAddress(s).Hex() == s
}
