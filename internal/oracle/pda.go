package oracle

import (
	"crypto/sha256"
	"errors"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Well-known Solana program ids used to derive an associated token account
// address locally, without an RPC round trip.
const (
	tokenProgramID           = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	associatedTokenProgramID = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
)

var errNoValidBump = errors.New("oracle: no valid PDA bump seed found")

// deriveAssociatedTokenAccount computes the associated token account address
// for a wallet + mint pair using the standard seeds
// [wallet, token_program_id, mint].
func deriveAssociatedTokenAccount(wallet, mint string) (string, error) {
	walletBytes, err := base58.Decode(wallet)
	if err != nil {
		return "", err
	}
	mintBytes, err := base58.Decode(mint)
	if err != nil {
		return "", err
	}
	tokenProgBytes, err := base58.Decode(tokenProgramID)
	if err != nil {
		return "", err
	}
	ataProgBytes, err := base58.Decode(associatedTokenProgramID)
	if err != nil {
		return "", err
	}

	seeds := [][]byte{walletBytes, tokenProgBytes, mintBytes}
	pda, ok := derivePDA(seeds, ataProgBytes)
	if !ok {
		return "", errNoValidBump
	}
	return pda, nil
}

// derivePDA derives a Program Derived Address, walking the bump seed down
// from 255 until the resulting hash lands off the ed25519 curve.
func derivePDA(seeds [][]byte, programID []byte) (string, bool) {
	for bump := byte(255); bump > 0; bump-- {
		data := make([]byte, 0, 64)
		for _, seed := range seeds {
			data = append(data, seed...)
		}
		data = append(data, bump)
		data = append(data, programID...)
		data = append(data, []byte("ProgramDerivedAddress")...)

		hash := sha256.Sum256(data)
		if !isOnCurve(hash[:]) {
			return base58.Encode(hash[:]), true
		}
	}
	return "", false
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
