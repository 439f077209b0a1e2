package broadcaster

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer holds the operator's unwrapped private key (decrypted at startup
// via internal/util.Decrypt) and signs EIP-1559 transactions for one chain.
type Signer struct {
	key     *ecdsa.PrivateKey
	chainID *big.Int
	From    common.Address
}

// NewSigner derives the from-address from the key.
func NewSigner(key *ecdsa.PrivateKey, chainID *big.Int) *Signer {
	return &Signer{key: key, chainID: chainID, From: crypto.PubkeyToAddress(key.PublicKey)}
}

// SignDynamicFee builds and signs one EIP-1559 transaction. Replacement
// bumps reuse the same nonce with higher fee caps (spec §4.J step 2c).
func (s *Signer) SignDynamicFee(nonce uint64, to common.Address, data []byte, gasLimit uint64, gasFeeCap, gasTipCap *big.Int) (*types.Transaction, error) {
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.chainID,
		Nonce:     nonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     big.NewInt(0),
		Data:      data,
	})
	signer := types.LatestSignerForChainID(s.chainID)
	return types.SignTx(tx, signer, s.key)
}
