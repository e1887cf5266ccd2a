package executor

import (
	"crypto/ecdsa"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "IntentLayer-Lite/internal/errors"
)

// Signer 持有执行账户的私钥。
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSigner 从十六进制私钥创建签名器，可带 0x 前缀。
func NewSigner(hexKey string) (*Signer, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, xerrors.New(CodeSignerInvalid, "signer key is empty")
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, xerrors.Wrap(CodeSignerInvalid, err, "parse signer key")
	}
	return &Signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// NewSignerFromKey 包装已有私钥。
func NewSignerFromKey(key *ecdsa.PrivateKey) *Signer {
	return &Signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

// Address 返回签名账户地址。
func (s *Signer) Address() common.Address {
	return s.address
}

// Sign 使用对应链的最新签名规则签名交易。
func (s *Signer) Sign(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}
