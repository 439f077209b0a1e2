package chain

import (
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/onchainops/liquidator/pkg/domain"
)

// BlockTagString renders a domain.BlockTag into the string eth_call expects:
// "pending", a 0x-prefixed hex block number, or "latest" when nothing more
// specific was requested.
func BlockTagString(tag domain.BlockTag) string {
	if tag.Pending {
		return "pending"
	}
	if tag.Number != nil {
		return hexutil.EncodeUint64(*tag.Number)
	}
	return "latest"
}
