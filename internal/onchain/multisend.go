package onchain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gipsh/cpk-buyer-go/internal/types"
)

// encodeMultiSend packs a batch into the MultiSend transactions blob:
//
//	operation (1) | to (20) | value (32) | data length (32) | data
//
// repeated for every call, in order.
func encodeMultiSend(batch types.Batch) ([]byte, error) {
	size := 0
	for _, tx := range batch {
		size += 1 + 20 + 32 + 32 + len(tx.Data)
	}
	out := make([]byte, 0, size)
	for i, tx := range batch {
		value := tx.Value
		if value == nil {
			value = new(big.Int)
		}
		if value.Sign() < 0 || value.BitLen() > 256 {
			return nil, fmt.Errorf("call %d: value %s out of range", i, value)
		}
		out = append(out, byte(tx.Operation))
		out = append(out, tx.To.Bytes()...)
		out = append(out, common.LeftPadBytes(value.Bytes(), 32)...)
		out = append(out, common.LeftPadBytes(big.NewInt(int64(len(tx.Data))).Bytes(), 32)...)
		out = append(out, tx.Data...)
	}
	return out, nil
}

// decodeMultiSend is the inverse of encodeMultiSend.
func decodeMultiSend(blob []byte) (types.Batch, error) {
	var batch types.Batch
	for len(blob) > 0 {
		if len(blob) < 85 {
			return nil, fmt.Errorf("truncated call header: %d bytes left", len(blob))
		}
		tx := types.SubTransaction{
			Operation: types.Operation(blob[0]),
			To:        common.BytesToAddress(blob[1:21]),
			Value:     new(big.Int).SetBytes(blob[21:53]),
		}
		n := new(big.Int).SetBytes(blob[53:85])
		blob = blob[85:]
		if !n.IsInt64() || n.Int64() > int64(len(blob)) {
			return nil, fmt.Errorf("call data length %s exceeds remaining %d bytes", n, len(blob))
		}
		tx.Data = append([]byte(nil), blob[:n.Int64()]...)
		blob = blob[n.Int64():]
		batch = append(batch, tx)
	}
	return batch, nil
}
