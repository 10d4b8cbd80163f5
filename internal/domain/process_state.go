package domain

// ProcessStateID is the key of the singleton ProcessState record.
const ProcessStateID = "app"

// ProcessState holds the id allocators and the hashes of lookup tables
// awaiting finalization. It belongs to the stream of a single chain.
type ProcessState struct {
	ChainID               uint64          `json:"chainId,omitempty"`
	NextPaymentTransferID uint64          `json:"nextPaymentTransferID"`
	NextAssetTransferID   uint64          `json:"nextAssetTransferID"`
	PendingTableIDs       []string        `json:"pendingTableIds"`
	Cursor                *StreamPosition `json:"cursor,omitempty"`
}

// StreamPosition orders messages of a chain stream. Block ticks use
// position 0 and transfer logs use logIndex+1.
type StreamPosition struct {
	BlockNumber uint64 `json:"blockNumber"`
	Position    uint64 `json:"position"`
}

// After reports whether p comes strictly after other.
func (p StreamPosition) After(other StreamPosition) bool {
	if p.BlockNumber != other.BlockNumber {
		return p.BlockNumber > other.BlockNumber
	}
	return p.Position > other.Position
}
