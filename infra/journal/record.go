package journal

import "time"

type RecordType uint8

const (
	RecordPlace RecordType = iota + 1
	RecordCancel
	RecordLiquidate
	RecordDeposit
	RecordWithdraw
)

func (t RecordType) String() string {
	switch t {
	case RecordPlace:
		return "place"
	case RecordCancel:
		return "cancel"
	case RecordLiquidate:
		return "liquidate"
	case RecordDeposit:
		return "deposit"
	case RecordWithdraw:
		return "withdraw"
	default:
		return "unknown"
	}
}

// Record is one committed operation. Seq is assigned by the journal at
// append time and is strictly increasing across segments.
type Record struct {
	Type RecordType
	Seq  uint64
	Time int64
	Data []byte
}

func (r *Record) Timestamp() time.Time {
	return time.Unix(0, r.Time).UTC()
}

// Frame: [type:1][seq:8][time:8][len:4][payload][crc:4]
const (
	headerSize = 1 + 8 + 8 + 4
	crcSize    = 4
)
