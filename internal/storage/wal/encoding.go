package wal

import (
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/xtxerr/faultlogger/internal/storage/types"
)

// EntryKind identifies the payload of a log entry.
type EntryKind uint8

const (
	// KindRecord carries one fault record.
	KindRecord EntryKind = 1

	// KindPurge lists sequence numbers evicted by retention.
	KindPurge EntryKind = 2

	// KindCheckpoint records the next sequence number to assign. It keeps
	// sequence numbers unique after every segment holding records is gone.
	KindCheckpoint EntryKind = 3
)

// String returns the name of the kind.
func (k EntryKind) String() string {
	switch k {
	case KindRecord:
		return "record"
	case KindPurge:
		return "purge"
	case KindCheckpoint:
		return "checkpoint"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Entry is one unit appended to the log.
type Entry struct {
	Kind    EntryKind
	Record  types.Record // KindRecord
	Purged  []int64      // KindPurge
	NextSeq int64        // KindCheckpoint
}

// RecordEntry wraps a record for appending.
func RecordEntry(r types.Record) Entry {
	return Entry{Kind: KindRecord, Record: r}
}

// PurgeEntry wraps a list of evicted sequence numbers for appending.
func PurgeEntry(seqs []int64) Entry {
	return Entry{Kind: KindPurge, Purged: seqs}
}

// CheckpointEntry records the next sequence number to assign.
func CheckpointEntry(next int64) Entry {
	return Entry{Kind: KindCheckpoint, NextSeq: next}
}

// MaxSeq returns the highest sequence number the entry accounts for.
func (e Entry) MaxSeq() int64 {
	switch e.Kind {
	case KindRecord:
		return e.Record.Seq
	case KindPurge:
		var hi int64
		for _, s := range e.Purged {
			hi = max(hi, s)
		}
		return hi
	case KindCheckpoint:
		return e.NextSeq - 1
	}
	return 0
}

// Entry payload format: 1 byte kind followed by a protobuf wire-format message.
//
// Record fields:
//   1 seq (varint)        6 timestamp (varint)
//   2 id (bytes, 16)      7 reason (bytes)
//   3 pid (zigzag)        8 module (bytes)
//   4 uid (zigzag)        9 summary (bytes)
//   5 category (varint)  10 full_log (bytes)
//
// Purge fields:
//   1 seqs (packed varint)
//
// Checkpoint fields:
//   1 next_seq (varint)
//
// Unknown fields are skipped so newer writers stay readable.
const (
	fieldSeq       protowire.Number = 1
	fieldID        protowire.Number = 2
	fieldPID       protowire.Number = 3
	fieldUID       protowire.Number = 4
	fieldCategory  protowire.Number = 5
	fieldTimestamp protowire.Number = 6
	fieldReason    protowire.Number = 7
	fieldModule    protowire.Number = 8
	fieldSummary   protowire.Number = 9
	fieldFullLog   protowire.Number = 10

	fieldPurgedSeqs protowire.Number = 1

	fieldNextSeq protowire.Number = 1
)

// encodeEntry encodes an entry into its payload form.
func encodeEntry(e Entry) ([]byte, error) {
	switch e.Kind {
	case KindRecord:
		return encodeRecord(e.Record), nil
	case KindPurge:
		if len(e.Purged) == 0 {
			return nil, fmt.Errorf("purge entry without sequence numbers")
		}
		return encodePurge(e.Purged), nil
	case KindCheckpoint:
		if e.NextSeq <= 0 {
			return nil, fmt.Errorf("checkpoint entry without next sequence number")
		}
		buf := []byte{byte(KindCheckpoint)}
		buf = protowire.AppendTag(buf, fieldNextSeq, protowire.VarintType)
		return protowire.AppendVarint(buf, uint64(e.NextSeq)), nil
	default:
		return nil, fmt.Errorf("unknown entry kind %d", e.Kind)
	}
}

func encodeRecord(r types.Record) []byte {
	buf := make([]byte, 0, 64+len(r.Reason)+len(r.Module)+len(r.Summary)+len(r.FullLog))
	buf = append(buf, byte(KindRecord))

	buf = protowire.AppendTag(buf, fieldSeq, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(r.Seq))
	buf = protowire.AppendTag(buf, fieldID, protowire.BytesType)
	buf = protowire.AppendBytes(buf, r.ID[:])
	buf = protowire.AppendTag(buf, fieldPID, protowire.VarintType)
	buf = protowire.AppendVarint(buf, protowire.EncodeZigZag(int64(r.ProcessID)))
	buf = protowire.AppendTag(buf, fieldUID, protowire.VarintType)
	buf = protowire.AppendVarint(buf, protowire.EncodeZigZag(int64(r.UserID)))
	buf = protowire.AppendTag(buf, fieldCategory, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(r.Category))
	buf = protowire.AppendTag(buf, fieldTimestamp, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(r.Timestamp))

	buf = appendString(buf, fieldReason, r.Reason)
	buf = appendString(buf, fieldModule, r.Module)
	buf = appendString(buf, fieldSummary, r.Summary)
	buf = appendString(buf, fieldFullLog, r.FullLog)

	return buf
}

func encodePurge(seqs []int64) []byte {
	var packed []byte
	for _, s := range seqs {
		packed = protowire.AppendVarint(packed, uint64(s))
	}

	buf := make([]byte, 0, len(packed)+8)
	buf = append(buf, byte(KindPurge))
	buf = protowire.AppendTag(buf, fieldPurgedSeqs, protowire.BytesType)
	buf = protowire.AppendBytes(buf, packed)
	return buf
}

// appendString appends a length-delimited string field, omitting empty values.
func appendString(buf []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return buf
	}
	buf = protowire.AppendTag(buf, num, protowire.BytesType)
	return protowire.AppendString(buf, s)
}

// decodeEntry decodes a payload produced by encodeEntry.
func decodeEntry(data []byte) (Entry, error) {
	if len(data) < 1 {
		return Entry{}, fmt.Errorf("data too short for entry kind")
	}

	kind := EntryKind(data[0])
	body := data[1:]

	switch kind {
	case KindRecord:
		r, err := decodeRecord(body)
		if err != nil {
			return Entry{}, err
		}
		return Entry{Kind: KindRecord, Record: r}, nil
	case KindPurge:
		seqs, err := decodePurge(body)
		if err != nil {
			return Entry{}, err
		}
		return Entry{Kind: KindPurge, Purged: seqs}, nil
	case KindCheckpoint:
		next, err := decodeCheckpoint(body)
		if err != nil {
			return Entry{}, err
		}
		return Entry{Kind: KindCheckpoint, NextSeq: next}, nil
	default:
		return Entry{}, fmt.Errorf("unknown entry kind %d", kind)
	}
}

func decodeRecord(b []byte) (types.Record, error) {
	var r types.Record

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return r, fmt.Errorf("record tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case typ == protowire.VarintType && isVarintField(num):
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return r, fmt.Errorf("record field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
			setVarintField(&r, num, v)

		case typ == protowire.BytesType && isBytesField(num):
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return r, fmt.Errorf("record field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
			if err := setBytesField(&r, num, v); err != nil {
				return r, err
			}

		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return r, fmt.Errorf("record field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}

	if r.Seq <= 0 {
		return r, fmt.Errorf("record without sequence number")
	}
	return r, nil
}

func isVarintField(num protowire.Number) bool {
	switch num {
	case fieldSeq, fieldPID, fieldUID, fieldCategory, fieldTimestamp:
		return true
	}
	return false
}

func isBytesField(num protowire.Number) bool {
	switch num {
	case fieldID, fieldReason, fieldModule, fieldSummary, fieldFullLog:
		return true
	}
	return false
}

func setVarintField(r *types.Record, num protowire.Number, v uint64) {
	switch num {
	case fieldSeq:
		r.Seq = int64(v)
	case fieldPID:
		r.ProcessID = int32(protowire.DecodeZigZag(v))
	case fieldUID:
		r.UserID = int32(protowire.DecodeZigZag(v))
	case fieldCategory:
		r.Category = types.Category(v)
	case fieldTimestamp:
		r.Timestamp = int64(v)
	}
}

func setBytesField(r *types.Record, num protowire.Number, v []byte) error {
	switch num {
	case fieldID:
		id, err := uuid.FromBytes(v)
		if err != nil {
			return fmt.Errorf("record id: %w", err)
		}
		r.ID = id
	case fieldReason:
		r.Reason = string(v)
	case fieldModule:
		r.Module = string(v)
	case fieldSummary:
		r.Summary = string(v)
	case fieldFullLog:
		r.FullLog = string(v)
	}
	return nil
}

func decodePurge(b []byte) ([]int64, error) {
	var seqs []int64

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("purge tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		if num != fieldPurgedSeqs || typ != protowire.BytesType {
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return nil, fmt.Errorf("purge field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
			continue
		}

		packed, m := protowire.ConsumeBytes(b)
		if m < 0 {
			return nil, fmt.Errorf("purge seqs: %w", protowire.ParseError(m))
		}
		b = b[m:]

		for len(packed) > 0 {
			v, k := protowire.ConsumeVarint(packed)
			if k < 0 {
				return nil, fmt.Errorf("purge seq: %w", protowire.ParseError(k))
			}
			packed = packed[k:]
			seqs = append(seqs, int64(v))
		}
	}

	if len(seqs) == 0 {
		return nil, fmt.Errorf("purge entry without sequence numbers")
	}
	return seqs, nil
}

func decodeCheckpoint(b []byte) (int64, error) {
	var next int64

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return 0, fmt.Errorf("checkpoint tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		if num == fieldNextSeq && typ == protowire.VarintType {
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return 0, fmt.Errorf("checkpoint next seq: %w", protowire.ParseError(m))
			}
			b = b[m:]
			next = int64(v)
			continue
		}

		m := protowire.ConsumeFieldValue(num, typ, b)
		if m < 0 {
			return 0, fmt.Errorf("checkpoint field %d: %w", num, protowire.ParseError(m))
		}
		b = b[m:]
	}

	if next <= 0 {
		return 0, fmt.Errorf("checkpoint entry without next sequence number")
	}
	return next, nil
}
