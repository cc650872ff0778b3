// Package probe builds the uprobe programs that copy an argument buffer out of
// the target process, and decodes the records they emit.
//
// Programs are assembled in Go with cilium/ebpf/asm, so no C toolchain or
// generated object file is involved. Each program reserves a ring buffer slot,
// stamps it with the hook kind and the kernel monotonic clock, copies at most
// MaxPayload bytes of the argument buffer and submits. A full ring buffer drops
// the event; the target never waits.
//
// Record layout (little endian):
//
//	offset 0   u32  kind
//	offset 4   u32  number of bytes copied
//	offset 8   u64  bpf_ktime_get_ns at hook entry
//	offset 16  [MaxPayload]byte data
package probe

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/mrzor/logincap/internal/message"
)

// RecordHeaderSize is the fixed prefix of every record.
const RecordHeaderSize = 16

// DefaultMaxPayload bounds the bytes copied per intercepted call.
const DefaultMaxPayload = 8192

// Encoding describes how the argument buffer is laid out in memory.
type Encoding uint8

const (
	// EncodingUTF16LE buffers are wide strings; the length argument counts
	// 16-bit characters and -1 means NUL terminated.
	EncodingUTF16LE Encoding = iota + 1
	// EncodingBytes buffers are 8-bit strings; the length argument counts bytes.
	EncodingBytes
)

func (e Encoding) String() string {
	switch e {
	case EncodingUTF16LE:
		return "utf16le"
	case EncodingBytes:
		return "bytes"
	default:
		return fmt.Sprintf("encoding(%d)", uint8(e))
	}
}

// HookSpec names a routine to intercept and the arguments to capture.
type HookSpec struct {
	Kind      message.Kind
	Module    string
	Symbol    string
	BufferArg int // zero-based index of the buffer pointer
	LengthArg int // zero-based index of the length
	Encoding  Encoding
}

func (h HookSpec) String() string {
	return fmt.Sprintf("%s!%s", h.Module, h.Symbol)
}

// RecordHeader mirrors the first RecordHeaderSize bytes of a record.
type RecordHeader struct {
	Kind      uint32
	Size      uint32
	Timestamp uint64
}

// Record is a decoded ring buffer sample.
type Record struct {
	Kind      message.Kind
	Timestamp uint64 // nanoseconds since boot
	Data      []byte
}

// ErrShortRecord is returned for samples smaller than their header claims.
var ErrShortRecord = errors.New("short probe record")

// DecodeRecord parses one raw ring buffer sample. Data aliases raw.
func DecodeRecord(raw []byte) (Record, error) {
	var hdr RecordHeader
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &hdr); err != nil {
		return Record{}, errors.Wrap(ErrShortRecord, err.Error())
	}

	end := RecordHeaderSize + int(hdr.Size)
	if end > len(raw) {
		return Record{}, errors.Wrapf(ErrShortRecord, "size %d exceeds sample of %d bytes", hdr.Size, len(raw))
	}

	return Record{
		Kind:      message.Kind(hdr.Kind),
		Timestamp: hdr.Timestamp,
		Data:      raw[RecordHeaderSize:end],
	}, nil
}
