// Package wire defines the on-shared-memory message format: a fixed 64-byte
// header plus a variable payload, bit-exact and little-endian per the wire
// spec. Nothing in this package touches authentication or routing — it is
// pure encode/decode, kept small and branch-predictable so the hot path
// (internal/prf, internal/ae) never has to guess field layout.
package wire

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed, cache-line-aligned header length in bytes.
const HeaderSize = 64

// Magic identifies a well-formed header. Version is bumped on incompatible
// wire changes.
const (
	Magic          uint32 = 0x4147454E
	CurrentVersion uint8  = 1
)

// MaxPayload is the inline payload ceiling before fragmentation kicks in.
const MaxPayload = 64 * 1024

// MaxInlineTargets is the number of target slots carried inline in the
// header; beyond this, targets are externalized in the payload prefix.
const MaxInlineTargets = 4

// Priority classes, ordered highest (0) to lowest (5).
type Priority uint8

const (
	PriorityEmergency Priority = iota
	PriorityCritical
	PriorityHigh
	PriorityMedium
	PriorityLow
	PriorityBulk
	numPriorities
)

// NumPriorities is the number of distinct priority classes (and rings).
const NumPriorities = int(numPriorities)

func (p Priority) Valid() bool { return p < numPriorities }

func (p Priority) String() string {
	names := [...]string{"Emergency", "Critical", "High", "Medium", "Low", "Bulk"}
	if int(p) < len(names) {
		return names[p]
	}
	return fmt.Sprintf("Priority(%d)", uint8(p))
}

// MsgType distinguishes the addressing/lifecycle pattern a message belongs to.
type MsgType uint8

const (
	MsgRequest MsgType = iota
	MsgResponse
	MsgEvent
	MsgTask
	MsgResult
	MsgBroadcast
	MsgEmergency
)

func (t MsgType) String() string {
	names := [...]string{"Request", "Response", "Event", "Task", "Result", "Broadcast", "Emergency"}
	if int(t) < len(names) {
		return names[t]
	}
	return fmt.Sprintf("MsgType(%d)", uint8(t))
}

// Flags is a bitmask of per-message modifiers.
type Flags uint8

const (
	FlagReplyExpected Flags = 1 << iota
	FlagCompressed
	FlagFragmented
	FlagMulticast
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// AgentID is the stable 16-bit identity assigned by the Key & Identity Store.
type AgentID uint16

// AdminAgentID is reserved for the control-plane admin agent (spec §6).
const AdminAgentID AgentID = 0

// Header is the fixed 64-byte message header, laid out exactly as specified:
//
//	0   4   magic
//	4   1   version
//	5   1   priority
//	6   1   msg_type
//	7   1   flags
//	8   8   msg_id
//	16  8   correlation_id
//	24  2   source
//	26  1   target_count
//	27  1   reserved
//	28  8   timestamp_ns
//	36  4   payload_len
//	40  16  auth_tag
//	56  8   targets[0..3] packed (2B each)
type Header struct {
	Magic         uint32
	Version       uint8
	Priority      Priority
	MsgType       MsgType
	Flags         Flags
	MsgID         uint64
	CorrelationID uint64
	Source        AgentID
	TargetCount   uint8
	reserved      uint8
	TimestampNS   uint64
	PayloadLen    uint32
	AuthTag       [16]byte
	Targets       [MaxInlineTargets]AgentID
}

// Message pairs a decoded header with its payload bytes. Once enqueued, a
// Message is never mutated — readers only ever observe a consistent,
// immutable view (spec §3 lifecycle).
type Message struct {
	Header  Header
	Payload []byte
}

// NewHeader builds a zero-valued header stamped with the wire constants.
func NewHeader() Header {
	return Header{Magic: Magic, Version: CurrentVersion}
}

// Encode serializes the header into a HeaderSize-byte buffer, little-endian,
// exactly matching the wire layout above.
func (h *Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = uint8(h.Priority)
	buf[6] = uint8(h.MsgType)
	buf[7] = uint8(h.Flags)
	binary.LittleEndian.PutUint64(buf[8:16], h.MsgID)
	binary.LittleEndian.PutUint64(buf[16:24], h.CorrelationID)
	binary.LittleEndian.PutUint16(buf[24:26], uint16(h.Source))
	buf[26] = h.TargetCount
	buf[27] = h.reserved
	binary.LittleEndian.PutUint64(buf[28:36], h.TimestampNS)
	binary.LittleEndian.PutUint32(buf[36:40], h.PayloadLen)
	copy(buf[40:56], h.AuthTag[:])
	for i, t := range h.Targets {
		binary.LittleEndian.PutUint16(buf[56+i*2:58+i*2], uint16(t))
	}
	return buf
}

// DecodeHeader parses a HeaderSize-byte buffer into a Header. It does not
// validate magic/version — callers check those explicitly so the error can
// be attributed (unknown-version vs. corrupt).
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("wire: header too short: %d bytes", len(buf))
	}
	var h Header
	h.Magic = binary.LittleEndian.Uint32(buf[0:4])
	h.Version = buf[4]
	h.Priority = Priority(buf[5])
	h.MsgType = MsgType(buf[6])
	h.Flags = Flags(buf[7])
	h.MsgID = binary.LittleEndian.Uint64(buf[8:16])
	h.CorrelationID = binary.LittleEndian.Uint64(buf[16:24])
	h.Source = AgentID(binary.LittleEndian.Uint16(buf[24:26]))
	h.TargetCount = buf[26]
	h.reserved = buf[27]
	h.TimestampNS = binary.LittleEndian.Uint64(buf[28:36])
	h.PayloadLen = binary.LittleEndian.Uint32(buf[36:40])
	copy(h.AuthTag[:], buf[40:56])
	for i := range h.Targets {
		h.Targets[i] = AgentID(binary.LittleEndian.Uint16(buf[56+i*2 : 58+i*2]))
	}
	return h, nil
}

// ValidMagic reports whether the header carries the expected magic+version.
func (h *Header) ValidMagic() bool {
	return h.Magic == Magic && h.Version == CurrentVersion
}

// ZeroedAuthTagCopy returns a copy of the header with AuthTag zeroed, as
// required by the canonical MAC form (auth tag must not cover itself).
func (h Header) ZeroedAuthTagCopy() Header {
	h.AuthTag = [16]byte{}
	return h
}

// Validate checks the structural invariants from spec §3, independent of
// authentication: magic/version, payload bound, target_count vs. msg_type,
// and correlation_id presence rules.
func (h *Header) Validate() error {
	if !h.ValidMagic() {
		return fmt.Errorf("wire: bad magic/version")
	}
	if h.PayloadLen > MaxPayload {
		return fmt.Errorf("wire: payload_len %d exceeds max %d", h.PayloadLen, MaxPayload)
	}
	if !h.Priority.Valid() {
		return fmt.Errorf("wire: invalid priority %d", h.Priority)
	}
	if h.MsgType != MsgBroadcast && h.TargetCount < 1 {
		return fmt.Errorf("wire: target_count must be >= 1 unless Broadcast")
	}
	wantsCorrelation := h.MsgType == MsgResponse || h.MsgType == MsgResult
	hasCorrelation := h.CorrelationID != 0
	if wantsCorrelation != hasCorrelation {
		return fmt.Errorf("wire: correlation_id presence mismatch for msg_type %s", h.MsgType)
	}
	return nil
}

// FragmentHeader is the 8-byte prefix carried in the payload when
// FlagFragmented is set.
type FragmentHeader struct {
	TotalFragments uint16
	ThisFragment   uint16
	GroupID        uint32
}

const FragmentHeaderSize = 8

func (f FragmentHeader) Encode() []byte {
	buf := make([]byte, FragmentHeaderSize)
	binary.LittleEndian.PutUint16(buf[0:2], f.TotalFragments)
	binary.LittleEndian.PutUint16(buf[2:4], f.ThisFragment)
	binary.LittleEndian.PutUint32(buf[4:8], f.GroupID)
	return buf
}

func DecodeFragmentHeader(buf []byte) (FragmentHeader, error) {
	if len(buf) < FragmentHeaderSize {
		return FragmentHeader{}, fmt.Errorf("wire: fragment header too short")
	}
	return FragmentHeader{
		TotalFragments: binary.LittleEndian.Uint16(buf[0:2]),
		ThisFragment:   binary.LittleEndian.Uint16(buf[2:4]),
		GroupID:        binary.LittleEndian.Uint32(buf[4:8]),
	}, nil
}
