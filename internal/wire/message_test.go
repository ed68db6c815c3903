package wire

import (
	"bytes"
	"testing"
)

func sampleHeader() Header {
	h := NewHeader()
	h.Priority = PriorityHigh
	h.MsgType = MsgRequest
	h.Flags = FlagReplyExpected
	h.MsgID = 42
	h.Source = 10
	h.TargetCount = 1
	h.TimestampNS = 123456789
	h.PayloadLen = 4
	h.Targets[0] = 20
	return h
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	h := sampleHeader()
	buf := h.Encode()
	if len(buf) != HeaderSize {
		t.Fatalf("encoded header length = %d, want %d", len(buf), HeaderSize)
	}

	got, err := DecodeHeader(buf)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if got != h {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestHeaderSizeIsFixed(t *testing.T) {
	h := NewHeader()
	if len(h.Encode()) != 64 {
		t.Fatalf("header must be exactly 64 bytes, got %d", len(h.Encode()))
	}
}

func TestValidMagic(t *testing.T) {
	h := NewHeader()
	if !h.ValidMagic() {
		t.Fatal("freshly constructed header should have valid magic/version")
	}
	h.Version = 9
	if h.ValidMagic() {
		t.Fatal("mismatched version should be invalid")
	}
}

func TestValidateTargetCount(t *testing.T) {
	h := sampleHeader()
	h.TargetCount = 0
	h.MsgType = MsgRequest
	if err := h.Validate(); err == nil {
		t.Fatal("expected error for target_count=0 on non-broadcast message")
	}

	h.MsgType = MsgBroadcast
	if err := h.Validate(); err != nil {
		t.Fatalf("broadcast with target_count=0 should validate: %v", err)
	}
}

func TestValidateCorrelationPresence(t *testing.T) {
	h := sampleHeader()
	h.MsgType = MsgResponse
	h.CorrelationID = 0
	if err := h.Validate(); err == nil {
		t.Fatal("Response without correlation_id should fail validation")
	}

	h.CorrelationID = 7
	if err := h.Validate(); err != nil {
		t.Fatalf("Response with correlation_id should validate: %v", err)
	}

	h.MsgType = MsgRequest
	if err := h.Validate(); err == nil {
		t.Fatal("Request with non-zero correlation_id should fail validation")
	}
}

func TestValidatePayloadBound(t *testing.T) {
	h := sampleHeader()
	h.PayloadLen = MaxPayload + 1
	if err := h.Validate(); err == nil {
		t.Fatal("expected error for payload exceeding MaxPayload")
	}
}

func TestZeroedAuthTagCopyDoesNotMutateOriginal(t *testing.T) {
	h := sampleHeader()
	h.AuthTag = [16]byte{1, 2, 3}
	zeroed := h.ZeroedAuthTagCopy()
	if bytes.Equal(zeroed.AuthTag[:], h.AuthTag[:]) {
		t.Fatal("ZeroedAuthTagCopy should clear AuthTag")
	}
	if h.AuthTag[0] != 1 {
		t.Fatal("ZeroedAuthTagCopy mutated the original header")
	}
}

func TestFragmentHeaderRoundTrip(t *testing.T) {
	f := FragmentHeader{TotalFragments: 3, ThisFragment: 1, GroupID: 0xDEADBEEF}
	buf := f.Encode()
	got, err := DecodeFragmentHeader(buf)
	if err != nil {
		t.Fatalf("DecodeFragmentHeader: %v", err)
	}
	if got != f {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, f)
	}
}

func TestBitFlipBreaksByteEquality(t *testing.T) {
	h := sampleHeader()
	buf := h.Encode()
	flipped := append([]byte(nil), buf...)
	flipped[10] ^= 0x01 // inside msg_id
	if bytes.Equal(buf, flipped) {
		t.Fatal("flipping a bit should change the encoded bytes")
	}
}
