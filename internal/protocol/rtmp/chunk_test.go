package rtmp

import (
	"bytes"
	"testing"
)

// TestWriteChunkRoundTripPreservesStreamID is a regression test for a
// retrieval defect: the message stream ID parsed out of a fmt-0 chunk
// header was being discarded, making GetCompleteMessage's declared
// 5-value signature (body, type, timestamp, streamID, complete)
// impossible to satisfy. This exercises the full write->parse path.
func TestWriteChunkRoundTripPreservesStreamID(t *testing.T) {
	var buf bytes.Buffer
	body := []byte("hello rtmp")
	const csID = uint32(4)
	const wantStreamID = uint32(7)

	if err := WriteChunk(&buf, csID, MessageTypeVideo, 1234, wantStreamID, body, DefaultChunkSize); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}

	parser := NewChunkParser()
	gotCsID, err := parser.ReadChunk(&buf)
	if err != nil {
		t.Fatalf("ReadChunk: %v", err)
	}
	if gotCsID != csID {
		t.Fatalf("chunk stream id = %d, want %d", gotCsID, csID)
	}

	gotBody, msgType, timestamp, streamID, complete := parser.GetCompleteMessage(gotCsID)
	if !complete {
		t.Fatal("expected message to be complete after a single chunk")
	}
	if !bytes.Equal(gotBody, body) {
		t.Fatalf("body = %q, want %q", gotBody, body)
	}
	if msgType != MessageTypeVideo {
		t.Fatalf("msgType = %d, want %d", msgType, MessageTypeVideo)
	}
	if timestamp != 1234 {
		t.Fatalf("timestamp = %d, want 1234", timestamp)
	}
	if streamID != wantStreamID {
		t.Fatalf("streamID = %d, want %d", streamID, wantStreamID)
	}
}

// TestGetCompleteMessageIncompleteReturnsFalse checks the not-found/
// not-yet-complete path returns the full zero-valued 5-tuple rather than
// panicking or dropping a return value.
func TestGetCompleteMessageIncompleteReturnsFalse(t *testing.T) {
	parser := NewChunkParser()
	body, msgType, timestamp, streamID, complete := parser.GetCompleteMessage(99)
	if complete {
		t.Fatal("expected complete=false for unknown chunk stream id")
	}
	if body != nil || msgType != 0 || timestamp != 0 || streamID != 0 {
		t.Fatalf("expected zero values on incomplete message, got body=%v msgType=%d timestamp=%d streamID=%d",
			body, msgType, timestamp, streamID)
	}
}

// TestWriteChunkMultiChunkReassembly exercises fmt-3 continuation chunks,
// verifying the stream ID recorded on the fmt-0 header survives across
// a message split over multiple chunks.
func TestWriteChunkMultiChunkReassembly(t *testing.T) {
	var buf bytes.Buffer
	body := bytes.Repeat([]byte{0xAB}, 300)
	const chunkSize = 128
	const wantStreamID = uint32(1)

	if err := WriteChunk(&buf, 3, MessageTypeAudio, 0, wantStreamID, body, chunkSize); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}

	parser := NewChunkParser()
	parser.SetChunkSize(chunkSize)

	var csID uint32
	var err error
	// 300 bytes over a 128-byte chunk size needs 3 ReadChunk calls.
	for i := 0; i < 3; i++ {
		csID, err = parser.ReadChunk(&buf)
		if err != nil {
			t.Fatalf("ReadChunk[%d]: %v", i, err)
		}
	}

	gotBody, _, _, streamID, complete := parser.GetCompleteMessage(csID)
	if !complete {
		t.Fatal("expected message complete after all chunks read")
	}
	if !bytes.Equal(gotBody, body) {
		t.Fatalf("reassembled body length = %d, want %d", len(gotBody), len(body))
	}
	if streamID != wantStreamID {
		t.Fatalf("streamID = %d, want %d", streamID, wantStreamID)
	}
}
