package speech

import (
	"bytes"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		frame *frame
	}{
		{
			name: "json request",
			frame: &frame{
				kind:          msgFullClientRequest,
				serialization: serializeJSON,
				payload:       []byte(`{"a":1}`),
			},
		},
		{
			name: "last audio chunk",
			frame: &frame{
				kind:     msgAudioOnlyRequest,
				flags:    flagNegativeSequence,
				sequence: -7,
				payload:  []byte{1, 2, 3},
			},
		},
		{
			name: "session event",
			frame: &frame{
				kind:      msgFullServerResponse,
				flags:     flagWithEvent,
				event:     eventSessionFinished,
				sessionID: "session-1",
				payload:   []byte(`{}`),
			},
		},
		{
			name: "connection event",
			frame: &frame{
				kind:      msgFullServerResponse,
				flags:     flagWithEvent,
				event:     eventConnectionStarted,
				connectID: "connect-1",
			},
		},
		{
			name: "error",
			frame: &frame{
				kind:      msgError,
				errorCode: 45000001,
				payload:   []byte("bad request"),
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := decodeFrame(tc.frame.encode())
			if err != nil {
				t.Fatalf("decodeFrame err: %v", err)
			}
			want := tc.frame
			if got.kind != want.kind || got.flags != want.flags || got.sequence != want.sequence ||
				got.event != want.event || got.sessionID != want.sessionID || got.connectID != want.connectID ||
				got.errorCode != want.errorCode || !bytes.Equal(got.payload, want.payload) {
				t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, want)
			}
		})
	}
}

func TestDecodeFrameRejectsBadInput(t *testing.T) {
	good := (&frame{kind: msgFullServerResponse, payload: []byte("hello")}).encode()

	cases := map[string][]byte{
		"short header":      {0x11, 0x90},
		"wrong version":     append([]byte{0x21}, good[1:]...),
		"truncated payload": good[:len(good)-2],
	}
	for name, data := range cases {
		if _, err := decodeFrame(data); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestAudioChunkFlags(t *testing.T) {
	cases := []struct {
		sequence int32
		last     bool
		flags    frameFlags
		wantSeq  int32
	}{
		{sequence: 2, last: false, flags: flagPositiveSequence, wantSeq: 2},
		{sequence: 5, last: true, flags: flagNegativeSequence, wantSeq: -5},
		{sequence: 0, last: true, flags: flagLastNoSequence, wantSeq: 0},
		{sequence: 0, last: false, flags: flagNoSequence, wantSeq: 0},
	}
	for _, tc := range cases {
		f, err := newAudioChunk([]byte("pcm"), tc.sequence, tc.last, compressNone)
		if err != nil {
			t.Fatalf("newAudioChunk err: %v", err)
		}
		if f.flags != tc.flags || f.sequence != tc.wantSeq {
			t.Fatalf("seq=%d last=%v: got flags %04b seq %d", tc.sequence, tc.last, f.flags, f.sequence)
		}
		if f.isLast() != tc.last {
			t.Fatalf("isLast = %v, want %v", f.isLast(), tc.last)
		}
	}
}

func TestGzipPayload(t *testing.T) {
	data := bytes.Repeat([]byte("photosynthesis "), 32)
	f, err := newJSONRequest(data, compressGzip)
	if err != nil {
		t.Fatalf("newJSONRequest err: %v", err)
	}
	if len(f.payload) >= len(data) {
		t.Fatalf("expected compressed payload, got %d >= %d", len(f.payload), len(data))
	}
	decoded, err := decodeFrame(f.encode())
	if err != nil {
		t.Fatalf("decodeFrame err: %v", err)
	}
	body, err := decoded.body()
	if err != nil {
		t.Fatalf("body err: %v", err)
	}
	if !bytes.Equal(body, data) {
		t.Fatalf("decompressed payload mismatch")
	}
}
