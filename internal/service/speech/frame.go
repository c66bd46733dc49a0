package speech

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Volcengine 双向流式语音协议的二进制帧。
//
//	byte 0: protocol version (4 bits) | header size in 4-byte words (4 bits)
//	byte 1: message type (4 bits)     | flags (4 bits)
//	byte 2: serialization (4 bits)    | compression (4 bits)
//	byte 3: reserved
//
// 头部之后依次为可选的 sequence、事件元数据、(错误码)、payload 长度与 payload。

const protocolVersion = 0b0001

type messageType uint8

const (
	msgFullClientRequest  messageType = 0b0001
	msgAudioOnlyRequest   messageType = 0b0010
	msgFullServerResponse messageType = 0b1001
	msgAudioOnlyResponse  messageType = 0b1011
	msgError              messageType = 0b1111
)

type frameFlags uint8

const (
	flagNoSequence       frameFlags = 0b0000
	flagPositiveSequence frameFlags = 0b0001
	flagLastNoSequence   frameFlags = 0b0010
	flagNegativeSequence frameFlags = 0b0011
	flagWithEvent        frameFlags = 0b0100

	sequenceMask frameFlags = 0b0011
)

type serialization uint8

const (
	serializeRaw  serialization = 0b0000
	serializeJSON serialization = 0b0001
)

type compression uint8

const (
	compressNone compression = 0b0000
	compressGzip compression = 0b0001
)

type eventType int32

const (
	eventStartConnection    eventType = 1
	eventFinishConnection   eventType = 2
	eventConnectionStarted  eventType = 50
	eventConnectionFailed   eventType = 51
	eventConnectionFinished eventType = 52
	eventSessionStarted     eventType = 150
	eventSessionFinished    eventType = 152
	eventSessionFailed      eventType = 153
)

var errShortFrame = errors.New("speech frame too short")

// frame 是解码后的单个协议帧。
type frame struct {
	kind          messageType
	flags         frameFlags
	serialization serialization
	compression   compression
	sequence      int32
	event         eventType
	sessionID     string
	connectID     string
	errorCode     uint32
	payload       []byte
}

func (f *frame) hasSequence() bool {
	s := f.flags & sequenceMask
	return s == flagPositiveSequence || s == flagNegativeSequence
}

func (f *frame) hasEvent() bool {
	return f.flags&flagWithEvent == flagWithEvent
}

// isLast 报告该帧是否为流中的最后一包。
func (f *frame) isLast() bool {
	s := f.flags & sequenceMask
	return s == flagLastNoSequence || s == flagNegativeSequence
}

// body 返回解压后的 payload。
func (f *frame) body() ([]byte, error) {
	return decompress(f.payload, f.compression)
}

func (f *frame) encode() []byte {
	var buf bytes.Buffer
	buf.WriteByte(protocolVersion<<4 | 0b0001)
	buf.WriteByte(uint8(f.kind)<<4 | uint8(f.flags))
	buf.WriteByte(uint8(f.serialization)<<4 | uint8(f.compression))
	buf.WriteByte(0)

	if f.hasSequence() {
		writeUint32(&buf, uint32(f.sequence))
	}
	if f.hasEvent() {
		writeUint32(&buf, uint32(f.event))
		if !eventOmitsSession(f.event) {
			writeSized(&buf, f.sessionID)
		}
		if eventCarriesConnect(f.event) {
			writeSized(&buf, f.connectID)
		}
	}
	if f.kind == msgError {
		writeUint32(&buf, f.errorCode)
	}
	writeUint32(&buf, uint32(len(f.payload)))
	buf.Write(f.payload)
	return buf.Bytes()
}

func decodeFrame(data []byte) (*frame, error) {
	if len(data) < 4 {
		return nil, errShortFrame
	}
	if version := data[0] >> 4; version != protocolVersion {
		return nil, fmt.Errorf("unsupported speech protocol version %d", version)
	}
	headerSize := int(data[0]&0x0F) * 4
	if headerSize < 4 || len(data) < headerSize {
		return nil, errShortFrame
	}

	f := &frame{
		kind:          messageType(data[1] >> 4),
		flags:         frameFlags(data[1] & 0x0F),
		serialization: serialization(data[2] >> 4),
		compression:   compression(data[2] & 0x0F),
	}
	r := bytes.NewReader(data[headerSize:])

	if f.hasSequence() {
		v, err := readUint32(r, "sequence")
		if err != nil {
			return nil, err
		}
		f.sequence = int32(v)
	}
	if f.hasEvent() {
		v, err := readUint32(r, "event")
		if err != nil {
			return nil, err
		}
		f.event = eventType(int32(v))
		if !eventOmitsSession(f.event) {
			if f.sessionID, err = readSized(r, "session id"); err != nil {
				return nil, err
			}
		}
		if eventCarriesConnect(f.event) {
			if f.connectID, err = readSized(r, "connect id"); err != nil {
				return nil, err
			}
		}
	}
	if f.kind == msgError {
		code, err := readUint32(r, "error code")
		if err != nil {
			return nil, err
		}
		f.errorCode = code
	}

	size, err := readUint32(r, "payload size")
	if err != nil {
		return nil, err
	}
	if int(size) > r.Len() {
		return nil, fmt.Errorf("speech frame payload truncated: want %d bytes, have %d", size, r.Len())
	}
	f.payload = make([]byte, size)
	if _, err := io.ReadFull(r, f.payload); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return f, nil
}

// newJSONRequest 构造携带请求参数的 full client request。
func newJSONRequest(payload []byte, comp compression) (*frame, error) {
	body, err := compress(payload, comp)
	if err != nil {
		return nil, err
	}
	return &frame{
		kind:          msgFullClientRequest,
		flags:         flagNoSequence,
		serialization: serializeJSON,
		compression:   comp,
		payload:       body,
	}, nil
}

// newAudioChunk 构造音频分包。最后一包的 sequence 取负值。
func newAudioChunk(audio []byte, sequence int32, last bool, comp compression) (*frame, error) {
	body, err := compress(audio, comp)
	if err != nil {
		return nil, err
	}
	f := &frame{
		kind:          msgAudioOnlyRequest,
		serialization: serializeRaw,
		compression:   comp,
		sequence:      sequence,
		payload:       body,
	}
	switch {
	case last && sequence != 0:
		f.flags = flagNegativeSequence
		f.sequence = -sequence
	case last:
		f.flags = flagLastNoSequence
	case sequence > 0:
		f.flags = flagPositiveSequence
	default:
		f.flags = flagNoSequence
	}
	return f, nil
}

func eventOmitsSession(e eventType) bool {
	switch e {
	case eventStartConnection, eventFinishConnection,
		eventConnectionStarted, eventConnectionFailed, eventConnectionFinished:
		return true
	}
	return false
}

func eventCarriesConnect(e eventType) bool {
	switch e {
	case eventConnectionStarted, eventConnectionFailed, eventConnectionFinished:
		return true
	}
	return false
}

func compress(data []byte, method compression) ([]byte, error) {
	switch method {
	case compressNone:
		return data, nil
	case compressGzip:
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			zw.Close()
			return nil, fmt.Errorf("gzip write: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("gzip close: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported compression method %d", method)
	}
}

func decompress(data []byte, method compression) ([]byte, error) {
	switch method {
	case compressNone:
		return data, nil
	case compressGzip:
		if len(data) == 0 {
			return nil, nil
		}
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("gzip read: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported compression method %d", method)
	}
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeSized(buf *bytes.Buffer, s string) {
	writeUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func readUint32(r *bytes.Reader, field string) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("read %s: %w", field, err)
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readSized(r *bytes.Reader, field string) (string, error) {
	n, err := readUint32(r, field+" size")
	if err != nil {
		return "", err
	}
	if int(n) > r.Len() {
		return "", fmt.Errorf("read %s: %w", field, io.ErrUnexpectedEOF)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("read %s: %w", field, err)
	}
	return string(b), nil
}
