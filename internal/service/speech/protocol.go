package speech

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// 火山引擎语音 WebSocket 二进制帧：4 字节头 + 可选序号/事件 + 4 字节长度 + 负载。

const frameProtocolVersion = 0b0001

// MessageType 帧类型
type MessageType uint8

const (
	FullClientRequest       MessageType = 0b0001
	AudioOnlyRequest        MessageType = 0b0010
	FullServerResponse      MessageType = 0b1001
	AudioOnlyServerResponse MessageType = 0b1011
	ErrorMessage            MessageType = 0b1111
)

// MessageFlags 帧标志位；低两位描述序号，0b0100 表示携带事件。
type MessageFlags uint8

const (
	NoSequenceNumber       MessageFlags = 0b0000
	PositiveSequenceNumber MessageFlags = 0b0001
	LastPacketNoSequence   MessageFlags = 0b0010
	NegativeSequenceNumber MessageFlags = 0b0011
	WithEvent              MessageFlags = 0b0100

	sequenceMask MessageFlags = 0b0011
)

// EventType 服务端事件
type EventType int32

const (
	EventTypeNone               EventType = 0
	EventTypeStartConnection    EventType = 1
	EventTypeFinishConnection   EventType = 2
	EventTypeConnectionStarted  EventType = 50
	EventTypeConnectionFailed   EventType = 51
	EventTypeConnectionFinished EventType = 52
	EventTypeSessionStarted     EventType = 150
	EventTypeSessionFinished    EventType = 152
	EventTypeSessionFailed      EventType = 153
)

// SerializationMethod 负载序列化方式
type SerializationMethod uint8

const (
	NoSerialization   SerializationMethod = 0b0000
	JSONSerialization SerializationMethod = 0b0001
)

// CompressionMethod 负载压缩方式
type CompressionMethod uint8

const (
	NoCompression   CompressionMethod = 0b0000
	GzipCompression CompressionMethod = 0b0001
)

// FrameHeader 帧头
type FrameHeader struct {
	Version       uint8
	Size          uint8 // 以 4 字节为单位
	Type          MessageType
	Flags         MessageFlags
	Serialization SerializationMethod
	Compression   CompressionMethod
}

// Frame 一个完整的协议帧
type Frame struct {
	Header    FrameHeader
	Sequence  int32
	Event     EventType
	SessionID string
	ConnectID string
	ErrorCode uint32
	Payload   []byte
}

func newFrameHeader(t MessageType, flags MessageFlags, ser SerializationMethod, comp CompressionMethod) FrameHeader {
	return FrameHeader{
		Version:       frameProtocolVersion,
		Size:          1,
		Type:          t,
		Flags:         flags,
		Serialization: ser,
		Compression:   comp,
	}
}

func (h FrameHeader) bytes() []byte {
	return []byte{
		h.Version<<4 | h.Size,
		uint8(h.Type)<<4 | uint8(h.Flags),
		uint8(h.Serialization)<<4 | uint8(h.Compression),
		0,
	}
}

func parseFrameHeader(b []byte) (FrameHeader, error) {
	if len(b) < 4 {
		return FrameHeader{}, fmt.Errorf("frame header too short: %d bytes", len(b))
	}
	h := FrameHeader{
		Version:       b[0] >> 4,
		Size:          b[0] & 0x0F,
		Type:          MessageType(b[1] >> 4),
		Flags:         MessageFlags(b[1] & 0x0F),
		Serialization: SerializationMethod(b[2] >> 4),
		Compression:   CompressionMethod(b[2] & 0x0F),
	}
	if h.Version != frameProtocolVersion {
		return FrameHeader{}, fmt.Errorf("unsupported frame protocol version %d", h.Version)
	}
	return h, nil
}

func (f *Frame) hasSequence() bool {
	s := f.Header.Flags & sequenceMask
	return s == PositiveSequenceNumber || s == NegativeSequenceNumber
}

func (f *Frame) hasEvent() bool {
	return f.Header.Flags&WithEvent != 0
}

// IsLast 报告是否为最后一帧。
func (f *Frame) IsLast() bool {
	s := f.Header.Flags & sequenceMask
	return s == LastPacketNoSequence || s == NegativeSequenceNumber
}

// connection 级事件不带 session id
func eventCarriesSession(e EventType) bool {
	switch e {
	case EventTypeStartConnection, EventTypeFinishConnection,
		EventTypeConnectionStarted, EventTypeConnectionFailed, EventTypeConnectionFinished:
		return false
	}
	return true
}

func eventCarriesConnect(e EventType) bool {
	switch e {
	case EventTypeConnectionStarted, EventTypeConnectionFailed, EventTypeConnectionFinished:
		return true
	}
	return false
}

// MarshalBinary 编码为线上格式。
func (f *Frame) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(f.Header.bytes())

	put := func(v uint32) {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], v)
		buf.Write(b[:])
	}
	putString := func(s string) {
		put(uint32(len(s)))
		buf.WriteString(s)
	}

	if f.hasSequence() {
		put(uint32(f.Sequence))
	}
	if f.hasEvent() {
		put(uint32(f.Event))
		if eventCarriesSession(f.Event) {
			putString(f.SessionID)
		}
		if eventCarriesConnect(f.Event) {
			putString(f.ConnectID)
		}
	}
	if f.Header.Type == ErrorMessage {
		put(f.ErrorCode)
	}
	put(uint32(len(f.Payload)))
	buf.Write(f.Payload)
	return buf.Bytes(), nil
}

// ReadFrame 从 r 解码一帧。
func ReadFrame(r io.Reader) (*Frame, error) {
	var head [4]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, fmt.Errorf("read frame header: %w", err)
	}
	h, err := parseFrameHeader(head[:])
	if err != nil {
		return nil, err
	}
	if ext := int(h.Size)*4 - 4; ext > 0 {
		if _, err := io.CopyN(io.Discard, r, int64(ext)); err != nil {
			return nil, fmt.Errorf("read extended header: %w", err)
		}
	}

	f := &Frame{Header: h}
	u32 := func(field string) (uint32, error) {
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, fmt.Errorf("read %s: %w", field, err)
		}
		return binary.BigEndian.Uint32(b[:]), nil
	}
	str := func(field string) (string, error) {
		n, err := u32(field + " size")
		if err != nil || n == 0 {
			return "", err
		}
		b := make([]byte, n)
		if _, err := io.ReadFull(r, b); err != nil {
			return "", fmt.Errorf("read %s: %w", field, err)
		}
		return string(b), nil
	}

	if f.hasSequence() {
		v, err := u32("sequence")
		if err != nil {
			return nil, err
		}
		f.Sequence = int32(v)
	}
	if f.hasEvent() {
		v, err := u32("event")
		if err != nil {
			return nil, err
		}
		f.Event = EventType(int32(v))
		if eventCarriesSession(f.Event) {
			if f.SessionID, err = str("session id"); err != nil {
				return nil, err
			}
		}
		if eventCarriesConnect(f.Event) {
			if f.ConnectID, err = str("connect id"); err != nil {
				return nil, err
			}
		}
	}
	if h.Type == ErrorMessage {
		if f.ErrorCode, err = u32("error code"); err != nil {
			return nil, err
		}
	}

	size, err := u32("payload size")
	if err != nil {
		return nil, err
	}
	if size > 0 {
		f.Payload = make([]byte, size)
		if _, err := io.ReadFull(r, f.Payload); err != nil {
			return nil, fmt.Errorf("read payload (%d bytes): %w", size, err)
		}
	}
	return f, nil
}

// newRequestFrame 构造携带 JSON 参数的客户端请求帧。
func newRequestFrame(payload []byte, comp CompressionMethod) *Frame {
	return &Frame{
		Header:  newFrameHeader(FullClientRequest, NoSequenceNumber, JSONSerialization, comp),
		Payload: payload,
	}
}

// newAudioFrame 构造音频帧；最后一帧序号取负。
func newAudioFrame(chunk []byte, seq int32, last bool, comp CompressionMethod) *Frame {
	flags := PositiveSequenceNumber
	switch {
	case last && seq != 0:
		flags = NegativeSequenceNumber
		seq = -seq
	case last:
		flags = LastPacketNoSequence
	case seq <= 0:
		flags = NoSequenceNumber
	}
	return &Frame{
		Header:   newFrameHeader(AudioOnlyRequest, flags, NoSerialization, comp),
		Sequence: seq,
		Payload:  chunk,
	}
}
