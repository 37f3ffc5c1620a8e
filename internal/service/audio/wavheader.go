package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/riff"
)

const (
	wavFormatPCM        = 0x0001
	wavFormatExtensible = 0xFFFE
	fmtChunkMinSize     = 16
)

// checkWAVHeader 在交给解码器之前遍历 RIFF 块：块长度不能超出输入，
// fmt 必须出现在 data 之前且为 PCM 或 extensible 编码。
func checkWAVHeader(data []byte) error {
	p := riff.New(bytes.NewReader(data))
	if err := p.ParseHeaders(); err != nil {
		return fmt.Errorf("invalid riff header: %w", err)
	}

	offset := 12
	seenFmt := false
	for {
		ch, err := p.NextChunk()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return errors.New("wav has no data chunk")
			}
			return fmt.Errorf("read riff chunk: %w", err)
		}
		offset += 8
		if ch.Size < 0 || ch.Size > len(data) {
			return fmt.Errorf("chunk %q declares %d bytes, input has %d", ch.ID[:], ch.Size, len(data))
		}

		switch ch.ID {
		case riff.DataFormatID:
			if !seenFmt {
				return errors.New("wav data chunk precedes fmt chunk")
			}
			return nil
		case riff.FmtID:
			if err := checkFmtChunk(ch.R, ch.Size); err != nil {
				return err
			}
			seenFmt = true
		}

		// data 以外的块必须完整落在输入内
		if ch.Size > len(data)-offset {
			return fmt.Errorf("chunk %q declares %d bytes, only %d remain", ch.ID[:], ch.Size, len(data)-offset)
		}
		skip := ch.Size
		if ch.ID == riff.FmtID {
			skip -= fmtChunkMinSize
		}
		if _, err := io.CopyN(io.Discard, ch.R, int64(skip)); err != nil {
			return fmt.Errorf("skip chunk %q: %w", ch.ID[:], err)
		}
		offset += ch.Size
	}
}

func checkFmtChunk(r io.Reader, size int) error {
	if size < fmtChunkMinSize {
		return fmt.Errorf("wav fmt chunk too short: %d bytes", size)
	}
	var hdr [fmtChunkMinSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return fmt.Errorf("read wav fmt chunk: %w", err)
	}
	format := binary.LittleEndian.Uint16(hdr[0:2])
	channels := binary.LittleEndian.Uint16(hdr[2:4])
	sampleRate := binary.LittleEndian.Uint32(hdr[4:8])
	bitDepth := binary.LittleEndian.Uint16(hdr[14:16])

	if format != wavFormatPCM && format != wavFormatExtensible {
		return fmt.Errorf("unsupported wav encoding 0x%04x", format)
	}
	if channels == 0 || channels > 8 {
		return fmt.Errorf("unsupported wav channel count %d", channels)
	}
	if sampleRate == 0 || sampleRate > 384000 {
		return fmt.Errorf("unsupported wav sample rate %d", sampleRate)
	}
	switch bitDepth {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("unsupported wav bit depth %d", bitDepth)
	}
	return nil
}
