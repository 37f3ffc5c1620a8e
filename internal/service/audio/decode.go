package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// SilenceThreshold 归一化后绝对值低于此值的采样视为静音。
const SilenceThreshold = 0.01

const pcmChunkSize = 4096

var errNoSamples = errors.New("audio contains no samples")

// sampleSink 逐块接收归一化到 [-1, 1] 的采样。
type sampleSink struct {
	sumSquares float64
	silent     int
	total      int
}

func (s *sampleSink) add(v float64) {
	s.sumSquares += v * v
	if math.Abs(v) < SilenceThreshold {
		s.silent++
	}
	s.total++
}

func (s *sampleSink) features() Features {
	if s.total == 0 {
		return Features{RMSEnergy: 0, SilenceRatio: 1}
	}
	return Features{
		RMSEnergy:    math.Sqrt(s.sumSquares / float64(s.total)),
		SilenceRatio: float64(s.silent) / float64(s.total),
		Known:        true,
	}
}

// decoded 是一次完整解码的结果。
type decoded struct {
	duration time.Duration
	features Features
}

// decode 按格式解码；sink 为 nil 时只计算时长。
// 解码库在畸形输入上可能 panic，这里统一转成错误。
func decode(format string, data []byte, sink *sampleSink) (dec *decoded, err error) {
	defer func() {
		if r := recover(); r != nil {
			dec, err = nil, fmt.Errorf("%s decoder panic: %v", format, r)
		}
	}()
	switch format {
	case FormatWAV:
		return decodeWAV(data, sink)
	case FormatMP3:
		return decodeMP3(data, sink)
	default:
		return nil, fmt.Errorf("no decoder for %s", format)
	}
}

// decodeWAV 解码 PCM WAV；sink 为 nil 时只读取头部时长。
func decodeWAV(data []byte, sink *sampleSink) (*decoded, error) {
	if err := checkWAVHeader(data); err != nil {
		return nil, err
	}
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("invalid wav header")
	}
	if err := dec.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("seek wav pcm: %w", err)
	}

	channels := int(dec.NumChans)
	sampleRate := int(dec.SampleRate)
	bitDepth := int(dec.BitDepth)
	if channels <= 0 || sampleRate <= 0 || bitDepth <= 0 {
		return nil, fmt.Errorf("invalid wav format: channels=%d rate=%d depth=%d", channels, sampleRate, bitDepth)
	}

	scale := math.Pow(2, float64(bitDepth-1))
	buf := &goaudio.IntBuffer{
		Data:           make([]int, pcmChunkSize),
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		SourceBitDepth: bitDepth,
	}

	samples := 0
	for {
		n, err := dec.PCMBuffer(buf)
		if err != nil {
			return nil, fmt.Errorf("read wav pcm: %w", err)
		}
		if n == 0 {
			break
		}
		samples += n
		if sink == nil {
			continue
		}
		for _, raw := range buf.Data[:n] {
			v := float64(raw)
			if bitDepth == 8 {
				// 8 位 WAV 为无符号采样
				v -= 128
			}
			sink.add(clamp(v/scale, -1, 1))
		}
	}
	if samples == 0 {
		return nil, errNoSamples
	}

	frames := samples / channels
	out := &decoded{duration: framesToDuration(frames, sampleRate)}
	if sink != nil {
		out.features = sink.features()
	}
	return out, nil
}

// decodeMP3 解码 MP3；go-mp3 固定输出 16 位双声道小端 PCM。
func decodeMP3(data []byte, sink *sampleSink) (*decoded, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open mp3 stream: %w", err)
	}
	sampleRate := dec.SampleRate()
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid mp3 sample rate %d", sampleRate)
	}

	const bytesPerFrame = 4
	if sink == nil {
		length := dec.Length()
		if length <= 0 {
			return nil, errNoSamples
		}
		return &decoded{duration: framesToDuration(int(length/bytesPerFrame), sampleRate)}, nil
	}

	chunk := make([]byte, pcmChunkSize*bytesPerFrame)
	var pending []byte
	totalBytes := 0
	for {
		n, readErr := dec.Read(chunk)
		if n > 0 {
			pending = append(pending, chunk[:n]...)
			usable := len(pending) - len(pending)%2
			for i := 0; i < usable; i += 2 {
				v := int16(binary.LittleEndian.Uint16(pending[i : i+2]))
				sink.add(float64(v) / 32768)
			}
			pending = append(pending[:0], pending[usable:]...)
			totalBytes += n
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("read mp3 pcm: %w", readErr)
		}
	}
	if totalBytes == 0 {
		return nil, errNoSamples
	}

	return &decoded{
		duration: framesToDuration(totalBytes/bytesPerFrame, sampleRate),
		features: sink.features(),
	}, nil
}

func framesToDuration(frames, sampleRate int) time.Duration {
	return time.Duration(float64(frames) / float64(sampleRate) * float64(time.Second))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
