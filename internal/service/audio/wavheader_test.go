package audio

import (
	"bytes"
	"encoding/binary"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/NicolasHurtado/Voice-gpt-agent/internal/apperror"
)

// wavWithFmt 写出给定 fmt 字段与声明长度的 WAV，实际数据只有 payload。
func wavWithFmt(encoding uint16, riffSize, fmtSize, dataSize uint32, payload []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, riffSize)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, fmtSize)
	_ = binary.Write(&buf, binary.LittleEndian, encoding)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16000))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(32000))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, dataSize)
	buf.Write(payload)
	return buf.Bytes()
}

func allocatedDuring(fn func()) uint64 {
	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	fn()
	runtime.ReadMemStats(&after)
	return after.TotalAlloc - before.TotalAlloc
}

func TestNonPCMWAVIsRejectedWithoutLargeAllocation(t *testing.T) {
	// 144 字节、编码 0x0128 的头部曾让解码器分配上 GB 内存
	data := wavWithFmt(0x0128, 0x3ea4, 16, 0x3e80, make([]byte, 100))
	require.Len(t, data, 144)

	v := testValidator()
	var err error
	allocated := allocatedDuring(func() { _, err = v.Validate(data, "wav") })
	requireCode(t, err, apperror.CodeAudioDecode)
	assert.Less(t, allocated, uint64(16<<20), "validation allocated %d bytes", allocated)

	var features Features
	allocated = allocatedDuring(func() { features = Analyze(data, "wav") })
	assert.Equal(t, UnknownFeatures(), features)
	assert.Less(t, allocated, uint64(16<<20), "analysis allocated %d bytes", allocated)
}

func TestCheckWAVHeader(t *testing.T) {
	payload := make([]byte, 64)
	tests := []struct {
		name string
		data []byte
		ok   bool
	}{
		{"pcm", wavWithFmt(wavFormatPCM, 100, 16, 64, payload), true},
		{"extensible", wavWithFmt(wavFormatExtensible, 100, 16, 64, payload), true},
		{"float encoding", wavWithFmt(0x0003, 100, 16, 64, payload), false},
		{"data size beyond input", wavWithFmt(wavFormatPCM, 100, 16, 0x7fffffff, payload), false},
		{"fmt size beyond input", wavWithFmt(wavFormatPCM, 100, 0x10000000, 64, payload), false},
		{"fmt too short", wavWithFmt(wavFormatPCM, 100, 8, 64, payload), false},
		{"not riff", []byte("RIFX0000WAVEfmt "), false},
		{"truncated", wavWithFmt(wavFormatPCM, 100, 16, 64, payload)[:30], false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkWAVHeader(tt.data)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestDecodeTurnsPanicsIntoErrors(t *testing.T) {
	dec, err := decode("wav", nil, nil)
	assert.Nil(t, dec)
	assert.Error(t, err)

	// 以帧同步字开头的随机数据不能让校验或分析崩溃
	v := testValidator()
	rapid.Check(t, func(t *rapid.T) {
		body := rapid.SliceOfN(rapid.Byte(), 0, 2048).Draw(t, "body")
		data := append([]byte{0xFF, 0xFB}, body...)
		_, err := v.Validate(data, "mp3")
		if err != nil && !apperror.Is(err, apperror.KindAudioValidation) {
			t.Fatalf("unexpected error kind: %v", err)
		}
		Analyze(data, "mp3")
	})
}
