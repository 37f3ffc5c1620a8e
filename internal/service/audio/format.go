// Package audio 负责上传音频的格式识别、校验与能量特征提取。
package audio

import (
	"bytes"
	"strings"
)

// 支持的容器格式
const (
	FormatWAV  = "wav"
	FormatMP3  = "mp3"
	FormatM4A  = "m4a"
	FormatMP4  = "mp4"
	FormatWEBM = "webm"
)

var contentTypes = map[string]string{
	FormatWAV:  "audio/wav",
	FormatMP3:  "audio/mpeg",
	FormatM4A:  "audio/mp4",
	FormatMP4:  "audio/mp4",
	FormatWEBM: "audio/webm",
}

// ContentType 返回格式对应的 MIME 类型。
func ContentType(format string) string {
	if ct, ok := contentTypes[NormalizeFormat(format)]; ok {
		return ct
	}
	return "application/octet-stream"
}

// NormalizeFormat 统一格式写法："WAV"、".wav"、"audio/wav" 均得到 "wav"。
func NormalizeFormat(format string) string {
	f := strings.ToLower(strings.TrimSpace(format))
	f = strings.TrimPrefix(f, ".")
	if i := strings.LastIndex(f, "/"); i >= 0 {
		f = f[i+1:]
	}
	switch f {
	case "x-wav", "wave", "vnd.wave":
		return FormatWAV
	case "mpeg", "mpeg3", "x-mpeg-3":
		return FormatMP3
	case "x-m4a":
		return FormatM4A
	}
	return f
}

// FormatFromFilename 依据扩展名推断格式。
func FormatFromFilename(name string) string {
	i := strings.LastIndex(name, ".")
	if i < 0 || i == len(name)-1 {
		return ""
	}
	return NormalizeFormat(name[i+1:])
}

var (
	riffMagic = []byte("RIFF")
	waveMagic = []byte("WAVE")
	id3Magic  = []byte("ID3")
	ftypMagic = []byte("ftyp")
	ebmlMagic = []byte{0x1A, 0x45, 0xDF, 0xA3}
)

// DetectFormat 通过文件头识别容器格式，无法识别时返回空串。
// m4a 与 mp4 共用 ftyp 头，按 brand 区分。
func DetectFormat(data []byte) string {
	switch {
	case len(data) >= 12 && bytes.Equal(data[:4], riffMagic) && bytes.Equal(data[8:12], waveMagic):
		return FormatWAV
	case len(data) >= 4 && bytes.Equal(data[:4], ebmlMagic):
		return FormatWEBM
	case len(data) >= 12 && bytes.Equal(data[4:8], ftypMagic):
		brand := string(data[8:12])
		if strings.HasPrefix(brand, "M4A") {
			return FormatM4A
		}
		return FormatMP4
	case len(data) >= 3 && bytes.Equal(data[:3], id3Magic):
		return FormatMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		// MPEG 帧同步字
		return FormatMP3
	}
	return ""
}

// matchesContainer 判断数据是否与声明的格式一致。m4a/mp4 互相兼容。
func matchesContainer(format string, data []byte) bool {
	detected := DetectFormat(data)
	switch format {
	case FormatM4A, FormatMP4:
		return detected == FormatM4A || detected == FormatMP4
	default:
		return detected == format
	}
}
