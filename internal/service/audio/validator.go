package audio

import (
	"fmt"
	"strings"
	"time"

	"github.com/NicolasHurtado/Voice-gpt-agent/internal/apperror"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/config"
)

// Features 是用于置信度估计的能量特征。Known 为 false 表示无法解码为 PCM。
type Features struct {
	RMSEnergy    float64
	SilenceRatio float64
	Known        bool
}

// Info 为通过校验的音频描述。Duration 为 nil 表示该容器无法测量时长。
type Info struct {
	Format   string
	Size     int
	Duration *time.Duration
}

// Validator 按配置的格式、大小与时长上限校验音频。
type Validator struct {
	formats     map[string]struct{}
	ordered     []string
	maxBytes    int64
	maxDuration time.Duration
}

// NewValidator 依据配置创建校验器。
func NewValidator(cfg config.AudioConfig) *Validator {
	v := &Validator{
		formats:     make(map[string]struct{}, len(cfg.SupportedFormats)),
		maxBytes:    cfg.MaxFileSizeBytes(),
		maxDuration: cfg.MaxDuration(),
	}
	for _, f := range cfg.SupportedFormats {
		f = NormalizeFormat(f)
		if _, dup := v.formats[f]; dup || f == "" {
			continue
		}
		v.formats[f] = struct{}{}
		v.ordered = append(v.ordered, f)
	}
	return v
}

// SupportedFormats 返回允许的格式列表。
func (v *Validator) SupportedFormats() []string {
	return append([]string(nil), v.ordered...)
}

// MaxBytes 返回字节上限。
func (v *Validator) MaxBytes() int64 {
	return v.maxBytes
}

// Validate 依次检查格式、大小、可解码性与时长。
// format 为空时按文件头识别。
func (v *Validator) Validate(data []byte, format string) (*Info, error) {
	format = NormalizeFormat(format)
	if format == "" {
		format = DetectFormat(data)
	}
	if _, ok := v.formats[format]; !ok {
		return nil, apperror.AudioValidation(apperror.CodeUnsupportedFormat,
			fmt.Sprintf("unsupported audio format %q, supported: %s", format, strings.Join(v.ordered, ", ")))
	}

	if int64(len(data)) > v.maxBytes {
		return nil, apperror.AudioValidation(apperror.CodeFileTooLarge,
			fmt.Sprintf("audio is %d bytes, limit is %d bytes", len(data), v.maxBytes))
	}
	if len(data) == 0 {
		return nil, apperror.AudioValidation(apperror.CodeAudioDecode, "audio is empty")
	}

	info := &Info{Format: format, Size: len(data)}

	var (
		dec *decoded
		err error
	)
	switch format {
	case FormatWAV, FormatMP3:
		dec, err = decode(format, data, nil)
	default:
		if !matchesContainer(format, data) {
			err = fmt.Errorf("payload is not a %s container", format)
		}
	}
	if err != nil {
		return nil, apperror.Wrap(apperror.KindAudioValidation, apperror.CodeAudioDecode,
			fmt.Sprintf("cannot decode %s audio", format), err)
	}

	if dec != nil {
		d := dec.duration
		info.Duration = &d
		if d > v.maxDuration {
			return nil, apperror.AudioValidation(apperror.CodeDurationExceeded,
				fmt.Sprintf("audio lasts %.1fs, limit is %.0fs", d.Seconds(), v.maxDuration.Seconds()))
		}
	}
	return info, nil
}

// Analyze 计算 RMS 能量与静音占比；无法解码时返回 Known=false 的默认特征。
func Analyze(data []byte, format string) Features {
	format = NormalizeFormat(format)
	if format == "" {
		format = DetectFormat(data)
	}

	if format != FormatWAV && format != FormatMP3 {
		return UnknownFeatures()
	}
	dec, err := decode(format, data, &sampleSink{})
	if err != nil || dec == nil {
		return UnknownFeatures()
	}
	return dec.features
}

// UnknownFeatures 表示无法提取特征：能量按 0、静音按 1 计。
func UnknownFeatures() Features {
	return Features{RMSEnergy: 0, SilenceRatio: 1}
}
