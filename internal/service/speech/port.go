package speech

import (
	"context"
	"errors"
	"net/http"

	oai "github.com/openai/openai-go"

	"github.com/NicolasHurtado/Voice-gpt-agent/internal/apperror"
	speechmodel "github.com/NicolasHurtado/Voice-gpt-agent/internal/model/speech"
)

// Transcriber 把音频转为文本。
type Transcriber interface {
	Transcribe(ctx context.Context, req *speechmodel.TranscriptionRequest) (*speechmodel.Transcript, error)
	Name() string
}

// Synthesizer 把文本合成为音频。
type Synthesizer interface {
	Synthesize(ctx context.Context, req *speechmodel.SynthesisRequest) (*speechmodel.SynthesisResult, error)
	Name() string
}

// Pinger 由支持健康探测的后端实现。
type Pinger interface {
	Ping(ctx context.Context) error
}

// errThrottled 后端显式告知限流时返回。
var errThrottled = errors.New("upstream throttled the request")

// classify 把后端错误归入 kind，限流单独映射为 RateLimited。
func classify(err error, kind apperror.Kind, code apperror.Code, msg string) error {
	if err == nil {
		return nil
	}
	if _, ok := apperror.As(err); ok {
		return err
	}
	if isThrottled(err) {
		return apperror.RateLimited(msg+": upstream rate limit", err)
	}
	return apperror.Wrap(kind, code, msg, err)
}

func isThrottled(err error) bool {
	if errors.Is(err, errThrottled) {
		return true
	}
	var apiErr *oai.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}
