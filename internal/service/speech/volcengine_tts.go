package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	speechmodel "github.com/NicolasHurtado/Voice-gpt-agent/internal/model/speech"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/service/audio"
)

const (
	defaultTTSURL = "wss://openspeech.bytedance.com/api/v3/tts/unidirectional/stream"

	ttsResourceDefault = "volc.service_type.10029"
	ttsResourceMega    = "volc.megatts.default"
	ttsResourceSeed    = "seed-tts-2.0"

	ttsCodeOK       = 0
	ttsCodeFinished = 3000
)

// 枚举声音到火山引擎音色的映射
var volcSpeakers = map[string]string{
	"alloy":   "zh_female_vv_uranus_bigtts",
	"echo":    "zh_male_M392_conversation_wvae_bigtts",
	"fable":   "en_female_amy_jupiter_bigtts",
	"onyx":    "zh_male_M392_conversation_wvae_bigtts",
	"nova":    "zh_female_vv_venus_bigtts",
	"shimmer": "zh_female_vv_uranus_bigtts",
}

var errResourceMismatch = errors.New("resource id mismatched with speaker")

// VolcengineTTS 火山引擎单向流式合成客户端。
type VolcengineTTS struct {
	cfg    speechmodel.VolcengineConfig
	dialer *websocket.Dialer
	logger *zap.Logger
}

// NewVolcengineTTS 创建合成客户端。
func NewVolcengineTTS(cfg speechmodel.VolcengineConfig, logger *zap.Logger) *VolcengineTTS {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VolcengineTTS{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: 30 * time.Second},
		logger: logger.Named("volc-tts"),
	}
}

// Name 实现 Synthesizer。
func (c *VolcengineTTS) Name() string { return "volcengine" }

type ttsRequestPayload struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	ReqParams struct {
		Speaker     string         `json:"speaker"`
		Text        string         `json:"text"`
		AudioParams ttsAudioParams `json:"audio_params"`
		Additions   string         `json:"additions,omitempty"`
		Language    string         `json:"language,omitempty"`
	} `json:"req_params"`
}

type ttsAudioParams struct {
	Format          string  `json:"format"`
	SampleRate      int     `json:"sample_rate"`
	EnableTimestamp bool    `json:"enable_timestamp"`
	SpeedRatio      float64 `json:"speed_ratio,omitempty"`
}

type ttsServerPayload struct {
	ReqID    string `json:"reqid"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Data     string `json:"data"`
	Addition struct {
		Duration string `json:"duration,omitempty"` // 毫秒
	} `json:"addition"`
}

// Synthesize 依次尝试候选音色与资源 ID，资源不匹配时换下一个。
func (c *VolcengineTTS) Synthesize(ctx context.Context, req *speechmodel.SynthesisRequest) (*speechmodel.SynthesisResult, error) {
	appID, token, err := resolveCredentials(c.cfg)
	if err != nil {
		return nil, err
	}

	speakers := speakerCandidates(req.Voice, c.cfg.TTSVoice)
	var lastErr error
	for _, speaker := range speakers {
		for _, resourceID := range resourceCandidates(speaker) {
			res, err := c.synthesizeOnce(ctx, req, appID, token, speaker, resourceID)
			if err == nil {
				res.Voice = req.Voice
				return res, nil
			}
			if !errors.Is(err, errResourceMismatch) {
				return nil, err
			}
			c.logger.Info("tts resource mismatch, trying next candidate",
				zap.String("speaker", speaker), zap.String("resource", resourceID))
			lastErr = err
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no speaker candidates for voice %q", req.Voice)
	}
	return nil, lastErr
}

func (c *VolcengineTTS) url() string {
	if c.cfg.TTSURL != "" {
		return c.cfg.TTSURL
	}
	return defaultTTSURL
}

func (c *VolcengineTTS) synthesizeOnce(ctx context.Context, req *speechmodel.SynthesisRequest, appID, token, speaker, resourceID string) (*speechmodel.SynthesisResult, error) {
	connectID := uuid.NewString()
	header := http.Header{}
	header.Set("X-Api-App-Key", appID)
	header.Set("X-Api-Access-Key", token)
	header.Set("X-Api-Resource-Id", resourceID)
	header.Set("X-Api-Connect-Id", connectID)

	conn, resp, err := c.dialer.DialContext(ctx, c.url(), header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("volcengine tts handshake: %w", errThrottled)
		}
		return nil, fmt.Errorf("volcengine tts dial: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}

	payload, err := json.Marshal(c.buildRequest(req, speaker))
	if err != nil {
		return nil, fmt.Errorf("marshal tts request: %w", err)
	}
	if err := writeFrame(conn, newRequestFrame, payload, NoCompression); err != nil {
		return nil, fmt.Errorf("send tts request: %w", err)
	}

	var (
		buf        bytes.Buffer
		reqID      string
		durationMS int64
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("read tts response: %w", err)
		}
		frame, err := ReadFrame(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode tts frame: %w", err)
		}

		switch frame.Header.Type {
		case ErrorMessage:
			body, _ := decompressPayload(frame.Payload, frame.Header.Compression)
			return nil, ttsError(int(frame.ErrorCode), string(body))

		case AudioOnlyServerResponse:
			chunk, err := decompressPayload(frame.Payload, frame.Header.Compression)
			if err != nil {
				return nil, fmt.Errorf("decompress tts audio: %w", err)
			}
			buf.Write(chunk)

		case FullServerResponse:
			body, err := decompressPayload(frame.Payload, frame.Header.Compression)
			if err != nil {
				return nil, fmt.Errorf("decompress tts payload: %w", err)
			}
			var msg ttsServerPayload
			if len(body) > 0 {
				if err := json.Unmarshal(body, &msg); err != nil {
					c.logger.Warn("skip unparsable tts payload", zap.Error(err))
				} else {
					if msg.Code != ttsCodeOK && msg.Code != ttsCodeFinished {
						return nil, ttsError(msg.Code, msg.Message)
					}
					if msg.ReqID != "" {
						reqID = msg.ReqID
					}
					if ms, err := strconv.ParseInt(msg.Addition.Duration, 10, 64); err == nil && ms > 0 {
						durationMS = ms
					}
					if msg.Data != "" {
						chunk, err := base64.StdEncoding.DecodeString(msg.Data)
						if err != nil {
							return nil, fmt.Errorf("decode tts audio chunk: %w", err)
						}
						buf.Write(chunk)
					}
				}
			}

			finished := frame.hasEvent() && frame.Event == EventTypeSessionFinished
			if finished || frame.IsLast() || msg.Sequence < 0 {
				if buf.Len() == 0 {
					return nil, fmt.Errorf("volcengine tts returned no audio")
				}
				if reqID == "" {
					reqID = connectID
				}
				out := &speechmodel.SynthesisResult{
					Audio:       buf.Bytes(),
					Format:      audio.FormatMP3,
					ContentType: audio.ContentType(audio.FormatMP3),
					RequestID:   reqID,
				}
				if durationMS > 0 {
					secs := float64(durationMS) / 1000
					out.Duration = &secs
				}
				return out, nil
			}
		}
	}
}

func (c *VolcengineTTS) buildRequest(req *speechmodel.SynthesisRequest, speaker string) *ttsRequestPayload {
	p := &ttsRequestPayload{}
	p.User.UID = strings.TrimSpace(req.SessionID)
	if p.User.UID == "" {
		p.User.UID = uuid.NewString()
	}
	p.ReqParams.Speaker = speaker
	p.ReqParams.Text = req.Text
	p.ReqParams.AudioParams = ttsAudioParams{
		Format:          audio.FormatMP3,
		SampleRate:      24000,
		EnableTimestamp: true,
	}
	if req.Speed > 0 && req.Speed != 1 {
		p.ReqParams.AudioParams.SpeedRatio = req.Speed
	}
	p.ReqParams.Language = strings.TrimSpace(req.Language)
	if p.ReqParams.Language == "" {
		p.ReqParams.Language = c.cfg.TTSLanguage
	}
	p.ReqParams.Additions = `{"disable_markdown_filter":false}`
	return p
}

func ttsError(code int, message string) error {
	switch {
	case strings.Contains(message, "resource ID is mismatched"):
		return fmt.Errorf("volcengine tts %d: %s: %w", code, message, errResourceMismatch)
	case code == http.StatusTooManyRequests || strings.Contains(strings.ToLower(message), "quota"):
		return fmt.Errorf("volcengine tts %d: %s: %w", code, message, errThrottled)
	default:
		return fmt.Errorf("volcengine tts %d: %s", code, message)
	}
}

// resourceCandidates 按音色推断资源 ID 的尝试顺序。
func resourceCandidates(speaker string) []string {
	speaker = strings.TrimSpace(speaker)
	if strings.HasPrefix(speaker, "S_") {
		return []string{ttsResourceMega}
	}
	lower := strings.ToLower(speaker)
	for _, hint := range []string{"bigtts", "seed", "megatts", "uranus", "venus", "jupiter", "mars"} {
		if strings.Contains(lower, hint) {
			return []string{ttsResourceSeed, ttsResourceDefault}
		}
	}
	return []string{ttsResourceDefault, ttsResourceSeed}
}

// speakerCandidates 把请求的声音映射为火山音色，配置的默认音色作为兜底。
func speakerCandidates(voice, fallback string) []string {
	var out []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if mapped, ok := volcSpeakers[strings.ToLower(s)]; ok {
			s = mapped
		}
		for _, existing := range out {
			if strings.EqualFold(existing, s) {
				return
			}
		}
		out = append(out, s)
	}
	add(voice)
	add(fallback)
	return out
}
