package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	speechmodel "github.com/NicolasHurtado/Voice-gpt-agent/internal/model/speech"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/service/audio"
)

const (
	defaultASRURL = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_nostream"

	asrResourceDuration   = "volc.bigasr.sauc.duration"
	asrResourceConcurrent = "volc.bigasr.sauc.concurrent"

	// 16kHz 16bit 单声道 200ms
	asrChunkBytes = 6400

	asrCodeOK        = 20000000
	asrCodeBusy      = 45000292
	asrCodeQuota     = 55000031
	asrFirstAudioSeq = 2
)

// VolcengineASR 火山引擎大模型流式识别客户端。
type VolcengineASR struct {
	cfg      speechmodel.VolcengineConfig
	dialer   *websocket.Dialer
	logger   *zap.Logger
	interval time.Duration
}

// NewVolcengineASR 创建识别客户端。
func NewVolcengineASR(cfg speechmodel.VolcengineConfig, logger *zap.Logger) *VolcengineASR {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VolcengineASR{
		cfg:      cfg,
		dialer:   &websocket.Dialer{HandshakeTimeout: 30 * time.Second},
		logger:   logger.Named("volc-asr"),
		interval: 200 * time.Millisecond,
	}
}

// Name 实现 Transcriber。
func (c *VolcengineASR) Name() string { return "volcengine" }

type asrRequestPayload struct {
	User struct {
		UID string `json:"uid,omitempty"`
	} `json:"user"`
	Audio struct {
		Language string `json:"language,omitempty"`
		Format   string `json:"format"`
		Codec    string `json:"codec,omitempty"`
		Rate     int    `json:"rate,omitempty"`
		Bits     int    `json:"bits,omitempty"`
		Channel  int    `json:"channel,omitempty"`
	} `json:"audio"`
	Request struct {
		ModelName      string `json:"model_name"`
		EnableITN      bool   `json:"enable_itn,omitempty"`
		EnablePunc     bool   `json:"enable_punc,omitempty"`
		ShowUtterances bool   `json:"show_utterances,omitempty"`
		ResultType     string `json:"result_type,omitempty"`
		EndWindowSize  int    `json:"end_window_size,omitempty"`
	} `json:"request"`
}

type asrUtterance struct {
	Text string `json:"text"`
}

type asrServerPayload struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Result   struct {
		Text       string         `json:"text"`
		Utterances []asrUtterance `json:"utterances,omitempty"`
	} `json:"result"`
	AudioInfo struct {
		Duration int64 `json:"duration"` // 毫秒
	} `json:"audio_info"`
}

// Transcribe 建立一次 WebSocket 会话，发送参数帧与分片音频，等待最终结果。
func (c *VolcengineASR) Transcribe(ctx context.Context, req *speechmodel.TranscriptionRequest) (*speechmodel.Transcript, error) {
	if len(req.Audio) == 0 {
		return nil, fmt.Errorf("volcengine asr: no audio data")
	}
	appID, token, err := resolveCredentials(c.cfg)
	if err != nil {
		return nil, err
	}

	connectID := uuid.NewString()
	header := http.Header{}
	header.Set("X-Api-App-Key", appID)
	header.Set("X-Api-Access-Key", token)
	header.Set("X-Api-Resource-Id", c.resourceID())
	header.Set("X-Api-Connect-Id", connectID)

	conn, resp, err := c.dialer.DialContext(ctx, c.url(), header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("volcengine asr handshake: %w", errThrottled)
		}
		return nil, fmt.Errorf("volcengine asr dial: %w", err)
	}
	defer conn.Close()

	logid := ""
	if resp != nil {
		logid = resp.Header.Get("X-Tt-Logid")
	}
	c.logger.Debug("asr connected", zap.String("connect_id", connectID), zap.String("logid", logid))

	payload, err := json.Marshal(c.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal asr request: %w", err)
	}
	if err := writeFrame(conn, newRequestFrame, payload, GzipCompression); err != nil {
		return nil, fmt.Errorf("send asr request: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type recvResult struct {
		transcript *speechmodel.Transcript
		err        error
	}
	recvCh := make(chan recvResult, 1)
	go func() {
		t, err := c.receive(ctx, conn)
		recvCh <- recvResult{t, err}
	}()

	sendCh := make(chan error, 1)
	go func() {
		sendCh <- c.sendAudio(ctx, conn, req.Audio)
	}()

	for {
		select {
		case err := <-sendCh:
			if err != nil {
				return nil, fmt.Errorf("send asr audio: %w", err)
			}
			sendCh = nil
		case r := <-recvCh:
			if r.err != nil {
				return nil, r.err
			}
			if r.transcript.RequestID == "" {
				r.transcript.RequestID = connectID
			}
			return r.transcript, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *VolcengineASR) url() string {
	if c.cfg.ASRURL != "" {
		return c.cfg.ASRURL
	}
	return defaultASRURL
}

func (c *VolcengineASR) resourceID() string {
	if c.cfg.ConcurrentMode {
		return asrResourceConcurrent
	}
	return asrResourceDuration
}

func (c *VolcengineASR) buildRequest(req *speechmodel.TranscriptionRequest) *asrRequestPayload {
	p := &asrRequestPayload{}
	p.User.UID = req.SessionID

	p.Audio.Format = audio.NormalizeFormat(req.Format)
	if p.Audio.Format == "" {
		p.Audio.Format = audio.FormatWAV
	}
	p.Audio.Language = strings.TrimSpace(req.Language)
	if p.Audio.Language == "" {
		p.Audio.Language = c.cfg.ASRLanguage
	}
	p.Audio.Codec = "raw"
	p.Audio.Rate = 16000
	p.Audio.Bits = 16
	p.Audio.Channel = 1

	p.Request.ModelName = "bigmodel"
	p.Request.EnableITN = true
	p.Request.EnablePunc = true
	p.Request.ShowUtterances = true
	p.Request.ResultType = "full"
	p.Request.EndWindowSize = 800
	return p
}

// sendAudio 按实时节奏分片发送，最后一片序号取负。
func (c *VolcengineASR) sendAudio(ctx context.Context, conn *websocket.Conn, data []byte) error {
	seq := int32(asrFirstAudioSeq)
	for start := 0; start < len(data); start += asrChunkBytes {
		end := min(start+asrChunkBytes, len(data))
		last := end == len(data)

		compressed, err := compressPayload(data[start:end], GzipCompression)
		if err != nil {
			return err
		}
		frame := newAudioFrame(compressed, seq, last, GzipCompression)
		raw, err := frame.MarshalBinary()
		if err != nil {
			return err
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, raw); err != nil {
			return err
		}
		if last {
			return nil
		}
		seq++

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.interval):
		}
	}
	return nil
}

func (c *VolcengineASR) receive(ctx context.Context, conn *websocket.Conn) (*speechmodel.Transcript, error) {
	var (
		text       string
		durationMS int64
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("read asr response: %w", err)
		}
		frame, err := ReadFrame(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode asr frame: %w", err)
		}

		switch frame.Header.Type {
		case ErrorMessage:
			msg, _ := decompressPayload(frame.Payload, frame.Header.Compression)
			if isVolcThrottleCode(int(frame.ErrorCode)) {
				return nil, fmt.Errorf("volcengine asr error %d: %s: %w", frame.ErrorCode, msg, errThrottled)
			}
			return nil, fmt.Errorf("volcengine asr error %d: %s", frame.ErrorCode, msg)

		case FullServerResponse:
			body, err := decompressPayload(frame.Payload, frame.Header.Compression)
			if err != nil {
				return nil, fmt.Errorf("decompress asr payload: %w", err)
			}
			var msg asrServerPayload
			if err := json.Unmarshal(body, &msg); err != nil {
				c.logger.Warn("skip unparsable asr payload", zap.Error(err))
				continue
			}
			if msg.Code != 0 && msg.Code != asrCodeOK {
				if isVolcThrottleCode(msg.Code) {
					return nil, fmt.Errorf("volcengine asr %d %s: %w", msg.Code, msg.Message, errThrottled)
				}
				return nil, fmt.Errorf("volcengine asr %d: %s", msg.Code, msg.Message)
			}

			candidate := msg.Result.Text
			if candidate == "" {
				candidate = joinUtterances(msg.Result.Utterances)
			}
			if candidate != "" {
				text = candidate
			}
			if msg.AudioInfo.Duration > 0 {
				durationMS = msg.AudioInfo.Duration
			}

			if frame.IsLast() || msg.Sequence < 0 {
				out := &speechmodel.Transcript{Text: strings.TrimSpace(text)}
				if durationMS > 0 {
					secs := float64(durationMS) / 1000
					out.Duration = &secs
				}
				return out, nil
			}
		}
	}
}

func joinUtterances(utterances []asrUtterance) string {
	parts := make([]string, 0, len(utterances))
	for _, u := range utterances {
		if t := strings.TrimSpace(u.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

func isVolcThrottleCode(code int) bool {
	return code == asrCodeBusy || code == asrCodeQuota || code == http.StatusTooManyRequests
}

// writeFrame 压缩负载并以二进制消息发送。
func writeFrame(conn *websocket.Conn, build func([]byte, CompressionMethod) *Frame, payload []byte, comp CompressionMethod) error {
	body, err := compressPayload(payload, comp)
	if err != nil {
		return err
	}
	raw, err := build(body, comp).MarshalBinary()
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.BinaryMessage, raw)
}
