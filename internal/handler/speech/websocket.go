package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/NicolasHurtado/Voice-gpt-agent/internal/apperror"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/service/turn"
	"github.com/NicolasHurtado/Voice-gpt-agent/pkg/utils"
)

const (
	defaultReadTimeout  = 60 * time.Second
	defaultPingInterval = 54 * time.Second
	defaultWriteTimeout = 10 * time.Second
	maxMessageBytes     = 64 << 20
	defaultAudioFormat  = "wav"
	// 音频消息超速时最多等待这么久，超过则丢弃整段语音
	defaultAudioWait = 5 * time.Second
)

// 客户端消息类型
const (
	msgInitializeSession = "initialize_session"
	msgAudioChunk        = "audio_chunk"
	msgTextMessage       = "text_message"
	msgEndAudio          = "end_audio"
	msgPing              = "ping"
)

// ConnectionObserver 接收连接层指标，可为空。
type ConnectionObserver interface {
	ConnectionOpened()
	ConnectionClosed()
	RecordWSMessage(messageType string)
}

// WebSocketOptions WebSocket 处理器的可选参数
type WebSocketOptions struct {
	MessageRPS   float64
	MessageBurst int
	Observer     ConnectionObserver
	Logger       *zap.Logger
}

// WebSocketHandler WebSocket语音会话处理器
type WebSocketHandler struct {
	turns    *turn.Orchestrator
	registry *ConnectionRegistry
	observer ConnectionObserver
	logger   *zap.Logger
	upgrader websocket.Upgrader

	messageRPS   rate.Limit
	messageBurst int
	audioWait    time.Duration
	readTimeout  time.Duration
	pingInterval time.Duration
	writeTimeout time.Duration
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(turns *turn.Orchestrator, registry *ConnectionRegistry, opts WebSocketOptions) *WebSocketHandler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	rps := rate.Limit(opts.MessageRPS)
	if opts.MessageRPS <= 0 {
		rps = 20
	}
	burst := opts.MessageBurst
	if burst <= 0 {
		burst = 40
	}
	return &WebSocketHandler{
		turns:    turns,
		registry: registry,
		observer: opts.Observer,
		logger:   logger.Named("websocket"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		messageRPS:   rps,
		messageBurst: burst,
		audioWait:    defaultAudioWait,
		readTimeout:  defaultReadTimeout,
		pingInterval: defaultPingInterval,
		writeTimeout: defaultWriteTimeout,
	}
}

// RegisterWebSocketRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterWebSocketRoutes(r chi.Router) {
	r.Get("/ws/stats", h.handleStats)
	r.Get("/ws/{connectionID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type         string  `json:"type"`
	SessionID    string  `json:"session_id"`
	AudioData    *string `json:"audio_data"`
	IsFinal      bool    `json:"is_final"`
	IncludeAudio *bool   `json:"include_audio"`
	Voice        string  `json:"voice"`
	Language     string  `json:"language"`
	Format       string  `json:"format"`
	Text         string  `json:"text"`
}

func (m *inboundMessage) includeAudio(defaultValue bool) bool {
	if m.IncludeAudio == nil {
		return defaultValue
	}
	return *m.IncludeAudio
}

// connection 单个 WebSocket 连接。写操作由 mu 串行化；
// sessionID、chunks 与 limiter 只在接收协程内访问。
type connection struct {
	id           string
	writeTimeout time.Duration
	logger       *zap.Logger

	mu   sync.Mutex
	ws   *websocket.Conn
	gone bool

	sessionID string
	chunks    [][]byte
	limiter   *rate.Limiter
}

func (c *connection) attach(ws *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws = ws
}

// send 写出一条 {type, ...data} 消息。写失败后连接标记为已断开，之后的消息直接丢弃。
func (c *connection) send(msgType string, data map[string]any) {
	msg := make(map[string]any, len(data)+1)
	for k, v := range data {
		msg[k] = v
	}
	msg["type"] = msgType

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gone || c.ws == nil {
		return
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.ws.WriteJSON(msg); err != nil {
		c.logger.Warn("websocket write failed", zap.String("type", msgType), zap.Error(err))
		c.markGoneLocked()
	}
}

func (c *connection) sendError(err error) {
	pub := apperror.Public(err)
	c.send("error", map[string]any{
		"message":    pub.Message,
		"error_code": pub.Code,
	})
}

func (c *connection) ping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gone || c.ws == nil {
		return false
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.markGoneLocked()
		return false
	}
	return true
}

// shutdown 由 CloseAll 调用，发送关闭帧后断开底层连接。
func (c *connection) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gone || c.ws == nil {
		return
	}
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
	c.markGoneLocked()
}

// 关闭底层连接会让接收协程退出并执行清理。
func (c *connection) markGoneLocked() {
	c.gone = true
	_ = c.ws.Close()
}

// handleWebSocket 处理WebSocket连接
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	connectionID := strings.TrimSpace(chi.URLParam(r, "connectionID"))
	if connectionID == "" {
		utils.RespondError(w, http.StatusBadRequest, apperror.CodeInvalidRequest, "connection id is required")
		return
	}

	c := &connection{
		id:           connectionID,
		writeTimeout: h.writeTimeout,
		logger:       h.logger.With(zap.String("connection_id", connectionID)),
		limiter:      rate.NewLimiter(h.messageRPS, h.messageBurst),
	}
	if err := h.registry.Add(connectionID, c.shutdown); err != nil {
		utils.RespondError(w, http.StatusConflict, apperror.CodeConnectionExists, err.Error())
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.registry.Remove(connectionID)
		c.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c.attach(ws)
	if h.observer != nil {
		h.observer.ConnectionOpened()
	}
	c.logger.Info("websocket connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		h.disconnect(c)
	}()

	ws.SetReadLimit(maxMessageBytes)
	_ = ws.SetReadDeadline(time.Now().Add(h.readTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.readTimeout))
	})

	go h.pingLoop(ctx, c)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info("websocket read ended", zap.Error(err))
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(h.readTimeout))
		h.handleMessage(ctx, c, data)
	}
}

// admit 按消息类型执行入站限流。ping 不受限；音频消息排队等待令牌，
// 等不到时丢弃整段语音而不是单个分片；其余消息超速直接拒绝。
func (h *WebSocketHandler) admit(ctx context.Context, c *connection, msgType string) bool {
	switch msgType {
	case msgPing:
		return true
	case msgAudioChunk, msgEndAudio:
		waitCtx, cancel := context.WithTimeout(ctx, h.audioWait)
		defer cancel()
		if err := c.limiter.Wait(waitCtx); err != nil {
			dropped := len(c.chunks)
			c.chunks = nil
			c.logger.Warn("audio rate limit exceeded, utterance discarded", zap.Int("chunks", dropped))
			c.sendError(apperror.RateLimited("audio arrived too fast, utterance discarded", err))
			return false
		}
		return true
	default:
		if !c.limiter.Allow() {
			c.sendError(apperror.RateLimited("too many messages", nil))
			return false
		}
		return true
	}
}

// disconnect 清理连接：注销、释放会话绑定、丢弃未处理的音频。
func (h *WebSocketHandler) disconnect(c *connection) {
	h.registry.Remove(c.id)
	c.chunks = nil

	c.mu.Lock()
	if !c.gone {
		c.gone = true
		_ = c.ws.Close()
	}
	c.mu.Unlock()

	if h.observer != nil {
		h.observer.ConnectionClosed()
	}
	c.logger.Info("websocket disconnected", zap.String("session_id", c.sessionID))
}

func (h *WebSocketHandler) handleMessage(ctx context.Context, c *connection, data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		if !h.admit(ctx, c, "") {
			return
		}
		h.record("invalid")
		c.sendError(apperror.InvalidRequest(apperror.CodeInvalidMessage, "message is not valid JSON"))
		return
	}
	if !h.admit(ctx, c, msg.Type) {
		return
	}

	switch msg.Type {
	case msgInitializeSession:
		h.record(msg.Type)
		h.handleInitialize(c, &msg)
	case msgAudioChunk:
		h.record(msg.Type)
		h.handleAudioChunk(c, &msg)
	case msgTextMessage:
		h.record(msg.Type)
		h.handleTextMessage(c, &msg)
	case msgEndAudio:
		h.record(msg.Type)
		h.handleEndAudio(c, &msg)
	case msgPing:
		h.record(msg.Type)
		c.send("pong", nil)
	default:
		h.record("unknown")
		c.sendError(apperror.InvalidRequest(apperror.CodeUnknownMessageType,
			"unknown message type: "+msg.Type))
	}
}

func (h *WebSocketHandler) record(msgType string) {
	if h.observer != nil {
		h.observer.RecordWSMessage(msgType)
	}
}

func (h *WebSocketHandler) handleInitialize(c *connection, msg *inboundMessage) {
	session, err := h.turns.ResolveSession(context.Background(), msg.SessionID)
	if err != nil {
		c.sendError(err)
		return
	}
	if err := h.registry.Bind(c.id, session.ID); err != nil {
		c.sendError(err)
		return
	}
	c.sessionID = session.ID
	c.logger.Info("session bound", zap.String("session_id", session.ID))
	c.send("session_initialized", map[string]any{"session_id": session.ID})
}

func (h *WebSocketHandler) handleAudioChunk(c *connection, msg *inboundMessage) {
	if msg.AudioData == nil || *msg.AudioData == "" {
		c.sendError(apperror.InvalidRequest(apperror.CodeNoAudioData, "no audio data provided"))
		return
	}
	chunk, err := base64.StdEncoding.DecodeString(*msg.AudioData)
	if err != nil {
		c.sendError(apperror.InvalidRequest(apperror.CodeInvalidMessage, "audio_data is not valid base64"))
		return
	}
	c.chunks = append(c.chunks, chunk)
	c.send("audio_chunk_received", map[string]any{
		"chunk_number": len(c.chunks),
		"is_final":     msg.IsFinal,
	})

	if msg.IsFinal && c.sessionID != "" {
		h.flushAudio(c, msg)
	}
}

func (h *WebSocketHandler) handleEndAudio(c *connection, msg *inboundMessage) {
	if c.sessionID == "" {
		c.sendError(apperror.InvalidRequest(apperror.CodeSessionNotInitialized, "session not initialized"))
		return
	}
	if len(c.chunks) == 0 {
		c.sendError(apperror.InvalidRequest(apperror.CodeNoAudioData, "no audio chunks to process"))
		return
	}
	h.flushAudio(c, msg)
}

// flushAudio 把累积的音频作为一轮对话处理，并清空累积区。
func (h *WebSocketHandler) flushAudio(c *connection, msg *inboundMessage) {
	data := bytes.Join(c.chunks, nil)
	c.chunks = nil

	format := msg.Format
	if format == "" {
		format = defaultAudioFormat
	}
	in := turn.Input{
		SessionID: c.sessionID,
		Audio:     &turn.AudioInput{Data: data, Format: format, Language: msg.Language},
	}
	opts := turn.Options{
		IncludeAudio: msg.includeAudio(true),
		Voice:        msg.Voice,
		Language:     msg.Language,
		Progress:     true,
	}
	h.runTurn(c, in, opts)
}

func (h *WebSocketHandler) handleTextMessage(c *connection, msg *inboundMessage) {
	if c.sessionID == "" {
		c.sendError(apperror.InvalidRequest(apperror.CodeSessionNotInitialized, "session not initialized"))
		return
	}
	if strings.TrimSpace(msg.Text) == "" {
		c.sendError(apperror.InvalidRequest(apperror.CodeInvalidRequest, "no text provided"))
		return
	}
	in := turn.Input{SessionID: c.sessionID, Text: msg.Text}
	opts := turn.Options{
		IncludeAudio: msg.includeAudio(false),
		Voice:        msg.Voice,
		Language:     msg.Language,
	}
	h.runTurn(c, in, opts)
}

// runTurn 与连接生命周期解耦，超时由各端口自行控制。
func (h *WebSocketHandler) runTurn(c *connection, in turn.Input, opts turn.Options) {
	started := time.Now()
	_, err := h.turns.Run(context.Background(), in, opts, func(ev turn.Event) {
		c.send(string(ev.Type), ev.Data)
	})
	if err != nil {
		c.sendError(err)
		return
	}
	c.logger.Debug("turn finished",
		zap.String("session_id", c.sessionID),
		zap.Duration("elapsed", time.Since(started)))
}

func (h *WebSocketHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.registry.Stats())
}

// pingLoop 定期发送ping消息
func (h *WebSocketHandler) pingLoop(ctx context.Context, c *connection) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.ping() {
				return
			}
		}
	}
}
