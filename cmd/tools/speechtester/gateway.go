package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/NicolasHurtado/Voice-gpt-agent/internal/service/audio"
)

type gatewayOptions struct {
	server     string
	sessionID  string
	audioPath  string
	text       string
	format     string
	language   string
	voice      string
	chunkSize  int
	outputPath string
}

// runGateway 以客户端身份走一遍完整的 WebSocket 对话轮次
func runGateway(ctx context.Context, opts gatewayOptions) error {
	if opts.audioPath == "" && strings.TrimSpace(opts.text) == "" {
		return errors.New("ws 模式需要 -audio 或 -text")
	}
	if opts.chunkSize <= 0 {
		opts.chunkSize = 16 * 1024
	}

	url := strings.TrimSuffix(opts.server, "/") + "/" + uuid.NewString()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	log.Printf("已连接网关: %s", url)

	if err := conn.WriteJSON(map[string]any{"type": "initialize_session", "session_id": opts.sessionID}); err != nil {
		return err
	}
	msg, err := expect(conn, "session_initialized")
	if err != nil {
		return err
	}
	log.Printf("会话已就绪: %v", msg["session_id"])

	if opts.audioPath != "" {
		if err := streamAudio(conn, opts); err != nil {
			return err
		}
	} else {
		err := conn.WriteJSON(map[string]any{
			"type":          "text_message",
			"text":          opts.text,
			"include_audio": true,
			"voice":         opts.voice,
		})
		if err != nil {
			return err
		}
	}

	return readUntilAudio(conn, opts.outputPath)
}

func streamAudio(conn *websocket.Conn, opts gatewayOptions) error {
	data, err := os.ReadFile(opts.audioPath)
	if err != nil {
		return err
	}
	format := opts.format
	if format == "" {
		format = audio.FormatFromFilename(opts.audioPath)
	}

	chunks := 0
	for start := 0; start < len(data); start += opts.chunkSize {
		end := min(start+opts.chunkSize, len(data))
		err := conn.WriteJSON(map[string]any{
			"type":       "audio_chunk",
			"audio_data": base64.StdEncoding.EncodeToString(data[start:end]),
		})
		if err != nil {
			return err
		}
		if _, err := expect(conn, "audio_chunk_received"); err != nil {
			return err
		}
		chunks++
	}
	log.Printf("已发送 %d 个音频分片，共 %d 字节", chunks, len(data))

	return conn.WriteJSON(map[string]any{
		"type":     "end_audio",
		"format":   format,
		"language": opts.language,
		"voice":    opts.voice,
	})
}

// readUntilAudio 打印进度事件，直到收到音频回复或错误
func readUntilAudio(conn *websocket.Conn, outputPath string) error {
	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		switch msg["type"] {
		case "error":
			return fmt.Errorf("%v: %v", msg["error_code"], msg["error"])
		case "transcription_completed":
			log.Printf("识别结果: %v", msg["text"])
		case "text_response":
			log.Printf("回复文本: %v", msg["text"])
		case "audio_response":
			encoded, _ := msg["audio_data"].(string)
			audioBytes, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				return fmt.Errorf("decode audio_response: %w", err)
			}
			if outputPath == "" {
				outputPath = fmt.Sprintf("reply-%d.mp3", time.Now().Unix())
			}
			if err := os.WriteFile(outputPath, audioBytes, 0o644); err != nil {
				return err
			}
			log.Printf("音频回复已保存: %s (%d 字节)", outputPath, len(audioBytes))
			return nil
		default:
			log.Printf("事件: %v", msg["type"])
		}
	}
}

func expect(conn *websocket.Conn, msgType string) (map[string]any, error) {
	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		return nil, err
	}
	if msg["type"] == "error" {
		return nil, fmt.Errorf("%v: %v", msg["error_code"], msg["error"])
	}
	if msg["type"] != msgType {
		return nil, fmt.Errorf("expected %s, got %v", msgType, msg["type"])
	}
	return msg, nil
}
