package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/NicolasHurtado/Voice-gpt-agent/internal/config"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/logging"
	speechmodel "github.com/NicolasHurtado/Voice-gpt-agent/internal/model/speech"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/service/audio"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/service/speech"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	mode := flag.String("mode", "", "测试模式: asr、tts 或 ws")
	audioPath := flag.String("audio", "", "ASR / ws 模式的输入音频文件路径")
	text := flag.String("text", "", "TTS 输入文本，ws 模式下改为发送文本消息")
	outputPath := flag.String("out", "", "输出音频文件路径 (默认根据格式自动生成)")
	format := flag.String("format", "", "输入音频格式，默认按扩展名推断")
	language := flag.String("lang", "", "语言代码，默认使用配置中的语言")
	voice := flag.String("voice", "", "TTS 声音，默认使用配置中的声音")
	session := flag.String("session", "", "会话 ID，ws 模式留空则由网关创建")
	server := flag.String("server", "ws://localhost:8080/api/v1/ws", "ws 模式的网关地址")
	chunkSize := flag.Int("chunk", 16*1024, "ws 模式每个音频分片的字节数")
	timeout := flag.Duration("timeout", 45*time.Second, "请求超时时间")

	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *mode {
	case "ws":
		err := runGateway(ctx, gatewayOptions{
			server:     *server,
			sessionID:  *session,
			audioPath:  *audioPath,
			text:       *text,
			format:     *format,
			language:   *language,
			voice:      *voice,
			chunkSize:  *chunkSize,
			outputPath: *outputPath,
		})
		if err != nil {
			log.Fatalf("网关测试失败: %v", err)
		}
	case "asr", "tts":
		cfg, err := config.Load()
		if err != nil {
			log.Fatalf("配置加载失败: %v", err)
		}
		svc, err := speech.NewFromConfig(cfg.Speech, logging.New(cfg.Log))
		if err != nil {
			log.Fatalf("语音服务初始化失败: %v", err)
		}
		if *mode == "asr" {
			runASR(ctx, svc, *session, *audioPath, *format, *language)
		} else {
			runTTS(ctx, svc, *session, *text, *voice, *language, *outputPath)
		}
	default:
		flag.Usage()
		log.Fatal("请通过 -mode=asr、-mode=tts 或 -mode=ws 指定测试模式")
	}
}

func runASR(ctx context.Context, svc *speech.Service, sessionID, audioPath, format, language string) {
	if audioPath == "" {
		log.Fatal("ASR 模式需要通过 -audio 指定音频文件路径")
	}
	data, err := os.ReadFile(audioPath)
	if err != nil {
		log.Fatalf("读取音频文件失败: %v", err)
	}
	if format == "" {
		format = audio.FormatFromFilename(audioPath)
	}

	log.Printf("开始进行 ASR 测试: format=%s language=%s size=%d", format, language, len(data))

	resp, err := svc.Transcribe(ctx, &speechmodel.TranscriptionRequest{
		SessionID: sessionID,
		Audio:     data,
		Format:    format,
		Language:  language,
	})
	if err != nil {
		log.Fatalf("ASR 调用失败: %v", err)
	}
	log.Printf("ASR 识别成功: text=%q confidence=%.2f language=%s", resp.Text, resp.Confidence, resp.Language)
}

func runTTS(ctx context.Context, svc *speech.Service, sessionID, text, voice, language, outputPath string) {
	if strings.TrimSpace(text) == "" {
		log.Fatal("TTS 模式需要通过 -text 提供待合成文本")
	}

	log.Printf("开始进行 TTS 测试: voice=%s", svc.ResolveVoice(voice))

	resp, err := svc.Synthesize(ctx, &speechmodel.SynthesisRequest{
		SessionID: sessionID,
		Text:      text,
		Voice:     voice,
		Language:  language,
	})
	if err != nil {
		log.Fatalf("TTS 调用失败: %v", err)
	}

	if outputPath == "" {
		outputPath = fmt.Sprintf("tts-output-%d.%s", time.Now().Unix(), resp.Format)
	}
	if err := os.WriteFile(outputPath, resp.Audio, 0o644); err != nil {
		log.Fatalf("写入音频文件失败: %v", err)
	}
	log.Printf("TTS 合成成功: 输出文件 %s, %d 字节, voice=%s", outputPath, len(resp.Audio), resp.Voice)
}
