package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/smartguard/internal/config"
	model "github.com/zhouzirui/smartguard/internal/model/language"
	speechmodel "github.com/zhouzirui/smartguard/internal/model/speech"
	"github.com/zhouzirui/smartguard/internal/service/speech"
	"github.com/zhouzirui/smartguard/internal/telemetry"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	if !cfg.Speech.Enabled {
		log.Fatal("语音服务未启用，请先在环境变量中配置 SPEECH_APP_ID 与 SPEECH_ACCESS_TOKEN")
	}

	mode := flag.String("mode", "", "测试模式: asr 或 tts")
	audioPath := flag.String("audio", "", "ASR 输入音频文件路径")
	text := flag.String("text", "", "TTS 输入文本，为空时朗读该语言的问候语")
	outputPath := flag.String("out", "", "TTS 输出音频文件路径 (默认根据格式自动生成)")
	format := flag.String("format", "", "ASR 输入音频格式，默认取文件扩展名")
	lang := flag.String("lang", "en", "组件语言代码: en, es, fr, de, zh, ht")
	session := flag.String("session", "", "自定义 sessionID，留空则自动生成")
	timeout := flag.Duration("timeout", 45*time.Second, "请求超时时间")

	flag.Parse()

	if *mode != "asr" && *mode != "tts" {
		flag.Usage()
		log.Fatal("请通过 -mode=asr 或 -mode=tts 指定测试模式")
	}

	code, ok := model.Parse(*lang)
	if !ok {
		log.Fatalf("不支持的语言: %s", *lang)
	}

	sessionID := *session
	if sessionID == "" {
		sessionID = fmt.Sprintf("manual-%d", time.Now().UnixNano())
	}

	logger, closeLog, err := telemetry.NewLogger(config.LogConfig{Level: "debug"})
	if err != nil {
		log.Fatalf("日志初始化失败: %v", err)
	}
	defer closeLog()

	svc := speech.NewService(cfg.Speech.Service(), logger)
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *mode {
	case "asr":
		runASR(ctx, svc, logger, sessionID, *audioPath, *format, code)
	case "tts":
		voices, err := speech.NewVoiceBook(cfg.Speech.Voices, cfg.Speech.TTSVoice)
		if err != nil {
			log.Fatalf("SPEECH_VOICES 配置错误: %v", err)
		}
		runTTS(ctx, svc, voices, logger, sessionID, *text, code, *outputPath)
	}
}

// runASR 走与组件麦克风相同的单次识别路径
func runASR(ctx context.Context, svc *speech.Service, logger *zap.Logger, sessionID, audioPath, format string, code model.Code) {
	if audioPath == "" {
		log.Fatal("ASR 模式需要通过 -audio 指定音频文件路径")
	}

	audio, err := os.ReadFile(audioPath)
	if err != nil {
		log.Fatalf("读取音频文件失败: %v", err)
	}

	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(audioPath)), ".")
		if format == "" {
			format = "wav"
		}
	}

	logger.Info("开始进行 ASR 测试",
		zap.String("session_id", sessionID),
		zap.String("format", format),
		zap.String("locale", code.Locale()),
	)

	adapter := speech.NewInputAdapter(svc, logger)
	text, err := adapter.Recognize(ctx, sessionID, code, audio, format)
	if err != nil {
		log.Fatalf("ASR 调用失败 (%s): %v", speech.ErrorCode(err), err)
	}

	logger.Info("ASR 识别成功", zap.String("text", text))
}

func runTTS(ctx context.Context, svc *speech.Service, voices *speech.VoiceBook, logger *zap.Logger, sessionID, text string, code model.Code, outputPath string) {
	if strings.TrimSpace(text) == "" {
		text = model.Greeting(code)
	}
	clean := speech.SanitizeForSpeech(text)
	if clean == "" {
		log.Fatal("过滤后没有可朗读的文本")
	}

	if outputPath == "" {
		outputPath = fmt.Sprintf("tts-output-%s-%d.mp3", code, time.Now().Unix())
	}

	req := &speechmodel.TTSRequest{
		SessionID: sessionID,
		Text:      clean,
		Voice:     voices.VoiceFor(code),
		Format:    "mp3",
		Language:  code.Locale(),
	}

	logger.Info("开始进行 TTS 测试",
		zap.String("session_id", sessionID),
		zap.String("voice", req.Voice),
		zap.String("locale", req.Language),
	)

	resp, err := svc.Synthesize(ctx, req)
	if err != nil {
		log.Fatalf("TTS 调用失败: %v", err)
	}

	if err := os.WriteFile(outputPath, resp.AudioData, 0o644); err != nil {
		log.Fatalf("写入音频文件失败: %v", err)
	}

	logger.Info("TTS 合成成功",
		zap.String("output", outputPath),
		zap.Int64("duration_ms", resp.Duration),
		zap.String("voice", resp.Voice),
	)
}
