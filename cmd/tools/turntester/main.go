package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/smartguard/internal/config"
	"github.com/zhouzirui/smartguard/internal/model/chat"
	model "github.com/zhouzirui/smartguard/internal/model/language"
	chatService "github.com/zhouzirui/smartguard/internal/service/chat"
	"github.com/zhouzirui/smartguard/internal/service/transcript"
	"github.com/zhouzirui/smartguard/internal/service/turn"
	"github.com/zhouzirui/smartguard/internal/telemetry"
)

// printer 把转录变化直接打印到终端。
type printer struct{}

func (printer) Appended(msg chat.Message) { fmt.Println(msg.Line()) }

func (printer) Replaced(_ string, msg chat.Message) { fmt.Println(msg.Line()) }

func (printer) Removed(string) {}

func (printer) ScrolledToLatest() {}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	text := flag.String("text", "", "要发送的问题")
	lang := flag.String("lang", cfg.Chat.DefaultLanguage, "组件语言代码: en, es, fr, de, zh, ht")
	endpoint := flag.String("endpoint", "", "覆盖 CHAT_ENDPOINT")
	timeout := flag.Duration("timeout", cfg.Chat.Timeout, "请求超时时间")
	verbose := flag.Bool("v", false, "输出调试日志")

	flag.Parse()

	if strings.TrimSpace(*text) == "" {
		flag.Usage()
		log.Fatal("请通过 -text 指定问题")
	}

	code, ok := model.Parse(*lang)
	if !ok {
		log.Fatalf("不支持的语言: %s", *lang)
	}

	level := "warn"
	if *verbose {
		level = "debug"
	}
	logger, closeLog, err := telemetry.NewLogger(config.LogConfig{Level: level})
	if err != nil {
		log.Fatalf("日志初始化失败: %v", err)
	}
	defer closeLog()

	chatCfg := cfg.Chat
	chatCfg.Timeout = *timeout
	if *endpoint != "" {
		chatCfg.Endpoint = *endpoint
	}
	client := chatService.NewClient(chatCfg, logger)

	tr := transcript.New(printer{})
	coordinator := turn.New(tr, client, nil, nil, turn.Options{Logger: logger})

	ctx, cancel := context.WithTimeout(context.Background(), *timeout+5*time.Second)
	defer cancel()

	result, err := coordinator.Run(ctx, *text, code)
	if err != nil {
		log.Fatalf("发送失败: %v", err)
	}

	logger.Info("turn finished",
		zap.String("turn_id", result.ID),
		zap.String("endpoint", client.Endpoint()),
		zap.String("language", result.Language),
		zap.Bool("fallback", result.Fallback),
		zap.Duration("elapsed", result.FinishedAt.Sub(result.StartedAt)),
	)
	if result.Fallback {
		log.Printf("[WARN] 聊天接口调用失败，已显示兜底回复")
	}
}
