package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	speechmodel "github.com/zhouzirui/smartguard/internal/model/speech"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server    ServerConfig
	Chat      ChatConfig
	Speech    SpeechConfig
	Assets    AssetsConfig
	Log       LogConfig
	Telemetry TelemetryConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	chat, err := loadChatConfig()
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	telemetry, err := loadTelemetryConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:    server,
		Chat:      chat,
		Speech:    speech,
		Assets:    loadAssetsConfig(),
		Log:       loadLogConfig(),
		Telemetry: telemetry,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// ChatConfig 描述远端聊天接口与对话轮次行为。
type ChatConfig struct {
	Endpoint        string
	Timeout         time.Duration
	SpeakFallback   bool
	DefaultLanguage string
}

func loadChatConfig() (ChatConfig, error) {
	timeoutSeconds := 30
	if override, err := parseOptionalIntEnv("CHAT_TIMEOUT_SECONDS"); err != nil {
		return ChatConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return ChatConfig{}, fmt.Errorf("invalid CHAT_TIMEOUT_SECONDS value %d: must be positive", *override)
		}
		timeoutSeconds = *override
	}

	speakFallback, err := parseBoolEnv("SPEAK_FALLBACK", true)
	if err != nil {
		return ChatConfig{}, err
	}

	endpoint := getEnvOrDefault("CHAT_ENDPOINT", "http://localhost:5000/chat-with-language")
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return ChatConfig{}, fmt.Errorf("invalid CHAT_ENDPOINT value %q: must be an http(s) URL", endpoint)
	}

	return ChatConfig{
		Endpoint:        endpoint,
		Timeout:         time.Duration(timeoutSeconds) * time.Second,
		SpeakFallback:   speakFallback,
		DefaultLanguage: getEnvOrDefault("DEFAULT_LANGUAGE", "en"),
	}, nil
}

// SpeechConfig 描述语音服务相关配置
type SpeechConfig struct {
	AppID          string
	AccessToken    string
	APIKey         string
	BaseURL        string
	ConcurrentMode bool
	ASRModel       string
	ASRLanguage    string
	TTSVoice       string
	TTSSpeed       float32
	TTSVolume      float32
	TTSLanguage    string
	Voices         map[string]string
	Timeout        int
	Enabled        bool
}

func loadSpeechConfig() (SpeechConfig, error) {
	timeout, err := parseOptionalIntEnv("SPEECH_TIMEOUT")
	if err != nil {
		return SpeechConfig{}, err
	}
	timeoutSeconds := 30
	if timeout != nil {
		timeoutSeconds = *timeout
	}

	speed, err := parseOptionalFloat32Env("SPEECH_TTS_SPEED")
	if err != nil {
		return SpeechConfig{}, err
	}
	ttsSpeed := float32(1.0)
	if speed != nil {
		ttsSpeed = *speed
	}

	volume, err := parseOptionalFloat32Env("SPEECH_TTS_VOLUME")
	if err != nil {
		return SpeechConfig{}, err
	}
	ttsVolume := float32(1.0)
	if volume != nil {
		ttsVolume = *volume
	}

	concurrent, err := parseBoolEnv("SPEECH_ASR_CONCURRENT", false)
	if err != nil {
		return SpeechConfig{}, err
	}

	voices, err := parseVoiceMap(os.Getenv("SPEECH_VOICES"))
	if err != nil {
		return SpeechConfig{}, err
	}

	appID := strings.TrimSpace(os.Getenv("SPEECH_APP_ID"))
	apiKey := strings.TrimSpace(os.Getenv("SPEECH_API_KEY"))
	accessToken := strings.TrimSpace(os.Getenv("SPEECH_ACCESS_TOKEN"))
	if accessToken == "" {
		accessToken = apiKey
	}

	return SpeechConfig{
		AppID:          appID,
		AccessToken:    accessToken,
		APIKey:         apiKey,
		BaseURL:        getEnvOrDefault("SPEECH_BASE_URL", "wss://openspeech.bytedance.com"),
		ConcurrentMode: concurrent,
		ASRModel:       getEnvOrDefault("SPEECH_ASR_MODEL", "bigmodel"),
		ASRLanguage:    getEnvOrDefault("SPEECH_ASR_LANGUAGE", "en-US"),
		TTSVoice:       getEnvOrDefault("SPEECH_TTS_VOICE", "en_female_amy_jupiter_bigtts"),
		TTSSpeed:       ttsSpeed,
		TTSVolume:      ttsVolume,
		TTSLanguage:    getEnvOrDefault("SPEECH_TTS_LANGUAGE", "en-US"),
		Voices:         voices,
		Timeout:        timeoutSeconds,
		Enabled:        appID != "" && accessToken != "",
	}, nil
}

// Service 转换为语音服务使用的配置。
func (c SpeechConfig) Service() *speechmodel.SpeechConfig {
	return &speechmodel.SpeechConfig{
		AppID:          c.AppID,
		AccessToken:    c.AccessToken,
		APIKey:         c.APIKey,
		BaseURL:        c.BaseURL,
		ConcurrentMode: c.ConcurrentMode,
		ASRModel:       c.ASRModel,
		ASRLanguage:    c.ASRLanguage,
		TTSVoice:       c.TTSVoice,
		TTSSpeed:       c.TTSSpeed,
		TTSVolume:      c.TTSVolume,
		TTSLanguage:    c.TTSLanguage,
		Timeout:        c.Timeout,
	}
}

// AssetsConfig 描述离线静态资源缓存。
type AssetsConfig struct {
	Dir       string
	Origin    string
	CacheName string
	Precache  []string
}

// DefaultPrecache 安装阶段预缓存的资源路径。
var DefaultPrecache = []string{
	"/",
	"/static/style.css",
	"/static/script.js",
	"/static/icons/icon-192.png",
	"/static/icons/icon-512.png",
}

func loadAssetsConfig() AssetsConfig {
	precache := append([]string(nil), DefaultPrecache...)
	if raw := strings.TrimSpace(os.Getenv("ASSET_PRECACHE")); raw != "" {
		precache = splitList(raw)
	}

	return AssetsConfig{
		Dir:       getEnvOrDefault("ASSETS_DIR", "web"),
		Origin:    strings.TrimSpace(os.Getenv("ASSET_ORIGIN")),
		CacheName: getEnvOrDefault("ASSET_CACHE_NAME", "smartguard-cache"),
		Precache:  precache,
	}
}

// LogConfig 日志配置
type LogConfig struct {
	Level string
	File  string
}

func loadLogConfig() LogConfig {
	return LogConfig{
		Level: strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		File:  strings.TrimSpace(os.Getenv("LOG_FILE")),
	}
}

// TelemetryConfig OpenTelemetry 导出配置
type TelemetryConfig struct {
	Enabled bool
	Dir     string
}

func loadTelemetryConfig() (TelemetryConfig, error) {
	enabled, err := parseBoolEnv("TELEMETRY_ENABLED", false)
	if err != nil {
		return TelemetryConfig{}, err
	}
	return TelemetryConfig{
		Enabled: enabled,
		Dir:     getEnvOrDefault("TELEMETRY_DIR", "logs"),
	}, nil
}

// parseVoiceMap 解析 "en:voice_a,zh-CN:voice_b" 形式的语言到音色映射。
func parseVoiceMap(raw string) (map[string]string, error) {
	voices := make(map[string]string)
	for _, item := range splitList(raw) {
		lang, voice, ok := strings.Cut(item, ":")
		lang = strings.TrimSpace(lang)
		voice = strings.TrimSpace(voice)
		if !ok || lang == "" || voice == "" {
			return nil, fmt.Errorf("invalid SPEECH_VOICES entry %q: want lang:voice", item)
		}
		voices[lang] = voice
	}
	return voices, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalFloat32Env(key string) (*float32, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	result := float32(val)
	return &result, nil
}
