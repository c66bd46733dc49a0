package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "CHAT_ENDPOINT", "CHAT_TIMEOUT_SECONDS", "SPEAK_FALLBACK", "DEFAULT_LANGUAGE",
		"SPEECH_APP_ID", "SPEECH_ACCESS_TOKEN", "SPEECH_API_KEY", "SPEECH_VOICES",
		"ASSET_PRECACHE", "ASSET_CACHE_NAME", "TELEMETRY_ENABLED",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Fatalf("expected :8080, got %s", cfg.Server.Addr)
	}
	if cfg.Chat.Timeout != 30*time.Second {
		t.Fatalf("expected 30s timeout, got %s", cfg.Chat.Timeout)
	}
	if !cfg.Chat.SpeakFallback {
		t.Fatalf("expected fallback to be spoken by default")
	}
	if cfg.Chat.DefaultLanguage != "en" {
		t.Fatalf("expected default language en, got %s", cfg.Chat.DefaultLanguage)
	}
	if cfg.Speech.Enabled {
		t.Fatalf("speech should be disabled without credentials")
	}
	if cfg.Assets.CacheName != "smartguard-cache" {
		t.Fatalf("unexpected cache name %s", cfg.Assets.CacheName)
	}
	if len(cfg.Assets.Precache) != len(DefaultPrecache) {
		t.Fatalf("expected %d precache entries, got %d", len(DefaultPrecache), len(cfg.Assets.Precache))
	}
}

func TestLoadSpeechEnabledWithCredentials(t *testing.T) {
	t.Setenv("SPEECH_APP_ID", "app")
	t.Setenv("SPEECH_ACCESS_TOKEN", "")
	t.Setenv("SPEECH_API_KEY", "key")
	t.Setenv("SPEECH_VOICES", "en:en_voice, zh-CN:zh_voice")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if !cfg.Speech.Enabled {
		t.Fatalf("expected speech enabled")
	}
	if cfg.Speech.AccessToken != "key" {
		t.Fatalf("expected API key to back the access token, got %q", cfg.Speech.AccessToken)
	}
	if cfg.Speech.Voices["zh-CN"] != "zh_voice" || cfg.Speech.Voices["en"] != "en_voice" {
		t.Fatalf("unexpected voices: %v", cfg.Speech.Voices)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		key   string
		value string
	}{
		{key: "PORT", value: "80 80"},
		{key: "CHAT_TIMEOUT_SECONDS", value: "soon"},
		{key: "CHAT_TIMEOUT_SECONDS", value: "0"},
		{key: "CHAT_ENDPOINT", value: "ftp://example.com/chat"},
		{key: "SPEAK_FALLBACK", value: "maybe"},
		{key: "SPEECH_VOICES", value: "en"},
		{key: "SPEECH_TTS_SPEED", value: "fast"},
	}

	for _, tc := range cases {
		t.Run(tc.key+"="+tc.value, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q", tc.key, tc.value)
			}
		})
	}
}

func TestLoadPrecacheOverride(t *testing.T) {
	t.Setenv("ASSET_PRECACHE", "/, /static/app.js ,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	want := []string{"/", "/static/app.js"}
	if len(cfg.Assets.Precache) != len(want) {
		t.Fatalf("got %v, want %v", cfg.Assets.Precache, want)
	}
	for i := range want {
		if cfg.Assets.Precache[i] != want[i] {
			t.Fatalf("got %v, want %v", cfg.Assets.Precache, want)
		}
	}
}
