package main

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/zhouzirui/smartguard/internal/config"
)

func TestNewAssetCache(t *testing.T) {
	cache, err := newAssetCache(config.AssetsConfig{Dir: t.TempDir(), CacheName: "smartguard-cache"}, nil)
	if err != nil {
		t.Fatalf("newAssetCache err: %v", err)
	}
	if cache.Name() != "smartguard-cache" {
		t.Fatalf("unexpected cache name %s", cache.Name())
	}

	if _, err := newAssetCache(config.AssetsConfig{Origin: "ftp://example.com"}, nil); err == nil {
		t.Fatalf("expected invalid origin error")
	}
}

func TestRunServerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}

	done := make(chan error, 1)
	go func() { done <- runServer(ctx, srv) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Fatalf("runServer err: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
