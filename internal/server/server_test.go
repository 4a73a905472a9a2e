package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/mitrokun/wyoming-supertonic/internal/config"
	"github.com/mitrokun/wyoming-supertonic/internal/engine"
	"github.com/mitrokun/wyoming-supertonic/internal/protocol"
)

func TestListenAddr(t *testing.T) {
	addr, err := ListenAddr("tcp://0.0.0.0:10209")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr != "0.0.0.0:10209" {
		t.Fatalf("unexpected addr: %q", addr)
	}
	if _, err := ListenAddr("udp://0.0.0.0:10209"); err == nil {
		t.Fatal("expected error for non-tcp scheme")
	}
	if _, err := ListenAddr("tcp://nohost"); err == nil {
		t.Fatal("expected error for missing port")
	}
}

func TestServerServesClients(t *testing.T) {
	cfg := config.Default()
	cfg.Server.URI = "tcp://127.0.0.1:0"
	srv, err := New(cfg, engine.NewMockBackend(), nil, nil, discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.Close()

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	writer := protocol.NewWriter(conn)
	reader := protocol.NewReader(conn)

	if err := writer.WriteEvent(protocol.NewEvent(protocol.TypeDescribe, nil)); err != nil {
		t.Fatalf("write describe: %v", err)
	}
	ev, err := reader.ReadEvent()
	if err != nil {
		t.Fatalf("read info: %v", err)
	}
	if ev.Type != protocol.TypeInfo {
		t.Fatalf("expected info event, got %s", ev.Type)
	}

	if err := writer.WriteEvent(protocol.NewEvent(protocol.TypeSynthesize,
		protocol.Synthesize{Text: "Hello from the network."})); err != nil {
		t.Fatalf("write synthesize: %v", err)
	}
	var sawStart, sawStop bool
	for !sawStop {
		ev, err := reader.ReadEvent()
		if err != nil {
			t.Fatalf("read audio stream: %v", err)
		}
		switch ev.Type {
		case protocol.TypeAudioStart:
			sawStart = true
		case protocol.TypeAudioChunk:
		case protocol.TypeAudioStop:
			sawStop = true
		default:
			t.Fatalf("unexpected %s event", ev.Type)
		}
	}
	if !sawStart {
		t.Fatal("audio-stop arrived before audio-start")
	}

	deadline := time.Now().Add(time.Second)
	for srv.Sessions() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if srv.Sessions() != 1 {
		t.Fatalf("expected 1 live session, got %d", srv.Sessions())
	}
}

func TestServerCloseDisconnectsClients(t *testing.T) {
	cfg := config.Default()
	cfg.Server.URI = "tcp://127.0.0.1:0"
	srv, err := New(cfg, engine.NewMockBackend(), nil, nil, discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Wait for the session to register, then shut down underneath it.
	deadline := time.Now().Add(time.Second)
	for srv.Sessions() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	srv.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := protocol.NewReader(conn).ReadEvent(); err == nil {
		t.Fatal("expected read to fail after server close")
	}
	if srv.Sessions() != 0 {
		t.Fatalf("expected 0 live sessions, got %d", srv.Sessions())
	}
}
