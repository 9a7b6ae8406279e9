// SPDX-License-Identifier: MIT
package main

import (
	"errors"
	"io"
	"locator/internal/server"
	"locator/internal/tdoa"
	"locator/internal/transport"
	"locator/internal/transport/udp"
	"net"
	"testing"
	"time"
)

// freeAddr returns a loopback address nothing is listening on.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

// newServices builds every collaborator run creates, over a fresh engine.
func newServices(t *testing.T) (*services, *udp.UDPSender, *transport.WebSocketTransport) {
	t.Helper()
	engine := tdoa.NewEngine(tdoa.DefaultEngineConfig())

	ws := transport.NewWebSocketTransport(freeAddr(t))
	srv := server.New(freeAddr(t), engine, server.Options{Version: "test"})
	runner, err := tdoa.NewRunner(10*time.Millisecond, engine, ws, srv.Hub())
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	sender, err := udp.NewUDPSender("127.0.0.1:9")
	if err != nil {
		t.Fatalf("NewUDPSender: %v", err)
	}
	publisher, err := udp.NewPublisher(10*time.Millisecond, sender, engine)
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	return &services{
		runner:    runner,
		publisher: publisher,
		closers:   []io.Closer{ws},
		srv:       srv,
	}, sender, ws
}

func assertReleased(t *testing.T, sender *udp.UDPSender, ws *transport.WebSocketTransport) {
	t.Helper()
	if err := sender.Send([]byte{1}); !errors.Is(err, udp.ErrSenderClosed) {
		t.Errorf("UDP sender still open: Send error = %v", err)
	}
	if err := ws.Send("x"); !errors.Is(err, transport.ErrTransportClosed) {
		t.Errorf("WebSocket transport still open: Send error = %v", err)
	}
}

func TestServices_CloseBeforeStart(t *testing.T) {
	svc, sender, ws := newServices(t)

	// A failed capture start returns before anything was started.
	svc.close()
	assertReleased(t, sender, ws)
	if svc.runner != nil || svc.publisher != nil || svc.srv != nil || svc.closers != nil {
		t.Errorf("services not cleared: %+v", svc)
	}

	// A second close is harmless.
	svc.close()
}

func TestServices_StartThenClose(t *testing.T) {
	svc, sender, ws := newServices(t)
	addr := svc.srv.Addr()

	svc.start()
	serving := svc.serving

	deadline := time.Now().Add(2 * time.Second)
	for {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			conn.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never listened on %s: %v", addr, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	svc.close()
	assertReleased(t, sender, ws)

	select {
	case <-serving:
	case <-time.After(2 * time.Second):
		t.Fatal("server goroutine still running after close")
	}
}
