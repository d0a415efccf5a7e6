package lpstream

import (
	"context"
	"net"
	"testing"
	"time"
)

func newTestServer(t *testing.T, connOpts []Option, opts ...ServerOption) *Server {
	t.Helper()
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}
	server, err := New(addr, connOpts, opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return server
}

func TestNew(t *testing.T) {
	server := newTestServer(t, []Option{OnMessageOption(noopOnMessage)})
	defer server.Close()

	if server.listener == nil {
		t.Error("listener is nil")
	}
}

func TestNew_MissingOnMessage(t *testing.T) {
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}
	_, err := New(addr, nil)
	if err != ErrInvalidOnMessage {
		t.Errorf("expected ErrInvalidOnMessage, got %v", err)
	}
}

func TestNew_InvalidAddr(t *testing.T) {
	// First create a listener to occupy a port
	server1 := newTestServer(t, []Option{OnMessageOption(noopOnMessage)})
	defer server1.Close()

	// Try to listen on the same port - should fail
	occupiedAddr := server1.listener.Addr().(*net.TCPAddr)
	_, err := New(occupiedAddr, []Option{OnMessageOption(noopOnMessage)})
	if err == nil {
		t.Error("expected error for occupied port")
	}
}

func TestServer_Close(t *testing.T) {
	server := newTestServer(t, []Option{OnMessageOption(noopOnMessage)})

	if err := server.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	// Verify listener is closed by trying to accept
	_, err := server.listener.AcceptTCP()
	if err == nil {
		t.Error("expected error after close")
	}
}

func TestServer_Addr(t *testing.T) {
	server := newTestServer(t, []Option{OnMessageOption(noopOnMessage)})
	defer server.Close()

	if server.Addr() == nil {
		t.Error("Addr returned nil")
	}
}

func TestServer_ServeEcho(t *testing.T) {
	echo := func(c *Conn, msg []byte) error {
		return c.WriteBlocking(context.Background(), append([]byte(nil), msg...))
	}

	connected := make(chan *Conn, 1)
	disconnected := make(chan error, 1)
	server := newTestServer(t,
		[]Option{OnMessageOption(echo), CopyMessagesOption(true)},
		OnConnectOption(func(c *Conn) { connected <- c }),
		OnDisconnectOption(func(c *Conn, err error) { disconnected <- err }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ctx)
	}()

	received := make(chan string, 2)
	client, err := Dial(context.Background(), server.Addr().String(),
		OnMessageOption(func(c *Conn, msg []byte) error {
			received <- string(msg)
			return nil
		}),
	)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	clientCtx, clientCancel := context.WithCancel(context.Background())
	defer clientCancel()
	go client.Run(clientCtx)

	select {
	case <-connected:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for connection")
	}

	if err := client.WriteBlocking(clientCtx, []byte("hello world")); err != nil {
		t.Fatalf("WriteBlocking failed: %v", err)
	}

	select {
	case got := <-received:
		if got != "hello world" {
			t.Errorf("echo = %q, want %q", got, "hello world")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for echo")
	}

	if n := server.Conns(); n != 1 {
		t.Errorf("Conns = %d, want 1", n)
	}
	if n := server.Broadcast([]byte("to all")); n != 1 {
		t.Errorf("Broadcast reached %d conns, want 1", n)
	}

	select {
	case got := <-received:
		if got != "to all" {
			t.Errorf("broadcast = %q, want %q", got, "to all")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for broadcast")
	}

	// Cancel context to stop server; tracked connections are closed too
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for Serve to return")
	}

	select {
	case <-disconnected:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for disconnect hook")
	}

	if n := server.Conns(); n != 0 {
		t.Errorf("Conns = %d after shutdown, want 0", n)
	}
}

func TestServer_ShutdownTimeout_BypassedByClose(t *testing.T) {
	server := newTestServer(t,
		[]Option{OnMessageOption(noopOnMessage)},
		ServerShutdownTimeoutOption(time.Minute),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ctx)
	}()

	// Give server time to start
	time.Sleep(time.Millisecond * 50)
	cancel()
	time.Sleep(time.Millisecond * 50)

	if err := server.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not bypass the shutdown timeout")
	}
}
