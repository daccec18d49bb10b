package netstack

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"testing"
	"time"
)

func echoOnce(c net.Conn) {
	defer c.Close()
	buf := make([]byte, 4)
	if _, err := io.ReadFull(c, buf); err != nil {
		return
	}
	_, _ = c.Write(buf)
	// wait for the peer to finish reading before tearing the stream down
	_, _ = io.ReadFull(c, buf[:1])
}

func roundTrip(t *testing.T, c net.Conn) {
	t.Helper()
	defer c.Close()
	_ = c.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := c.Write([]byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(c, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf) != "ping" {
		t.Fatalf("got %q", string(buf))
	}
}

func TestTCP_Echo(t *testing.T) {
	srv := NewTCPServer("127.0.0.1:0", nil)
	if err := srv.Start(context.Background(), echoOnce); err != nil {
		t.Fatal(err)
	}
	defer srv.Stop()

	c, err := DialTCP(context.Background(), srv.Addr(), time.Second, nil)
	if err != nil {
		t.Fatal(err)
	}
	roundTrip(t, c)
}

func TestTCP_TLSEcho(t *testing.T) {
	serverCfg, err := GenerateSelfSignedTLS([]string{"127.0.0.1"}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	srv := NewTCPServer("127.0.0.1:0", serverCfg)
	if err := srv.Start(context.Background(), echoOnce); err != nil {
		t.Fatal(err)
	}
	defer srv.Stop()

	c, err := DialTCP(context.Background(), srv.Addr(), time.Second, &tls.Config{InsecureSkipVerify: true})
	if err != nil {
		t.Fatal(err)
	}
	roundTrip(t, c)
}

func TestTCP_StopOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := NewTCPServer("127.0.0.1:0", nil)
	if err := srv.Start(ctx, echoOnce); err != nil {
		t.Fatal(err)
	}
	cancel()
	select {
	case <-srv.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("accept loop still running after cancel")
	}
	if err := srv.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestQUIC_Echo(t *testing.T) {
	serverCfg, err := GenerateSelfSignedTLS([]string{"127.0.0.1"}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	srv := NewQUICServer("127.0.0.1:0", serverCfg)
	if err := srv.Start(context.Background(), echoOnce); err != nil {
		t.Fatal(err)
	}
	defer srv.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := DialQUIC(ctx, srv.Addr(), &tls.Config{InsecureSkipVerify: true})
	if err != nil {
		t.Fatal(err)
	}
	roundTrip(t, c)
}

func TestClientConfig_DerivesServerName(t *testing.T) {
	cfg := clientConfig("[::1]:443", &tls.Config{MinVersion: tls.VersionTLS12})
	if cfg.ServerName != "::1" {
		t.Fatalf("server name: %q", cfg.ServerName)
	}
	if cfg.MinVersion != tls.VersionTLS13 {
		t.Fatalf("min version: %x", cfg.MinVersion)
	}
}
