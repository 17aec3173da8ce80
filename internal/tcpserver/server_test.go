package tcpserver

import (
	"fmt"
	"net"
	"testing"
	"time"
)

func TestNewServer_DefaultLocalhostAddress(t *testing.T) {
	t.Parallel()

	s := NewServer("")
	if got := s.Addr(); got != "127.0.0.1:4000" {
		t.Fatalf("Addr() = %q, want %q", got, "127.0.0.1:4000")
	}
}

func TestNewServer_UsesConfiguredAddressAndBuffers(t *testing.T) {
	t.Parallel()

	s := NewServer("0.0.0.0:5000", ServerConfig{
		LineChannelSize: 64,
		MaxLineSize:     2048,
	})

	if got := s.Addr(); got != "0.0.0.0:5000" {
		t.Fatalf("Addr() = %q, want %q", got, "0.0.0.0:5000")
	}
	if got := cap(s.lineChan); got != 64 {
		t.Fatalf("line channel cap = %d, want %d", got, 64)
	}
	if got := s.maxLine; got != 2048 {
		t.Fatalf("max line size = %d, want %d", got, 2048)
	}
}

func TestServer_ReceivesLines(t *testing.T) {
	t.Parallel()

	s := NewServer("127.0.0.1:0")
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	conn, err := net.Dial("tcp", s.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	fmt.Fprintln(conn, "app/main.py:12:80: E501 line too long")
	fmt.Fprintln(conn, "") // blank lines are dropped
	fmt.Fprintln(conn, "app/models.py:3:1: F401 'os' imported but unused")
	conn.Close()

	var got []string
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case env := <-s.Lines():
			if env.Source != "tcp" {
				t.Errorf("envelope source = %q, want tcp", env.Source)
			}
			got = append(got, env.Line)
		case <-timeout:
			t.Fatalf("timed out, received %d lines, want 2", len(got))
		}
	}
}

func TestServer_OversizedLineDropsConnectionOnly(t *testing.T) {
	t.Parallel()

	s := NewServer("127.0.0.1:0", ServerConfig{MaxLineSize: 256})
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	bad, err := net.Dial("tcp", s.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer bad.Close()
	bad.Write(append(make([]byte, 1024), '\n'))

	select {
	case env := <-s.Lines():
		t.Fatalf("oversized line was delivered: %q", env.Line)
	case <-time.After(300 * time.Millisecond):
	}

	// The server stays up for other clients.
	good, err := net.Dial("tcp", s.Addr())
	if err != nil {
		t.Fatalf("dial after oversized line: %v", err)
	}
	fmt.Fprintln(good, "app/main.py:12:80: E501 line too long")
	good.Close()

	select {
	case env := <-s.Lines():
		if env.Line != "app/main.py:12:80: E501 line too long" {
			t.Errorf("line = %q", env.Line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for line from second connection")
	}
}
