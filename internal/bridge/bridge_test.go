package bridge

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"
)

// tcpPair returns both ends of a loopback TCP connection.
func tcpPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := ln.Accept()
		ch <- result{c, err}
	}()

	dialed, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	r := <-ch
	if r.err != nil {
		t.Fatalf("accept: %v", r.err)
	}
	return dialed, r.conn
}

func TestSpliceTransparency(t *testing.T) {
	// left <-> a ==Splice== b <-> right
	left, a := tcpPair(t)
	b, right := tcpPair(t)

	done := make(chan struct{})
	go func() {
		Splice(a, b)
		close(done)
	}()

	payload := bytes.Repeat([]byte("0123456789abcdef"), 4096) // 64 KiB
	go func() {
		_, _ = left.Write(payload)
	}()

	got := make([]byte, len(payload))
	if _, err := io.ReadFull(right, got); err != nil {
		t.Fatalf("read forward: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("forward bytes corrupted")
	}

	// Reverse direction while the bridge is still up.
	reply := []byte("pong")
	if _, err := right.Write(reply); err != nil {
		t.Fatalf("write reverse: %v", err)
	}
	gotReply := make([]byte, len(reply))
	if _, err := io.ReadFull(left, gotReply); err != nil {
		t.Fatalf("read reverse: %v", err)
	}
	if !bytes.Equal(gotReply, reply) {
		t.Fatal("reverse bytes corrupted")
	}

	// Closing one outer end must terminate the bridge and the far side.
	_ = left.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Splice did not return after close")
	}
	buf := make([]byte, 1)
	_ = right.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := right.Read(buf); err == nil {
		t.Fatal("far side still open after bridge teardown")
	}
}

func TestSpliceOrderPreserved(t *testing.T) {
	left, a := tcpPair(t)
	b, right := tcpPair(t)
	go Splice(a, b)

	var want bytes.Buffer
	go func() {
		for i := 0; i < 100; i++ {
			chunk := bytes.Repeat([]byte{byte(i)}, 37)
			_, _ = left.Write(chunk)
		}
		_ = left.Close()
	}()
	for i := 0; i < 100; i++ {
		want.Write(bytes.Repeat([]byte{byte(i)}, 37))
	}

	got, err := io.ReadAll(right)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, want.Bytes()) {
		t.Fatalf("stream reordered or truncated: got %d bytes, want %d", len(got), want.Len())
	}
}
