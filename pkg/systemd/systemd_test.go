package systemd

import (
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNoSocketIsNoop(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	sent, err := Ready()
	if sent || err != nil {
		t.Fatalf("Ready = (%v, %v), want (false, nil)", sent, err)
	}
}

func TestNotifications(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "notify.sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: sock, Net: "unixgram"})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer conn.Close()
	t.Setenv("NOTIFY_SOCKET", sock)

	read := func() string {
		t.Helper()
		buf := make([]byte, 256)
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		n, err := conn.Read(buf)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		return string(buf[:n])
	}

	if sent, err := Ready(); !sent || err != nil {
		t.Fatalf("Ready = (%v, %v)", sent, err)
	}
	if got := read(); got != "READY=1" {
		t.Fatalf("got %q, want READY=1", got)
	}

	if _, err := Reloading(); err != nil {
		t.Fatalf("Reloading: %v", err)
	}
	if got := read(); !strings.HasPrefix(got, "RELOADING=1\nMONOTONIC_USEC=") {
		t.Fatalf("got %q", got)
	}

	if _, err := Status("3 queued"); err != nil {
		t.Fatalf("Status: %v", err)
	}
	if got := read(); got != "STATUS=3 queued" {
		t.Fatalf("got %q", got)
	}
}
