package server

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/V3R0N1C4/MailSystem/internal/email"
	"github.com/V3R0N1C4/MailSystem/internal/registry"
	"github.com/V3R0N1C4/MailSystem/internal/store"
)

// startServer runs a server on a loopback port backed by an in-memory
// registry holding a@x.com, b@x.com and c@x.com.
func startServer(t *testing.T) (*Server, *registry.Registry) {
	t.Helper()

	reg := registry.New([]string{"a@x.com", "b@x.com", "c@x.com"}, registry.Options{
		Store: store.New(store.NewMemoryBackend()),
	})
	if err := reg.Load(context.Background()); err != nil {
		t.Fatalf("failed to load registry: %v", err)
	}

	srv := New(Config{ListenAddr: "127.0.0.1:0", ReadTimeout: 5 * time.Second}, reg)
	if err := srv.Listen(); err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Serve returned error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return srv, reg
}

// roundTrip sends one request line and reads one response line.
func roundTrip(t *testing.T, addr, request string) string {
	t.Helper()

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Write([]byte(request + "\n")); err != nil {
		t.Fatalf("failed to write request: %v", err)
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	return strings.TrimRight(line, "\n")
}

func TestServer_SendThenFetch(t *testing.T) {
	t.Parallel()

	srv, _ := startServer(t)
	addr := srv.Addr()

	msg := email.New("a@x.com", []string{"b@x.com"}, "Hi", "Test")
	payload, err := email.Encode(msg)
	if err != nil {
		t.Fatalf("failed to encode: %v", err)
	}

	if got := roundTrip(t, addr, "SEND_EMAIL:"+payload); got != "OK:Email inviata con successo" {
		t.Fatalf("send: got %q", got)
	}

	resp := roundTrip(t, addr, "GET_EMAILS:b@x.com,0")
	if !strings.HasPrefix(resp, "OK:") {
		t.Fatalf("get: got %q", resp)
	}
	received, err := email.DecodeList(strings.TrimPrefix(resp, "OK:"))
	if err != nil {
		t.Fatalf("failed to decode list: %v", err)
	}
	if len(received) != 1 || received[0].Sender != "a@x.com" || received[0].Subject != "Hi" || received[0].ID != msg.ID {
		t.Errorf("received: got %+v", received)
	}

	resp = roundTrip(t, addr, "GET_SENT_EMAILS:a@x.com")
	sent, err := email.DecodeList(strings.TrimPrefix(resp, "OK:"))
	if err != nil {
		t.Fatalf("failed to decode list: %v", err)
	}
	if len(sent) != 1 || sent[0].ID != msg.ID {
		t.Errorf("sent: got %+v", sent)
	}
}

func TestServer_RejectedSendMutatesNothing(t *testing.T) {
	t.Parallel()

	srv, reg := startServer(t)

	msg := email.New("a@x.com", []string{"b@x.com", "ghost@x.com", "c@x.com"}, "Hi", "")
	payload, _ := email.Encode(msg)

	got := roundTrip(t, srv.Addr(), "SEND_EMAIL:"+payload)
	if got != "ERROR:Destinatario non valido: ghost@x.com" {
		t.Errorf("got %q", got)
	}

	for _, stats := range reg.Stats() {
		if stats.Received != 0 || stats.Sent != 0 {
			t.Errorf("%s was mutated: %+v", stats.Address, stats)
		}
	}
}

func TestServer_ValidateUnknownAccount(t *testing.T) {
	t.Parallel()

	srv, _ := startServer(t)

	if got := roundTrip(t, srv.Addr(), "VALIDATE_EMAIL:nobody@x.com"); got != "ERROR:Email non esistente" {
		t.Errorf("got %q", got)
	}
}

func TestServer_DeleteReceivedKeepsSentCopy(t *testing.T) {
	t.Parallel()

	srv, _ := startServer(t)
	addr := srv.Addr()

	msg := email.New("a@x.com", []string{"b@x.com"}, "Hi", "")
	payload, _ := email.Encode(msg)
	roundTrip(t, addr, "SEND_EMAIL:"+payload)

	if got := roundTrip(t, addr, "DELETE_EMAIL:b@x.com,"+msg.ID+",false"); got != "OK:Email eliminata" {
		t.Fatalf("delete: got %q", got)
	}
	if got := roundTrip(t, addr, "DELETE_EMAIL:b@x.com,"+msg.ID+",false"); got != "ERROR:Email non trovata" {
		t.Errorf("second delete: got %q", got)
	}
	if got := roundTrip(t, addr, "GET_EMAILS:b@x.com,0"); got != "OK:[]" {
		t.Errorf("received after delete: got %q", got)
	}
	if got := roundTrip(t, addr, "GET_SENT_EMAILS:a@x.com"); !strings.Contains(got, msg.ID) {
		t.Errorf("sender copy should remain: got %q", got)
	}
}

func TestServer_UnknownCommand(t *testing.T) {
	t.Parallel()

	srv, _ := startServer(t)

	if got := roundTrip(t, srv.Addr(), "LIST_ALL:x"); got != "ERROR:Comando non riconosciuto" {
		t.Errorf("got %q", got)
	}
}

func TestServer_OneRequestPerConnection(t *testing.T) {
	t.Parallel()

	srv, _ := startServer(t)

	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	if _, err := conn.Write([]byte("VALIDATE_EMAIL:a@x.com\nVALIDATE_EMAIL:b@x.com\n")); err != nil {
		t.Fatalf("failed to write: %v", err)
	}

	reader := bufio.NewReader(conn)
	first, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("failed to read: %v", err)
	}
	if first != "OK:Email valida\n" {
		t.Errorf("first response: got %q", first)
	}
	if _, err := reader.ReadString('\n'); err == nil {
		t.Error("expected the connection to close after one response")
	}
}

func TestServer_ProbeWithoutRequest(t *testing.T) {
	t.Parallel()

	srv, _ := startServer(t)

	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	conn.Close()

	// The server keeps serving after a bare connect.
	if got := roundTrip(t, srv.Addr(), "VALIDATE_EMAIL:a@x.com"); got != "OK:Email valida" {
		t.Errorf("got %q", got)
	}
}

func TestServer_EmptyRequestLine(t *testing.T) {
	t.Parallel()

	srv, _ := startServer(t)

	if got := roundTrip(t, srv.Addr(), ""); got != "ERROR:Comando non riconosciuto" {
		t.Errorf("got %q, want %q", got, "ERROR:Comando non riconosciuto")
	}
}

func TestServer_LogsConnectionLifecycle(t *testing.T) {
	t.Parallel()

	srv, reg := startServer(t)

	if got := roundTrip(t, srv.Addr(), "VALIDATE_EMAIL:a@x.com"); got != "OK:Email valida" {
		t.Fatalf("got %q", got)
	}

	// The close line is written after the response, so poll for it.
	deadline := time.Now().Add(2 * time.Second)
	for {
		joined := strings.Join(reg.Log().Lines(), "\n")
		if strings.Contains(joined, "Nuova connessione da: 127.0.0.1:") &&
			strings.Contains(joined, "Connessione chiusa con: 127.0.0.1:") {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("operation log missing connection lines:\n%s", joined)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServer_ConcurrentSends(t *testing.T) {
	t.Parallel()

	srv, reg := startServer(t)
	addr := srv.Addr()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			payload, _ := email.Encode(email.New("a@x.com", []string{"b@x.com", "c@x.com"}, "Hi", ""))
			if got := roundTrip(t, addr, "SEND_EMAIL:"+payload); got != "OK:Email inviata con successo" {
				t.Errorf("send: got %q", got)
			}
		}()
	}
	wg.Wait()

	for _, stats := range reg.Stats() {
		switch stats.Address {
		case "a@x.com":
			if stats.Sent != n {
				t.Errorf("sent: got %d, want %d", stats.Sent, n)
			}
		default:
			if stats.Received != n {
				t.Errorf("%s received: got %d, want %d", stats.Address, stats.Received, n)
			}
		}
	}
}

func TestServer_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	reg := registry.New([]string{"a@x.com"}, registry.Options{Store: store.New(store.NewMemoryBackend())})
	srv := New(Config{ListenAddr: "127.0.0.1:0"}, reg)
	if err := srv.Listen(); err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	addr := srv.Addr()

	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background()) }()

	srv.Stop()
	srv.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve: unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Stop")
	}

	if conn, err := net.DialTimeout("tcp", addr, time.Second); err == nil {
		conn.Close()
		t.Error("listening socket should be released after Stop")
	}
}

func TestServer_ListenFailure(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer ln.Close()

	reg := registry.New([]string{"a@x.com"}, registry.Options{Store: store.New(store.NewMemoryBackend())})
	srv := New(Config{ListenAddr: ln.Addr().String()}, reg)

	if err := srv.ListenAndServe(context.Background()); err == nil {
		t.Fatal("expected bind error")
	}
}
