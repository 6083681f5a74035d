package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func collect(t *testing.T, ch <-chan Signal) []Signal {
	t.Helper()
	var out []Signal
	timeout := time.After(5 * time.Second)
	for {
		select {
		case sig := <-ch:
			out = append(out, sig)
			if sig.Terminal() {
				return out
			}
		case <-timeout:
			t.Fatalf("timed out waiting for terminal signal, got %d signals", len(out))
		}
	}
}

func TestFramer_SplitsOnBlankLines(t *testing.T) {
	var f Framer
	frames := f.Push([]byte("data: a\n\ndata: b\r\n\r\ndata: c"))
	if len(frames) != 2 || frames[0] != "data: a" || frames[1] != "data: b" {
		t.Fatalf("frames = %q", frames)
	}
	if f.Buffered() == 0 {
		t.Fatal("expected partial frame to stay buffered")
	}
	tail, ok := f.Flush()
	if !ok || tail != "data: c" {
		t.Fatalf("Flush() = %q, %v", tail, ok)
	}
	if _, ok := f.Flush(); ok {
		t.Error("second Flush should return nothing")
	}
}

func TestFramer_SeparatorAcrossChunks(t *testing.T) {
	input := "event: x\r\ndata: {\"a\":1}\r\n\r\nevent: y\ndata: 2\n\n"
	for split := 1; split < len(input); split++ {
		var f Framer
		var frames []string
		frames = append(frames, f.Push([]byte(input[:split]))...)
		frames = append(frames, f.Push([]byte(input[split:]))...)
		if len(frames) != 2 {
			t.Fatalf("split %d: got %d frames %q", split, len(frames), frames)
		}
	}
}

func TestParseFrame(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  Event
		ok    bool
	}{
		{"named", "event: ping\ndata: {}", Event{Name: "ping", Data: "{}"}, true},
		{"multi data", "data: a\ndata: b", Event{Data: "a\nb"}, true},
		{"comment only", ": keep-alive", Event{}, false},
		{"no space", "data:[DONE]", Event{Data: "[DONE]"}, true},
		{"crlf", "event: x\r\ndata: y\r", Event{Name: "x", Data: "y"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseFrame(tt.frame)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ParseFrame() = %+v, %v; want %+v, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestTransport_DeliversFramesThenEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Test") != "1" {
			t.Errorf("header not forwarded")
		}
		flusher := w.(http.Flusher)
		for i := 0; i < 3; i++ {
			fmt.Fprintf(w, "data: %d\n\n", i)
			flusher.Flush()
		}
		// final frame without the blank-line terminator
		fmt.Fprint(w, "data: last")
	}))
	defer srv.Close()

	tr := New()
	ch, release := tr.Subscribe("r1", 8)
	defer release()

	if err := tr.Open(context.Background(), Request{ID: "r1", URL: srv.URL, Headers: map[string]string{"X-Test": "1"}}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	sigs := collect(t, ch)
	var frames []string
	for _, s := range sigs[:len(sigs)-1] {
		frames = append(frames, s.Frame)
	}
	if got := strings.Join(frames, ","); got != "data: 0,data: 1,data: 2,data: last" {
		t.Errorf("frames = %s", got)
	}
	if last := sigs[len(sigs)-1]; last.Kind != SignalEnd {
		t.Errorf("terminal kind = %s, want end", last.Kind)
	}
	waitFor(t, func() bool { return tr.ListenerCount("r1") == 0 && tr.Active() == 0 })
}

func TestTransport_StatusErrorIsTyped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"bad key sk-ant-REDACTED"}`)
	}))
	defer srv.Close()

	tr := New()
	ch, release := tr.Subscribe("r2", 1)
	defer release()

	err := tr.Open(context.Background(), Request{
		ID:      "r2",
		URL:     srv.URL,
		Headers: map[string]string{"x-api-key": "sk-ant-secretsecretsecret"},
	})
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TransportError, got %T %v", err, err)
	}
	if te.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d", te.StatusCode)
	}
	if strings.Contains(te.Headers["x-api-key"], "secretsecret") {
		t.Errorf("header not masked: %s", te.Headers["x-api-key"])
	}
	if strings.Contains(te.Error(), "abcdefghijklmnop") {
		t.Errorf("body not masked: %s", te.Error())
	}
	sigs := collect(t, ch)
	if len(sigs) != 1 || sigs[0].Kind != SignalError {
		t.Fatalf("signals = %+v", sigs)
	}
	if tr.ListenerCount("r2") != 0 {
		t.Error("listeners leaked")
	}
}

func TestTransport_AbortDeliversExactlyOneTerminal(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: first\n\n")
		w.(http.Flusher).Flush()
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	tr := New()
	var terminals int
	done := make(chan struct{})
	tr.Listen("r3", func(s Signal) {
		if s.Terminal() {
			terminals++
			close(done)
		}
	})

	if err := tr.Open(context.Background(), Request{ID: "r3", URL: srv.URL}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	<-started
	if !tr.Abort("r3") {
		t.Fatal("Abort returned false for in-flight request")
	}
	tr.Abort("r3")

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("no terminal signal after abort")
	}
	waitFor(t, func() bool { return tr.Active() == 0 })
	if tr.Abort("r3") {
		t.Error("Abort after termination should return false")
	}
	if terminals != 1 {
		t.Errorf("terminal signals = %d, want 1", terminals)
	}
}

func TestTransport_RepeatedRequestsDoNotLeakListeners(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: x\n\n")
	}))
	defer srv.Close()

	tr := New()
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("req-%d", i)
		ch, release := tr.Subscribe(id, 4)
		if err := tr.Open(context.Background(), Request{ID: id, URL: srv.URL}); err != nil {
			t.Fatalf("Open: %v", err)
		}
		collect(t, ch)
		release()
	}
	waitFor(t, func() bool { return tr.Active() == 0 })
	tr.mu.Lock()
	n := len(tr.listeners)
	tr.mu.Unlock()
	if n != 0 {
		t.Errorf("listener map has %d entries", n)
	}
}

func TestMaskHeaders(t *testing.T) {
	got := MaskHeaders(map[string]string{
		"Authorization": "Bearer sk-1234567890abcdef",
		"Content-Type":  "application/json",
	})
	if got["Authorization"] != "Bearer sk-1****cdef" {
		t.Errorf("Authorization = %q", got["Authorization"])
	}
	if got["Content-Type"] != "application/json" {
		t.Errorf("Content-Type changed")
	}
}

func TestMaskURL(t *testing.T) {
	got := MaskURL("https://example.com/v1/models:stream?alt=sse&key=AIzaSyExampleKey123")
	if strings.Contains(got, "ExampleKey") {
		t.Errorf("key not masked: %s", got)
	}
	if !strings.Contains(got, "alt=sse") {
		t.Errorf("other params dropped: %s", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met")
}
