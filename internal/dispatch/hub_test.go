package dispatch

import (
	"errors"
	"testing"
	"time"
)

type fakeConn struct {
	frames []Frame
	fail   bool
	closed bool
}

func (f *fakeConn) WriteJSON(v interface{}) error {
	if f.fail {
		return errors.New("broken pipe")
	}
	f.frames = append(f.frames, v.(Frame))
	return nil
}

func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }
func (f *fakeConn) Close() error                     { f.closed = true; return nil }

func TestBroadcastScopedToService(t *testing.T) {
	h := NewHub(nil)
	a, b, other := &fakeConn{}, &fakeConn{}, &fakeConn{}
	h.add("s1", "u1", a)
	h.add("s1", "u2", b)
	h.add("s2", "u3", other)

	h.Broadcast("s1", FrameMessage, "on my way")
	if len(a.frames) != 1 || len(b.frames) != 1 {
		t.Fatalf("expected both s1 sessions to receive, got %d/%d", len(a.frames), len(b.frames))
	}
	if len(other.frames) != 0 {
		t.Fatalf("s2 must not receive s1 frames")
	}
	if a.frames[0].Type != FrameMessage {
		t.Fatalf("unexpected frame %+v", a.frames[0])
	}
}

func TestBroadcastDropsBrokenSessions(t *testing.T) {
	h := NewHub(nil)
	good, bad := &fakeConn{}, &fakeConn{fail: true}
	h.add("s1", "u1", good)
	h.add("s1", "u2", bad)
	h.Broadcast("s1", FrameLocation, nil)
	if h.Count("s1") != 1 {
		t.Fatalf("expected broken session removed, have %d", h.Count("s1"))
	}
	if !bad.closed {
		t.Fatalf("expected broken conn closed")
	}
}

func TestDropClosesOnlyThatUsersSessions(t *testing.T) {
	h := NewHub(nil)
	tab1, tab2, other, elsewhere := &fakeConn{}, &fakeConn{}, &fakeConn{}, &fakeConn{}
	h.add("s1", "u1", tab1)
	h.add("s1", "u1", tab2)
	h.add("s1", "u2", other)
	h.add("s2", "u1", elsewhere)

	if n := h.Drop("s1", "u1"); n != 2 {
		t.Fatalf("expected 2 sessions dropped, got %d", n)
	}
	if !tab1.closed || !tab2.closed || other.closed || elsewhere.closed {
		t.Fatalf("wrong sessions closed: %v %v %v %v", tab1.closed, tab2.closed, other.closed, elsewhere.closed)
	}
	h.Broadcast("s1", FrameMessage, "secret")
	if len(tab1.frames) != 0 || len(other.frames) != 1 {
		t.Fatalf("dropped session still receives: %d/%d", len(tab1.frames), len(other.frames))
	}
	if h.Count("s2") != 1 {
		t.Fatalf("s2 sessions touched")
	}

	if n := h.DropService("s1"); n != 1 || !other.closed || h.Count("s1") != 0 {
		t.Fatalf("DropService = %d, closed=%v", n, other.closed)
	}
}
