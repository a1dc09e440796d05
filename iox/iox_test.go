package iox

import (
	"errors"
	"io"
	"strings"
	"testing"
)

type spyBody struct {
	io.Reader
	closed bool
}

func (s *spyBody) Close() error { s.closed = true; return errors.New("ignored") }

func TestDiscardClose(t *testing.T) {
	s := &spyBody{Reader: strings.NewReader("")}
	DiscardClose(s)
	if !s.closed {
		t.Fatal("Close was not called")
	}
}

func TestDrainClose(t *testing.T) {
	r := strings.NewReader("error body")
	s := &spyBody{Reader: r}
	DrainClose(s)
	if !s.closed {
		t.Fatal("Close was not called")
	}
	if r.Len() != 0 {
		t.Fatalf("body not drained, %d bytes left", r.Len())
	}
}

func TestDrainCloseBoundsLargeBody(t *testing.T) {
	r := strings.NewReader(strings.Repeat("x", DrainLimit*4))
	s := &spyBody{Reader: r}
	DrainClose(s)
	if !s.closed {
		t.Fatal("Close was not called")
	}
	if left := r.Len(); left != DrainLimit*3 {
		t.Fatalf("drained past limit, %d bytes left", left)
	}
}
