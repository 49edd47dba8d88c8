package secret

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func testSource(env map[string]string, tty bool, typed string, readErr error) *Source {
	s := NewSource("SETTLE_SECRET", "JWT secret")
	s.lookupEnv = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	s.isTerminal = func() bool { return tty }
	s.readSecret = func() ([]byte, error) { return []byte(typed), readErr }
	s.prompt = io.Discard
	return s
}

func TestSourcePrefersEnvironment(t *testing.T) {
	s := testSource(map[string]string{"SETTLE_SECRET": "from-env"}, true, "typed", nil)
	got, err := s.Get()
	if err != nil || got != "from-env" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	s := testSource(map[string]string{"SETTLE_SECRET": "  "}, true, "typed", nil)
	if _, err := s.Get(); err == nil || !strings.Contains(err.Error(), "set but empty") {
		t.Fatalf("expected blank env error, got %v", err)
	}
}

func TestSourcePromptsOnTerminal(t *testing.T) {
	s := testSource(nil, true, "typed", nil)
	got, err := s.Get()
	if err != nil || got != "typed" {
		t.Fatalf("got %q, %v", got, err)
	}
	s.readSecret = func() ([]byte, error) { return nil, errors.New("called twice") }
	if again, err := s.Get(); err != nil || again != "typed" {
		t.Fatalf("expected cached value, got %q %v", again, err)
	}
}

func TestSourceErrors(t *testing.T) {
	if _, err := testSource(nil, false, "", nil).Get(); err == nil || !strings.Contains(err.Error(), "SETTLE_SECRET") {
		t.Fatalf("expected non-terminal error, got %v", err)
	}
	if _, err := testSource(nil, true, "   ", nil).Get(); err == nil {
		t.Fatalf("expected empty secret error")
	}
	if _, err := testSource(nil, true, "", errors.New("eof")).Get(); err == nil {
		t.Fatalf("expected read error")
	}
}
