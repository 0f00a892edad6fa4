package xerrors

import (
	"errors"
	"runtime"
	"strings"
	"testing"
)

var errSentinel = errors.New("sentinel")

type stackPCs interface{ StackPCs() []uintptr }

func stackContains(pcs []uintptr, substr string) bool {
	frames := runtime.CallersFrames(pcs)
	for {
		fr, more := frames.Next()
		if strings.Contains(fr.Function, substr) {
			return true
		}
		if !more {
			return false
		}
	}
}

func TestNew_MessageAndStack(t *testing.T) {
	err := New("something broke")
	if err.Error() != "something broke" {
		t.Fatalf("Error() = %q", err.Error())
	}

	var hs stackPCs
	if !errors.As(err, &hs) || len(hs.StackPCs()) == 0 {
		t.Fatal("New error should carry a stack")
	}
	if !stackContains(hs.StackPCs(), "TestNew_MessageAndStack") {
		t.Fatal("stack should start at the caller")
	}
}

func TestNewf_FormatsAndWraps(t *testing.T) {
	err := Newf("store %s: %w", "tools", errSentinel)
	if err.Error() != "store tools: sentinel" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if !errors.Is(err, errSentinel) {
		t.Fatal("%w should be honored")
	}
}

func TestWithStack(t *testing.T) {
	if WithStack(nil) != nil {
		t.Fatal("WithStack(nil) should return nil")
	}

	err := WithStack(errSentinel)
	if err.Error() != "sentinel" {
		t.Fatalf("message changed: %q", err.Error())
	}
	if !errors.Is(err, errSentinel) {
		t.Fatal("should unwrap to sentinel")
	}
	var hs stackPCs
	if !errors.As(err, &hs) {
		t.Fatal("should carry a stack")
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "ctx") != nil {
		t.Fatal("Wrap(nil) should return nil")
	}

	err := Wrap(errSentinel, "open db")
	if err.Error() != "open db: sentinel" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if !errors.Is(err, errSentinel) {
		t.Fatal("should unwrap to sentinel")
	}

	var hp interface{ PC() uintptr }
	if !errors.As(err, &hp) || hp.PC() == 0 {
		t.Fatal("Wrap should record a call-site PC")
	}
}

func TestWrapf(t *testing.T) {
	if Wrapf(nil, "x %d", 1) != nil {
		t.Fatal("Wrapf(nil) should return nil")
	}
	err := Wrapf(errSentinel, "get tool %q", "chatgpt")
	if err.Error() != `get tool "chatgpt": sentinel` {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestWrap_DistinctCallSites(t *testing.T) {
	w1 := Wrap(errSentinel, "l1")
	w2 := Wrap(w1, "l2")

	pc1 := w1.(*annotated).PC() //nolint:errorlint // internal type
	pc2 := w2.(*annotated).PC() //nolint:errorlint // internal type
	if pc1 == 0 || pc2 == 0 || pc1 == pc2 {
		t.Fatalf("pcs = %d, %d; want distinct non-zero", pc1, pc2)
	}
	if w2.Error() != "l2: l1: sentinel" {
		t.Fatalf("Error() = %q", w2.Error())
	}
}

func TestEnsureTrace(t *testing.T) {
	if EnsureTrace(nil) != nil {
		t.Fatal("EnsureTrace(nil) should return nil")
	}

	traced := New("already")
	if EnsureTrace(traced) != traced { //nolint:errorlint // identity check
		t.Fatal("already-stacked error should be returned as is")
	}

	wrapped := Wrap(errSentinel, "ctx")
	var hs stackPCs
	if !errors.As(EnsureTrace(wrapped), &hs) {
		t.Fatal("wrapped error without stack should gain one")
	}
	if !errors.Is(EnsureTrace(errSentinel), errSentinel) {
		t.Fatal("EnsureTrace should preserve unwrap")
	}
}
