package env

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestString_DefaultWhenBlank(t *testing.T) {
	t.Setenv("EVALGATE_TEST_STRING", "   ")
	if got := String("EVALGATE_TEST_STRING", "fallback"); got != "fallback" {
		t.Fatalf("String()=%q, want fallback", got)
	}
}

func TestString_Override(t *testing.T) {
	t.Setenv("EVALGATE_TEST_STRING", " value ")
	if got := String("EVALGATE_TEST_STRING", "fallback"); got != "value" {
		t.Fatalf("String()=%q, want value", got)
	}
}

func TestDuration(t *testing.T) {
	got, err := Duration("EVALGATE_TEST_DURATION_MISSING", 5*time.Second)
	if err != nil || got != 5*time.Second {
		t.Fatalf("Duration()=%v err=%v, want 5s", got, err)
	}

	t.Setenv("EVALGATE_TEST_DURATION", "250ms")
	got, err = Duration("EVALGATE_TEST_DURATION", 5*time.Second)
	if err != nil || got != 250*time.Millisecond {
		t.Fatalf("Duration()=%v err=%v, want 250ms", got, err)
	}

	t.Setenv("EVALGATE_TEST_DURATION", "soon")
	if _, err := Duration("EVALGATE_TEST_DURATION", time.Second); err == nil {
		t.Fatalf("Duration() expected error")
	}
}

func TestBoolAndInt_Invalid(t *testing.T) {
	t.Setenv("EVALGATE_TEST_BOOL", "nope")
	if _, err := Bool("EVALGATE_TEST_BOOL", false); err == nil {
		t.Fatalf("Bool() expected error")
	}
	t.Setenv("EVALGATE_TEST_INT", "seven")
	if _, err := Int("EVALGATE_TEST_INT", 1); err == nil {
		t.Fatalf("Int() expected error")
	}
}

func TestInt_Override(t *testing.T) {
	t.Setenv("EVALGATE_TEST_INT", "7")
	got, err := Int("EVALGATE_TEST_INT", 42)
	if err != nil || got != 7 {
		t.Fatalf("Int()=%d err=%v, want 7", got, err)
	}
}

func TestList(t *testing.T) {
	t.Setenv("EVALGATE_TEST_LIST", "a, b,,c ")
	got := List("EVALGATE_TEST_LIST", nil)
	if diff := cmp.Diff([]string{"a", "b", "c"}, got); diff != "" {
		t.Fatalf("List() mismatch (-want +got):\n%s", diff)
	}
	def := []string{"x"}
	if diff := cmp.Diff(def, List("EVALGATE_TEST_LIST_MISSING", def)); diff != "" {
		t.Fatalf("List() default mismatch (-want +got):\n%s", diff)
	}
}
