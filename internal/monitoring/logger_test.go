package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got string
	SetLogger(func(format string, v ...interface{}) {
		got = fmt.Sprintf(format, v...)
	})

	Logf("hello %s %d", "world", 7)
	if got != "hello world 7" {
		t.Errorf("captured %q, want %q", got, "hello world 7")
	}
}

func TestSetLogger_Nil(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	SetLogger(nil)
	if Logf == nil {
		t.Fatal("SetLogger(nil) left Logf nil, want no-op")
	}
	// Must not panic.
	Logf("dropped %d", 1)
}
