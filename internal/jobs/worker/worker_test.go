package worker

import (
	"fmt"
	"strings"
	"testing"
)

func TestPanicErrorCarriesRecoveredValue(t *testing.T) {
	err := errFromRecover("index out of range [3]")
	if !strings.Contains(err.Error(), "index out of range [3]") {
		t.Fatalf("recovered value missing from message: %q", err.Error())
	}

	err = errFromRecover(fmt.Errorf("nil map write"))
	if !strings.Contains(err.Error(), "nil map write") {
		t.Fatalf("recovered error missing from message: %q", err.Error())
	}
	if !strings.HasPrefix(err.Error(), "panic: ") {
		t.Fatalf("message must mark the crash as a panic: %q", err.Error())
	}
}
