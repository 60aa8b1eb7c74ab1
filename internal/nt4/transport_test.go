package nt4

import (
	"errors"
	"testing"

	"nt4client/internal/nt4/nt4err"
)

func TestEnqueueAfterCloseReturnsErrTaskEnded(t *testing.T) {
	client := NewClient("127.0.0.1:1", testConfig("task-ended-test"))
	client.Connect()
	client.Close()

	if err := client.transport.sendControl([]byte("[]")); !errors.Is(err, nt4err.ErrTaskEnded) {
		t.Errorf("sendControl after close = %v, want ErrTaskEnded", err)
	}
	if err := client.transport.sendBinary([]byte{}); !errors.Is(err, nt4err.ErrTaskEnded) {
		t.Errorf("sendBinary after close = %v, want ErrTaskEnded", err)
	}
}
