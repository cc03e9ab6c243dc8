package pkg

import (
	"errors"
	"fmt"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	// Verify all sentinel errors are distinct
	errs := []error{
		ErrWouldBlock,
		ErrBusy,
		ErrStall,
		ErrProtocol,
		ErrReset,
		ErrNotConfigured,
		ErrInvalidEndpoint,
		ErrInvalidState,
		ErrInvalidRequest,
		ErrDescriptorTooShort,
		ErrDescriptorTypeMismatch,
		ErrSetupPacketTooShort,
		ErrBufferTooSmall,
		ErrNoResources,
		ErrInvalidParameter,
		ErrNotSupported,
		ErrAlreadyTaken,
		ErrNoDevice,
		ErrClosed,
	}

	for i, err1 := range errs {
		if err1 == nil {
			t.Errorf("error %d is nil", i)
			continue
		}
		for j, err2 := range errs {
			if i != j && errors.Is(err1, err2) {
				t.Errorf("error %d and %d are equal", i, j)
			}
		}
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		err     error
		wantMsg string
	}{
		{ErrWouldBlock, "operation would block"},
		{ErrStall, "endpoint stalled"},
		{ErrAlreadyTaken, "peripherals already taken"},
		{ErrNoDevice, "device not present"},
	}

	for _, tt := range tests {
		t.Run(tt.wantMsg, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("error.Error() = %v, want %v", got, tt.wantMsg)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"would block", ErrWouldBlock, true},
		{"busy", ErrBusy, true},
		{"wrapped", fmt.Errorf("ep 0x81: %w", ErrWouldBlock), true},
		{"stall", ErrStall, false},
		{"taken", ErrAlreadyTaken, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
