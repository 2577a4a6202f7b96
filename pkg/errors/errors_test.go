package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestHostErrorFormat(t *testing.T) {
	tests := []struct {
		err  *HostError
		want string
	}{
		{New(ErrRuntime, "boom"), "[RUNTIME] boom"},
		{BusBusyError("submit"), "[BUS_BUSY:bus] submit rejected: transaction in flight"},
		{ConfigValidationError("engine", "acc_range_g", "must be 8 or 16"),
			"[CONFIG_VALIDATION:acc_range_g] option 'acc_range_g' in section 'engine': must be 8 or 16"},
		{BusTransferError(fmt.Errorf("nak")), "[BUS_TRANSFER:bus] bus transfer failed: nak"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestIsWalksChain(t *testing.T) {
	inner := BusTransferError(stderrors.New("spi"))
	outer := Wrap(inner, ErrRuntime, "drain aborted")
	wrapped := fmt.Errorf("task: %w", outer)

	if !Is(wrapped, ErrBusTransfer) {
		t.Error("Is(wrapped, ErrBusTransfer) = false, want true")
	}
	if !Is(wrapped, ErrRuntime) {
		t.Error("Is(wrapped, ErrRuntime) = false, want true")
	}
	if Is(wrapped, ErrFifoCorrupt) {
		t.Error("Is(wrapped, ErrFifoCorrupt) = true, want false")
	}
	if Is(nil, ErrRuntime) {
		t.Error("Is(nil) = true")
	}
}

func TestPredicates(t *testing.T) {
	if !IsBus(BusOverflowError("ops", 31, 30)) {
		t.Error("IsBus(overflow) = false")
	}
	if !IsBusy(TaskBusyError("calibrate", "Testing")) {
		t.Error("IsBusy(task busy) = false")
	}
	if IsBusy(FifoCorruptError(3, 0xc0)) {
		t.Error("IsBusy(fifo corrupt) = true")
	}
	if !IsConfig(ConfigOptionError("device", "bus")) {
		t.Error("IsConfig(option) = false")
	}
}

func TestFromPanic(t *testing.T) {
	run := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = FromPanic(r)
			}
		}()
		panic("index out of range")
	}
	err := run()
	if GetCode(err) != ErrRuntime {
		t.Fatalf("GetCode() = %q, want %q", GetCode(err), ErrRuntime)
	}
	if !strings.Contains(err.Error(), "index out of range") {
		t.Errorf("Error() = %q", err.Error())
	}
}
