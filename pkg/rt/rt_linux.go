//go:build linux

// Package rt prepares the process that owns the bit-banged pins: memory is
// locked so page faults cannot stall a clock phase, and the scheduling
// priority is raised.
package rt

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Nice value requested for the pin-owning process.
const niceness = -10

// Prepare needs CAP_IPC_LOCK and CAP_SYS_NICE. Each failed step is reported,
// the others are still applied.
func Prepare() error {
	var errs []error
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		errs = append(errs, fmt.Errorf("mlockall: %w", err))
	}
	if err := unix.Setpriority(unix.PRIO_PROCESS, 0, niceness); err != nil {
		errs = append(errs, fmt.Errorf("setpriority %d: %w", niceness, err))
	}
	return errors.Join(errs...)
}
