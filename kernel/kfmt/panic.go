package kfmt

import (
	"github.com/sierl/os/kernel"
	"github.com/sierl/os/kernel/cpu"
)

var (
	// cpuHaltFn is mocked by tests and is automatically inlined by the compiler.
	cpuHaltFn = cpu.Halt
)

// Panic outputs the supplied error (if not nil) to the active output sink
// and halts the CPU. At this stage of boot there is no recovery strategy, so
// any error that propagates up to the bootstrap sequence ends up here. Calls
// to Panic never return.
func Panic(err *kernel.Error) {
	Printf("\n-----------------------------------\n")
	if err != nil {
		Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	Printf("*** kernel panic: system halted ***")
	Printf("\n-----------------------------------\n")

	cpuHaltFn()
}
