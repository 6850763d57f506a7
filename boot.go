package main

import "github.com/sierl/os/kernel/kmain"

// bootInfoPtr holds the physical address of the boot-information block
// assembled by the rt0 code from the bootloader responses. It is patched by
// rt0 before main is invoked; declaring it as a global prevents the compiler
// from inlining the Kmain call and dropping the kernel code from the
// generated object file.
var bootInfoPtr uintptr

// main works as a trampoline for calling the actual kernel entrypoint
// (kmain.Kmain). It is intentionally defined to prevent the Go compiler from
// optimizing away the kernel code as it is not aware of the presence of the
// rt0 code.
//
// main is invoked by the rt0 assembly code after it has set up a minimal g0
// struct that allows Go code to use the boot stack. main is not expected to
// return; if it does, the rt0 code will halt the CPU.
func main() {
	kmain.Kmain(bootInfoPtr)
}
