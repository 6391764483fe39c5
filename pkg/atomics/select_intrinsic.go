//go:build !atomics_native && (atomics_intrinsic || !(arm || mips || mipsle || mips64 || mips64le || riscv64))

package atomics

var active backend = intrinsicBackend{}
