package module

import (
	"fmt"
	"io"

	"github.com/tetratelabs/slotvm/vm"
)

// newStdModule builds the std module: printc/printa for output, the
// top_8/addr_8 bit-twiddling helpers, and malloc against the shared memory
// arena. out is the stream printc/printa write to; a host or a test
// supplies it via WithStdout, defaulting to the process's real stdout.
func newStdModule(out io.Writer) *Module {
	return &Module{
		Name: "std",
		Symbols: []Symbol{
			{Name: "malloc", Arity: 1, HasResult: true, Fn: stdMalloc},
			{Name: "printc", Arity: 1, HasResult: false, Fn: stdPrintc(out)},
			{Name: "printa", Arity: 1, HasResult: false, Fn: stdPrinta(out)},
			{Name: "top_8", Arity: 1, HasResult: true, Fn: stdTop8},
			{Name: "addr_8", Arity: 1, HasResult: true, Fn: stdAddr8},
		},
	}
}

func stdMalloc(mem *vm.Memory, args []vm.Word) ([]vm.Word, error) {
	return []vm.Word{mem.Alloc(args[0])}, nil
}

func stdPrintc(out io.Writer) HostFunc {
	return func(_ *vm.Memory, args []vm.Word) ([]vm.Word, error) {
		_, err := fmt.Fprintf(out, "%d\n", args[0])
		return nil, err
	}
}

func stdPrinta(out io.Writer) HostFunc {
	return func(_ *vm.Memory, args []vm.Word) ([]vm.Word, error) {
		r := rune(args[0] & 0x1fffff)
		_, err := fmt.Fprintf(out, "%c", r)
		return nil, err
	}
}

func stdTop8(_ *vm.Memory, args []vm.Word) ([]vm.Word, error) {
	return []vm.Word{args[0] >> 56}, nil
}

func stdAddr8(mem *vm.Memory, args []vm.Word) ([]vm.Word, error) {
	return []vm.Word{vm.Word(mem.LoadByte(args[0]))}, nil
}
