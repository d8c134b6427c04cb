// Package driver assembles the pipeline's leaves (parser, module registry,
// interpreter and JIT) into the load-compile-run sequence. It is the one
// piece of the system the command-line launcher (cmd/slotvm) delegates to,
// and the seam integration tests exercise to drive a whole source program
// through either backend without a subprocess.
package driver

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/tetratelabs/slotvm/asm"
	"github.com/tetratelabs/slotvm/internal/engine/interp"
	"github.com/tetratelabs/slotvm/internal/engine/jit"
	"github.com/tetratelabs/slotvm/module"
	"github.com/tetratelabs/slotvm/vm"
)

// Backend selects which execution engine Run drives the parsed program
// through.
type Backend int

const (
	// BackendInterp walks the instruction stream directly.
	BackendInterp Backend = iota
	// BackendJIT lowers to the SSA code generator and runs the compiled
	// entry point.
	BackendJIT
)

// Exit codes: 0 on success, 1 on parse error, 2 on any other failure
// (link, codegen, or runtime).
const (
	ExitOK = iota
	ExitParseError
	ExitRuntimeError
)

// Run parses src, builds a fresh module registry and memory arena, and
// executes the program under backend. A host that needs additional modules
// should register them against a Registry of its own and use
// RunWithRegistry instead.
func Run(src []byte, backend Backend, log *zap.Logger) int {
	return RunWithRegistry(src, backend, module.NewRegistry(), log)
}

// RunWithRegistry is Run against a caller-supplied Registry, letting a host
// register its own modules before INCLUDE directives in src resolve
// against them.
func RunWithRegistry(src []byte, backend Backend, reg *module.Registry, log *zap.Logger) int {
	log.Info("running program", zap.Stringer("backend", backend), zap.Int("bytes", len(src)))

	prog, err := asm.Parse(src)
	if err != nil {
		log.Error("parse failed", zap.Error(err))
		return ExitParseError
	}

	mem := vm.NewMemory()

	switch backend {
	case BackendJIT:
		compiled, err := jit.Compile(prog, reg, mem)
		if err != nil {
			log.Error("compile failed", zap.Error(err))
			return ExitRuntimeError
		}
		if _, err := compiled.Run(nil); err != nil {
			log.Error("run failed", zap.Error(err))
			return ExitRuntimeError
		}

	default:
		ip, err := interp.New(prog, reg, mem)
		if err != nil {
			log.Error("link failed", zap.Error(err))
			return ExitRuntimeError
		}
		if err := ip.Run(); err != nil {
			log.Error("run failed", zap.Error(err))
			return ExitRuntimeError
		}
	}

	return ExitOK
}

// String implements fmt.Stringer, used in RunWithRegistry's log line.
func (b Backend) String() string {
	switch b {
	case BackendJIT:
		return "jit"
	default:
		return "interp"
	}
}

// ParseBackend maps a --backend flag value to a Backend.
func ParseBackend(s string) (Backend, error) {
	switch s {
	case "interp", "":
		return BackendInterp, nil
	case "jit":
		return BackendJIT, nil
	default:
		return BackendInterp, fmt.Errorf("unknown backend %q (want \"interp\" or \"jit\")", s)
	}
}
