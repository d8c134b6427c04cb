// Package jit assembles the ssa, frontend and backend packages into a
// callable program: it runs the frontend's lowering passes over an
// asm.Program, compiles every function through the closure backend, and
// wires each compiled function's call sites back to either another compiled
// function or a host-native symbol resolved through the module registry.
package jit

import (
	"github.com/tetratelabs/slotvm/asm"
	"github.com/tetratelabs/slotvm/internal/engine/jit/backend"
	"github.com/tetratelabs/slotvm/internal/engine/jit/frontend"
	"github.com/tetratelabs/slotvm/internal/engine/jit/ssa"
	"github.com/tetratelabs/slotvm/module"
	"github.com/tetratelabs/slotvm/vm"
)

// Program is a fully compiled asm.Program: one backend.CompiledFunc per
// Function plus main, ready to run against a shared vm.Memory.
type Program struct {
	mem   *vm.Memory
	reg   *module.Registry
	funcs map[string]backend.CompiledFunc
}

// Compile lowers and compiles every function in prog. Compile mutates prog
// in place (interning string literals into mem) and mutates reg (resolving
// every INCLUDE it finds), mirroring what a load-and-link step does before
// a program ever runs.
func Compile(prog *asm.Program, reg *module.Registry, mem *vm.Memory) (*Program, error) {
	frontend.InternStrings(prog, mem)

	planned, err := frontend.Plan(prog, reg)
	if err != nil {
		return nil, err
	}

	b := ssa.NewBuilder()
	lowerer := frontend.NewLowerer(planned, b)
	mach := backend.NewClosureMachine()
	comp := backend.NewCompiler(mach, b)

	p := &Program{mem: mem, reg: reg, funcs: make(map[string]backend.CompiledFunc)}

	compileOne := func(name string, params int, hasResult bool, body []asm.Instruction) error {
		if err := lowerer.Lower(params, hasResult, body, reg); err != nil {
			return err
		}
		fn, err := comp.Compile()
		if err != nil {
			return err
		}
		p.funcs[name] = fn
		b.Reset()
		comp.Reset()
		return nil
	}

	if err := compileOne("main", 0, false, planned.Main); err != nil {
		return nil, err
	}
	for _, fn := range planned.Functions {
		sig, ok := lowerer.Signature(fn.Name)
		if !ok {
			return nil, &vm.LinkError{Msg: "internal: FUNC " + fn.Name + " never planned"}
		}
		if err := compileOne(fn.Name, len(sig.Params), len(sig.Results) > 0, fn.Body); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// Run invokes the program's main with args and returns its results.
func (p *Program) Run(args []uint64) ([]uint64, error) {
	return p.call("main", args)
}

func (p *Program) call(name string, args []uint64) ([]uint64, error) {
	fn, ok := p.funcs[name]
	if !ok {
		return nil, &vm.LinkError{Msg: "no compiled function " + name}
	}
	return fn(args, p.mem, p.dispatch)
}

// dispatch is the backend.CallFunc every compiled function closes over: a
// Call instruction's Signature says whether it targets a host-native symbol
// or another function of this same program, and dispatch routes to whichever
// it is without the closure backend itself needing to know the difference.
func (p *Program) dispatch(sig *ssa.Signature, args []uint64) ([]uint64, error) {
	if sig.Imported {
		sym, ok := p.reg.Lookup(sig.Name)
		if !ok {
			return nil, &vm.LinkError{Msg: "call to unresolved host symbol " + sig.Name}
		}
		return sym.Fn(p.mem, args)
	}
	return p.call(sig.Name, args)
}
