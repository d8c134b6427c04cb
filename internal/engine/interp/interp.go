// Package interp implements the tree-walking interpreter: the second of the
// two execution backends, whose observable behavior must agree with
// internal/engine/jit's compiled code. It never builds a CFG; it walks the
// asm.Instruction stream directly, maintaining a per-call frame (a slot map
// and an instruction pointer) and a label table computed once per function
// body, the same pre-scan discipline the JIT's frontend relies on to let a
// forward-referenced label resolve.
package interp

import (
	"fmt"

	"github.com/tetratelabs/slotvm/asm"
	"github.com/tetratelabs/slotvm/internal/engine/jit/frontend"
	"github.com/tetratelabs/slotvm/module"
	"github.com/tetratelabs/slotvm/vm"
)

// mainScope names the label table entry for the top-level program, since
// asm.Program keeps main unnamed.
const mainScope = ""

// Program is a parsed asm.Program prepared for direct interpretation: every
// function's label table has been computed up front and every string
// literal has already been interned into mem, mirroring what the JIT's
// frontend.InternStrings does before lowering, so both backends read string
// arguments as plain addresses.
type Program struct {
	main      []asm.Instruction
	functions map[string]*asm.Function
	labels    map[string]map[string]int // scope ("" = main, else function name) -> label -> index

	reg *module.Registry
	mem *vm.Memory
}

// New prepares prog for interpretation against reg and mem. It validates
// every label reference up front (JZ/JNZ against the LABEL pre-scan), so an
// unresolved label is rejected as early here as in the JIT's link step.
func New(prog *asm.Program, reg *module.Registry, mem *vm.Memory) (*Program, error) {
	frontend.InternStrings(prog, mem)

	p := &Program{
		main:      prog.Main,
		functions: make(map[string]*asm.Function, len(prog.Functions)),
		labels:    make(map[string]map[string]int, len(prog.Functions)+1),
		reg:       reg,
		mem:       mem,
	}

	p.labels[mainScope] = labelTable(prog.Main)
	if err := validateLabels(mainScope, prog.Main, p.labels[mainScope]); err != nil {
		return nil, err
	}
	for i := range prog.Functions {
		fn := &prog.Functions[i]
		p.functions[fn.Name] = fn
		p.labels[fn.Name] = labelTable(fn.Body)
		if err := validateLabels(fn.Name, fn.Body, p.labels[fn.Name]); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// labelTable maps each LABEL in body to the index of the instruction
// immediately following it, which is where a taken jump resumes.
func labelTable(body []asm.Instruction) map[string]int {
	t := make(map[string]int)
	for i, instr := range body {
		if instr.Op == asm.OpLabel {
			t[instr.Label] = i + 1
		}
	}
	return t
}

func validateLabels(scope string, body []asm.Instruction, table map[string]int) error {
	for _, instr := range body {
		switch instr.Op {
		case asm.OpJz, asm.OpJnz:
			if _, ok := table[instr.Label]; !ok {
				return &vm.LinkError{Msg: fmt.Sprintf("undefined label %q in scope %q", instr.Label, scopeName(scope))}
			}
		}
	}
	return nil
}

func scopeName(scope string) string {
	if scope == mainScope {
		return "main"
	}
	return scope
}

// Run executes the top-level program to completion.
func (p *Program) Run() error {
	_, err := p.runBody(mainScope, p.main, nil)
	return err
}

// frame is one call's slot map. A named slot not yet present reads as 0;
// Go's map zero value makes that the natural behavior without a separate
// existence check.
type frame struct {
	slots map[string]uint64
}

func newFrame(args []uint64) *frame {
	f := &frame{slots: make(map[string]uint64, len(args)+1)}
	for i, a := range args {
		f.slots[fmt.Sprintf("arg%d", i)] = a
	}
	return f
}

// runBody executes body (main's stream, or a Function's) to completion in a
// fresh frame seeded with args, and returns the value of slot "ret" on
// fall-through.
func (p *Program) runBody(scope string, body []asm.Instruction, args []uint64) (uint64, error) {
	f := newFrame(args)
	labels := p.labels[scope]

	ip := 0
	for ip < len(body) {
		instr := body[ip]
		jumpTo, err := p.step(f, labels, instr)
		if err != nil {
			return 0, err
		}
		if jumpTo >= 0 {
			ip = jumpTo
			continue
		}
		ip++
	}
	return f.slots["ret"], nil
}

// step executes one instruction against f. A return value of -1 means
// "advance normally"; any other value is the next instruction index to jump
// to.
func (p *Program) step(f *frame, labels map[string]int, instr asm.Instruction) (int, error) {
	switch instr.Op {
	case asm.OpInclude:
		p.reg.Include(instr.ModuleName)
		return -1, nil

	case asm.OpNop, asm.OpLabel:
		return -1, nil

	case asm.OpMov:
		val, err := p.evalVal(f, instr.Val)
		if err != nil {
			return 0, err
		}
		if err := p.assign(f, instr.Var, val); err != nil {
			return 0, err
		}
		return -1, nil

	case asm.OpSwap:
		// A true exchange: both sides are read before either is written, so
		// SWAP x y twice restores the machine state.
		a, err := p.evalVar(f, instr.Var)
		if err != nil {
			return 0, err
		}
		b, err := p.evalVar(f, instr.Var2)
		if err != nil {
			return 0, err
		}
		if err := p.assign(f, instr.Var, b); err != nil {
			return 0, err
		}
		if err := p.assign(f, instr.Var2, a); err != nil {
			return 0, err
		}
		return -1, nil

	case asm.OpAdd, asm.OpSub, asm.OpMul, asm.OpDiv, asm.OpMod:
		return -1, p.arith(f, instr)

	case asm.OpJz, asm.OpJnz:
		cond, err := p.evalVal(f, instr.Val)
		if err != nil {
			return 0, err
		}
		taken := cond == 0
		if instr.Op == asm.OpJnz {
			taken = !taken
		}
		if !taken {
			return -1, nil
		}
		target, ok := labels[instr.Label]
		if !ok {
			return 0, &vm.LinkError{Msg: "undefined label " + instr.Label}
		}
		return target, nil

	case asm.OpCall:
		return -1, p.call(f, instr.CallName, instr.Args, instr.Result)

	case asm.OpRCall:
		return -1, p.rcall(f, instr.CallName, instr.Result)

	case asm.OpOut:
		return -1, p.out(f, instr.Val)

	default:
		return 0, &vm.RuntimeError{Msg: fmt.Sprintf("unhandled instruction opcode %v", instr.Op)}
	}
}

func (p *Program) arith(f *frame, instr asm.Instruction) error {
	lhs, err := p.evalVar(f, instr.Var)
	if err != nil {
		return err
	}
	rhs, err := p.evalVal(f, instr.Val)
	if err != nil {
		return err
	}
	var result uint64
	switch instr.Op {
	case asm.OpAdd:
		result = lhs + rhs
	case asm.OpSub:
		result = lhs - rhs
	case asm.OpMul:
		result = lhs * rhs
	case asm.OpDiv:
		if rhs == 0 {
			return vm.ErrDivideByZero
		}
		result = lhs / rhs
	case asm.OpMod:
		if rhs == 0 {
			return vm.ErrDivideByZero
		}
		result = lhs % rhs
	}
	return p.assign(f, instr.Var, result)
}

// call dispatches a CALL by name: a program-defined Function gets a fresh
// frame and a recursive walk of its body; anything else must have been
// INCLUDEd as a host symbol, and is fatal when it wasn't.
func (p *Program) call(f *frame, name string, argVals []*asm.Val, result *asm.Var) error {
	args := make([]uint64, len(argVals))
	for i, a := range argVals {
		v, err := p.evalVal(f, a)
		if err != nil {
			return err
		}
		args[i] = v
	}

	if fn, ok := p.functions[name]; ok {
		ret, err := p.runBody(fn.Name, fn.Body, args)
		if err != nil {
			return err
		}
		if result != nil {
			return p.assign(f, result, ret)
		}
		return nil
	}

	sym, ok := p.reg.Lookup(name)
	if !ok {
		return &vm.RuntimeError{Msg: "CALL to undeclared symbol " + name}
	}
	if len(args) != sym.Arity {
		return &vm.RuntimeError{Msg: fmt.Sprintf("CALL %s: arity mismatch (host symbol takes %d, call supplies %d)", name, sym.Arity, len(args))}
	}
	if result != nil && !sym.HasResult {
		return &vm.RuntimeError{Msg: fmt.Sprintf("CALL %s: host symbol returns nothing but call binds a result", name)}
	}
	rets, err := sym.Fn(p.mem, args)
	if err != nil {
		return err
	}
	if result != nil && len(rets) > 0 {
		return p.assign(f, result, rets[0])
	}
	return nil
}

// rcall forwards the current frame's already-bound arg0..N-1 slots to
// another call by name, matching the JIT's emitRCall. The interpreter has
// no pre-scanned arity for the target, so it forwards every "argI" slot
// present in the caller's own frame, in order, which is exactly the set the
// caller itself was invoked with.
func (p *Program) rcall(f *frame, name string, result *asm.Var) error {
	var args []uint64
	for i := 0; ; i++ {
		v, ok := f.slots[fmt.Sprintf("arg%d", i)]
		if !ok {
			break
		}
		args = append(args, v)
	}
	return p.call(f, name, wordArgs(args), result)
}

// wordArgs adapts already-evaluated words back into the []*asm.Val shape
// call expects, so rcall can reuse the same dispatch path as a normal CALL
// instead of duplicating it.
func wordArgs(words []uint64) []*asm.Val {
	vals := make([]*asm.Val, len(words))
	for i, w := range words {
		vals[i] = &asm.Val{Kind: asm.ValWord, Word: w}
	}
	return vals
}

// out always reaches std's printc, regardless of whether the source
// INCLUDEd std, matching frontend.Plan's unconditional lowering of OpOut.
func (p *Program) out(f *frame, val *asm.Val) error {
	v, err := p.evalVal(f, val)
	if err != nil {
		return err
	}
	sym, ok := p.reg.StdPrintc()
	if !ok {
		return &vm.RuntimeError{Msg: "OUT: std.printc unavailable"}
	}
	_, err = sym.Fn(p.mem, []uint64{v})
	return err
}

func (p *Program) evalVal(f *frame, v *asm.Val) (uint64, error) {
	switch v.Kind {
	case asm.ValWord:
		return v.Word, nil
	case asm.ValVar:
		return p.evalVar(f, v.Var)
	default:
		return 0, &vm.RuntimeError{Msg: "string literal used outside of a CALL argument"}
	}
}

func (p *Program) evalVar(f *frame, v *asm.Var) (uint64, error) {
	if v.Kind == asm.VarNamed {
		return f.slots[v.Name], nil
	}
	addr, err := p.evalVal(f, v.Addr)
	if err != nil {
		return 0, err
	}
	return p.mem.LoadWord(addr), nil
}

func (p *Program) assign(f *frame, v *asm.Var, val uint64) error {
	if v.Kind == asm.VarNamed {
		f.slots[v.Name] = val
		return nil
	}
	addr, err := p.evalVal(f, v.Addr)
	if err != nil {
		return err
	}
	p.mem.StoreWord(addr, val)
	return nil
}
