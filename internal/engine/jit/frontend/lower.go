// Package frontend lowers a parsed asm.Program into the ssa package's CFG,
// one function body at a time. It implements the lowering passes the JIT
// compiler needs: a pre-scan for external call targets, a pre-scan for
// labels, slot allocation on first reference, and source-order instruction
// emission with the handful of opcodes that need special handling (Label,
// JZ/JNZ, Call, Output).
package frontend

import (
	"fmt"

	"github.com/tetratelabs/slotvm/asm"
	"github.com/tetratelabs/slotvm/internal/engine/jit/ssa"
	"github.com/tetratelabs/slotvm/module"
	"github.com/tetratelabs/slotvm/vm"
)

// InternStrings walks every instruction in prog (main and every nested
// function) and rewrites each string-literal Val in place into a ValWord
// holding its interned address in mem. This runs before Plan/Lower so that
// by the time either sees the program, ValStr no longer occurs: the IR has
// exactly one way to denote "an address", not two.
func InternStrings(prog *asm.Program, mem *vm.Memory) {
	intern := func(v *asm.Val) {
		if v != nil && v.Kind == asm.ValStr {
			addr := mem.InternString(v.Str)
			*v = asm.Val{Kind: asm.ValWord, Word: addr}
		}
	}
	walk := func(body []asm.Instruction) {
		for i := range body {
			intern(body[i].Val)
			for _, a := range body[i].Args {
				intern(a)
			}
		}
	}
	walk(prog.Main)
	for i := range prog.Functions {
		walk(prog.Functions[i].Body)
	}
}

// FuncDecl is what the pre-scan over the whole program establishes for a
// single call target before any function body is lowered: its arity, and
// whether any call site expects a result.
type FuncDecl struct {
	Name      string
	Arity     int
	HasResult bool
	Imported  bool // true if resolved through the module registry, not a Function body
}

// Program is the pre-scanned form of an asm.Program ready for per-function
// lowering: every CALL target the program as a whole references has an
// established arity and result-ness.
type Program struct {
	Main      []asm.Instruction
	Functions []asm.Function
	Decls     map[string]*FuncDecl
}

// Plan walks every instruction in prog (main and every nested function),
// resolving INCLUDE directives in source order and collecting each distinct
// CALL target's arity and result-ness. Contradictory arities across call
// sites, a call whose shape disagrees with the host symbol it resolves to,
// or a CALL to a name that's neither an INCLUDEd host symbol nor a program
// Function, are fatal.
func Plan(prog *asm.Program, reg *module.Registry) (*Program, error) {
	decls := make(map[string]*FuncDecl)

	defined := make(map[string]bool, len(prog.Functions))
	for _, fn := range prog.Functions {
		defined[fn.Name] = true
	}

	declare := func(verb, name string, arity int, hasResult bool) error {
		imported := false
		if !defined[name] {
			sym, found := reg.Lookup(name)
			if !found {
				return &vm.LinkError{Msg: fmt.Sprintf("%s to undeclared symbol %q", verb, name)}
			}
			if sym.Arity != arity {
				return &vm.LinkError{Msg: fmt.Sprintf("%s %q: arity mismatch (host symbol takes %d, call supplies %d)", verb, name, sym.Arity, arity)}
			}
			if hasResult && !sym.HasResult {
				return &vm.LinkError{Msg: fmt.Sprintf("%s %q: host symbol returns nothing but call binds a result", verb, name)}
			}
			imported = true
		}
		decls[name] = &FuncDecl{Name: name, Arity: arity, HasResult: hasResult, Imported: imported}
		return nil
	}

	// bindResult merges a later call site's result-binding into an existing
	// declaration, rechecking an imported symbol's shape: the first site may
	// have ignored a result the symbol doesn't produce at all.
	bindResult := func(verb string, d *FuncDecl) error {
		if d.HasResult {
			return nil
		}
		if d.Imported {
			if sym, _ := reg.Lookup(d.Name); !sym.HasResult {
				return &vm.LinkError{Msg: fmt.Sprintf("%s %q: host symbol returns nothing but call binds a result", verb, d.Name)}
			}
		}
		d.HasResult = true
		return nil
	}

	// An RCALL supplies no argument list of its own: it forwards the calling
	// function's parameter tuple. Its target's arity therefore derives from
	// the caller's, which may itself only surface through later CALL sites,
	// so RCALL sites are collected here and resolved once CALL-established
	// arities are in.
	type rcallSite struct {
		caller    string // "" for main
		target    string
		hasResult bool
	}
	var rcalls []rcallSite

	record := func(caller string, instr asm.Instruction) error {
		switch instr.Op {
		case asm.OpInclude:
			reg.Include(instr.ModuleName)
			return nil
		case asm.OpRCall:
			rcalls = append(rcalls, rcallSite{caller: caller, target: instr.CallName, hasResult: instr.Result != nil})
			return nil
		case asm.OpCall:
		default:
			return nil
		}
		arity, hasResult := len(instr.Args), instr.Result != nil
		d, ok := decls[instr.CallName]
		if !ok {
			return declare("CALL", instr.CallName, arity, hasResult)
		}
		if d.Arity != arity {
			return &vm.LinkError{Msg: fmt.Sprintf("CALL %q: arity mismatch (%d vs %d)", instr.CallName, d.Arity, arity)}
		}
		if hasResult {
			return bindResult("CALL", d)
		}
		return nil
	}

	walk := func(caller string, body []asm.Instruction) error {
		for _, instr := range body {
			if err := record(caller, instr); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk("", prog.Main); err != nil {
		return nil, err
	}
	for _, fn := range prog.Functions {
		if err := walk(fn.Name, fn.Body); err != nil {
			return nil, err
		}
	}

	// Resolve RCALL sites whose caller arity is already established; chains
	// of functions reached only through RCALL settle over repeated rounds.
	resolveRCalls := func() error {
		for changed := true; changed; {
			changed = false
			for _, rc := range rcalls {
				callerArity := 0
				if rc.caller != "" {
					d, ok := decls[rc.caller]
					if !ok {
						continue
					}
					callerArity = d.Arity
				}
				d, ok := decls[rc.target]
				if !ok {
					if err := declare("RCALL", rc.target, callerArity, rc.hasResult); err != nil {
						return err
					}
					changed = true
					continue
				}
				if d.Arity != callerArity {
					return &vm.LinkError{Msg: fmt.Sprintf("RCALL %q: arity mismatch (declared %d, caller forwards %d)", rc.target, d.Arity, callerArity)}
				}
				if rc.hasResult && !d.HasResult {
					if err := bindResult("RCALL", d); err != nil {
						return err
					}
					changed = true
				}
			}
		}
		return nil
	}
	if err := resolveRCalls(); err != nil {
		return nil, err
	}
	for _, fn := range prog.Functions {
		if _, ok := decls[fn.Name]; !ok {
			decls[fn.Name] = &FuncDecl{Name: fn.Name, Arity: 0, HasResult: false}
		}
	}
	if err := resolveRCalls(); err != nil {
		return nil, err
	}

	// OUT lowers unconditionally to a call to std.printc (see emitOut), even
	// in a program that never spells INCLUDE std or CALLs printc directly:
	// the intrinsic is always available, the same way the interpreter's OUT
	// case always reaches std's printc regardless of INCLUDE state.
	if usesOut(prog.Main) || anyBodyUsesOut(prog.Functions) {
		reg.Include("std")
		if _, ok := decls["printc"]; !ok {
			decls["printc"] = &FuncDecl{Name: "printc", Arity: 1, HasResult: false, Imported: true}
		}
	}

	return &Program{Main: prog.Main, Functions: prog.Functions, Decls: decls}, nil
}

func usesOut(body []asm.Instruction) bool {
	for _, instr := range body {
		if instr.Op == asm.OpOut {
			return true
		}
	}
	return false
}

func anyBodyUsesOut(fns []asm.Function) bool {
	for _, fn := range fns {
		if usesOut(fn.Body) {
			return true
		}
	}
	return false
}

// signatureOf turns a FuncDecl into the ssa.Signature its call sites share.
func signatureOf(id ssa.SignatureID, d *FuncDecl) *ssa.Signature {
	sig := &ssa.Signature{ID: id, Name: d.Name, Imported: d.Imported}
	for i := 0; i < d.Arity; i++ {
		sig.Params = append(sig.Params, ssa.TypeWord)
	}
	if d.HasResult {
		sig.Results = []ssa.Type{ssa.TypeWord}
	}
	return sig
}

// Lowerer lowers one function body at a time into an ssa.Builder, reusing
// the signature bookkeeping the Plan pass established across bodies.
type Lowerer struct {
	b       ssa.Builder
	sigs    map[string]*ssa.Signature
	nextSig ssa.SignatureID
}

// NewLowerer returns a Lowerer for prog, declaring every planned call
// target's Signature against b up front so every function body can
// reference any of them by name.
func NewLowerer(prog *Program, b ssa.Builder) *Lowerer {
	l := &Lowerer{b: b, sigs: make(map[string]*ssa.Signature)}
	for name, d := range prog.Decls {
		sig := signatureOf(l.nextSig, d)
		l.nextSig++
		l.sigs[name] = sig
		b.DeclareSignature(sig)
	}
	return l
}

// Signature returns the Signature assigned to a planned call target.
func (l *Lowerer) Signature(name string) (*ssa.Signature, bool) {
	sig, ok := l.sigs[name]
	return sig, ok
}

// Lower lowers a single function body (main, or a declared Function) into
// b's current function. hasResult says whether the function's signature
// carries a return, in which case the body returns the value of slot "ret"
// on fall-through (zero if never written). The caller is responsible for
// calling b.Reset() between functions and for handing the finished builder
// to a Compiler afterward.
func (l *Lowerer) Lower(params int, hasResult bool, body []asm.Instruction, reg *module.Registry) error {
	fc := &funcLowering{
		l:          l,
		b:          l.b,
		reg:        reg,
		hasResult:  hasResult,
		slots:      make(map[string]ssa.Variable),
		labelBlock: make(map[string]ssa.BasicBlock),
	}
	return fc.lower(params, body)
}

type funcLowering struct {
	l   *Lowerer
	b   ssa.Builder
	reg *module.Registry

	slots      map[string]ssa.Variable
	labelBlock map[string]ssa.BasicBlock
	hasResult  bool
}

// lower implements the lowering passes for a single function body: slot
// allocation for its arguments, a pre-scan for labels so forward references
// resolve, source-order instruction emission, and implicit-return
// termination for a body that falls off its last block.
func (fc *funcLowering) lower(params int, body []asm.Instruction) error {
	entry := fc.b.AllocateBasicBlock()
	fc.b.SetCurrentBlock(entry)

	for i := 0; i < params; i++ {
		argVar := fc.variable(fmt.Sprintf("arg%d", i))
		val := fc.b.AllocateParam(ssa.TypeWord)
		fc.b.DefineVariableInCurrentBB(argVar, val)
	}
	fc.variable("ret")

	for _, instr := range body {
		if instr.Op == asm.OpLabel {
			if _, dup := fc.labelBlock[instr.Label]; dup {
				return &vm.LinkError{Msg: "duplicate label " + instr.Label}
			}
			fc.labelBlock[instr.Label] = fc.b.AllocateBasicBlock()
		}
	}

	for _, instr := range body {
		if err := fc.emit(instr); err != nil {
			return err
		}
	}

	if cur := fc.b.CurrentBlock(); cur.Tail() == nil || !cur.Tail().IsBranching() {
		fc.emitReturn()
	}

	for _, blk := range fc.b.Blocks() {
		if !blk.Sealed() {
			blk.Seal(fc.b)
		}
	}
	ssa.MarkUnreachableBlocks(fc.b.Blocks())
	return nil
}

func (fc *funcLowering) variable(name string) ssa.Variable {
	if v, ok := fc.slots[name]; ok {
		return v
	}
	v := fc.b.DeclareVariable(ssa.TypeWord)
	fc.slots[name] = v
	return v
}

func (fc *funcLowering) emit(instr asm.Instruction) error {
	switch instr.Op {
	case asm.OpInclude:
		fc.reg.Include(instr.ModuleName)
		return nil

	case asm.OpNop:
		return nil

	case asm.OpMov:
		val, err := fc.evalVal(instr.Val)
		if err != nil {
			return err
		}
		return fc.assign(instr.Var, val)

	case asm.OpSwap:
		// A true exchange: both sides are read before either is written.
		a, err := fc.evalVar(instr.Var)
		if err != nil {
			return err
		}
		b, err := fc.evalVar(instr.Var2)
		if err != nil {
			return err
		}
		if err := fc.assign(instr.Var, b); err != nil {
			return err
		}
		return fc.assign(instr.Var2, a)

	case asm.OpAdd, asm.OpSub, asm.OpMul, asm.OpDiv, asm.OpMod:
		return fc.emitArith(instr)

	case asm.OpLabel:
		target := fc.labelBlock[instr.Label]
		cur := fc.b.CurrentBlock()
		if cur.Tail() == nil || !cur.Tail().IsBranching() {
			fc.b.InsertInstruction(fc.b.AllocateInstruction().AsJump(target, nil))
		}
		fc.b.SetCurrentBlock(target)
		return nil

	case asm.OpJz, asm.OpJnz:
		return fc.emitBranch(instr)

	case asm.OpCall:
		return fc.emitCall(instr.CallName, instr.Args, instr.Result)

	case asm.OpRCall:
		return fc.emitRCall(instr)

	case asm.OpOut:
		return fc.emitOut(instr)

	default:
		return &vm.CodeGenError{Msg: fmt.Sprintf("unhandled instruction opcode %v", instr.Op)}
	}
}

func (fc *funcLowering) emitArith(instr asm.Instruction) error {
	lhs, err := fc.evalVar(instr.Var)
	if err != nil {
		return err
	}
	rhs, err := fc.evalVal(instr.Val)
	if err != nil {
		return err
	}
	i := fc.b.AllocateInstruction()
	switch instr.Op {
	case asm.OpAdd:
		i.AsIadd(lhs, rhs)
	case asm.OpSub:
		i.AsIsub(lhs, rhs)
	case asm.OpMul:
		i.AsImul(lhs, rhs)
	case asm.OpDiv:
		i.AsUdiv(lhs, rhs)
	case asm.OpMod:
		i.AsUrem(lhs, rhs)
	}
	fc.b.InsertInstruction(i)
	return fc.assign(instr.Var, i.Return())
}

// emitBranch lowers JZ/JNZ: the target is taken when the condition matches,
// and a freshly allocated continuation block carries the fallthrough case.
func (fc *funcLowering) emitBranch(instr asm.Instruction) error {
	cond, err := fc.evalVal(instr.Val)
	if err != nil {
		return err
	}
	target, ok := fc.labelBlock[instr.Label]
	if !ok {
		return &vm.LinkError{Msg: "JZ/JNZ to undeclared label " + instr.Label}
	}
	cont := fc.b.AllocateBasicBlock()

	br := fc.b.AllocateInstruction()
	if instr.Op == asm.OpJz {
		br.AsBrz(cond, target, nil)
	} else {
		br.AsBrnz(cond, target, nil)
	}
	fc.b.InsertInstruction(br)
	fc.b.InsertInstruction(fc.b.AllocateInstruction().AsJump(cont, nil))

	fc.b.SetCurrentBlock(cont)
	return nil
}

func (fc *funcLowering) emitCall(name string, argVals []*asm.Val, result *asm.Var) error {
	sig, ok := fc.l.sigs[name]
	if !ok {
		return &vm.LinkError{Msg: "CALL to undeclared symbol " + name}
	}
	args := make([]ssa.Value, len(argVals))
	for i, a := range argVals {
		v, err := fc.evalVal(a)
		if err != nil {
			return err
		}
		args[i] = v
	}
	i := fc.b.AllocateInstruction().AsCall(sig, args)
	fc.b.InsertInstruction(i)
	if result != nil && len(sig.Results) > 0 {
		return fc.assign(result, i.Return())
	}
	return nil
}

// emitRCall forwards the current frame's already-bound arguments (arg0..N-1)
// to another call of the named function: a recursive/tail-call convenience.
func (fc *funcLowering) emitRCall(instr asm.Instruction) error {
	sig, ok := fc.l.sigs[instr.CallName]
	if !ok {
		return &vm.LinkError{Msg: "RCALL to undeclared symbol " + instr.CallName}
	}
	args := make([]ssa.Value, len(sig.Params))
	for i := range sig.Params {
		args[i] = fc.b.FindValue(fc.variable(fmt.Sprintf("arg%d", i)))
	}
	i := fc.b.AllocateInstruction().AsCall(sig, args)
	fc.b.InsertInstruction(i)
	if instr.Result != nil && len(sig.Results) > 0 {
		return fc.assign(instr.Result, i.Return())
	}
	return nil
}

// emitOut lowers OUT as a call to std's printc.
func (fc *funcLowering) emitOut(instr asm.Instruction) error {
	sig, ok := fc.l.sigs["printc"]
	if !ok {
		return &vm.LinkError{Msg: "OUT: printc was not declared by Plan"}
	}
	val, err := fc.evalVal(instr.Val)
	if err != nil {
		return err
	}
	fc.b.InsertInstruction(fc.b.AllocateInstruction().AsCall(sig, []ssa.Value{val}))
	return nil
}

func (fc *funcLowering) emitReturn() {
	var args []ssa.Value
	if fc.hasResult {
		args = []ssa.Value{fc.b.FindValue(fc.variable("ret"))}
	}
	fc.b.InsertInstruction(fc.b.AllocateInstruction().AsReturn(args))
}

// evalVal lowers a Val to an SSA Value, materializing literals as Iconst and
// indirect reads as Load. InternStrings has already turned every string
// literal in an instruction's operand or CALL argument list into an address;
// one nested inside an indirect address (`&"..."`) is not rewritten and is
// rejected here.
func (fc *funcLowering) evalVal(v *asm.Val) (ssa.Value, error) {
	switch v.Kind {
	case asm.ValWord:
		i := fc.b.AllocateInstruction().AsIconst(v.Word)
		fc.b.InsertInstruction(i)
		return i.Return(), nil
	case asm.ValVar:
		return fc.evalVar(v.Var)
	default:
		return ssa.Value(0), &vm.CodeGenError{Msg: "string literal used outside of a CALL argument"}
	}
}

func (fc *funcLowering) evalVar(v *asm.Var) (ssa.Value, error) {
	if v.Kind == asm.VarNamed {
		return fc.b.FindValue(fc.variable(v.Name)), nil
	}
	addr, err := fc.evalVal(v.Addr)
	if err != nil {
		return ssa.Value(0), err
	}
	i := fc.b.AllocateInstruction().AsLoad(addr)
	fc.b.InsertInstruction(i)
	return i.Return(), nil
}

func (fc *funcLowering) assign(v *asm.Var, val ssa.Value) error {
	if v.Kind == asm.VarNamed {
		fc.b.DefineVariableInCurrentBB(fc.variable(v.Name), val)
		return nil
	}
	addr, err := fc.evalVal(v.Addr)
	if err != nil {
		return err
	}
	fc.b.InsertInstruction(fc.b.AllocateInstruction().AsStore(val, addr))
	return nil
}
