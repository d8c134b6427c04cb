package backend

import (
	"fmt"

	"github.com/tetratelabs/slotvm/internal/engine/jit/ssa"
	"github.com/tetratelabs/slotvm/vm"
)

type (
	// CompiledFunc is the callable form a Machine produces: given the
	// incoming argument words, a Mem to read/write through, and a CallFunc
	// to reach every other function in the program (host-native or
	// program-defined), it runs the compiled function to completion.
	CompiledFunc func(args []uint64, mem Mem, call CallFunc) ([]uint64, error)

	// CallFunc reaches another function by its Signature, either a
	// host-native symbol or another function of the same program. The
	// facade wiring a program together supplies this; Closure never calls
	// a function directly by name.
	CallFunc func(sig *ssa.Signature, args []uint64) ([]uint64, error)

	// Mem is the load/store surface a compiled function needs. vm.Memory
	// satisfies it directly.
	Mem interface {
		LoadWord(addr uint64) uint64
		StoreWord(addr, w uint64)
	}
)

// step is one lowered non-branching instruction: it reads its operands out
// of regs by ssa.Value.ID() and, if it produces a value, writes the result
// back to regs at its own ID.
type step func(regs []uint64, mem Mem, call CallFunc) error

// terminator is a lowered block terminator. It returns the next block to run
// (nil when the function is returning), the function's result words when
// returning, and any error.
type terminator func(regs []uint64, mem Mem, call CallFunc) (next *compiledBlock, results []uint64, done bool, err error)

type compiledBlock struct {
	steps []step
	term  terminator
}

// Closure is the Machine that lowers SSA into Go closures instead of actual
// machine code: every instruction becomes a step closure over a dense
// register file indexed directly by ssa.Value.ID(), and every block becomes
// a compiledBlock. A compiled function threads control from block to block
// until a Return terminator produces its results. This is one legitimate
// instantiation of the Machine contract, not the only possible one: a real
// ISA backend would lower the same sequence of callbacks into physical
// instructions instead.
type Closure struct {
	ctx CompilationContext

	numRegs int
	entry   *compiledBlock
	blockOf map[ssa.BasicBlock]*compiledBlock

	cur     *compiledBlock
	pending []step
}

// NewClosureMachine returns a fresh Closure ready for its first function.
func NewClosureMachine() *Closure {
	return &Closure{blockOf: make(map[ssa.BasicBlock]*compiledBlock)}
}

// SetCompilationContext implements Machine.SetCompilationContext.
func (m *Closure) SetCompilationContext(ctx CompilationContext) { m.ctx = ctx }

// StartFunction implements Machine.StartFunction.
func (m *Closure) StartFunction(numBlocks, numValues int) {
	m.numRegs = numValues
	m.entry = nil
}

// StartBlock implements Machine.StartBlock.
func (m *Closure) StartBlock(blk ssa.BasicBlock) {
	cb := &compiledBlock{}
	m.blockOf[blk] = cb
	if m.entry == nil {
		m.entry = cb
	}
	m.cur = cb
	m.pending = nil
}

// LowerInstr implements Machine.LowerInstr.
func (m *Closure) LowerInstr(instr *ssa.Instruction) {
	m.pending = append(m.pending, m.lowerStep(instr))
}

func (m *Closure) lowerStep(instr *ssa.Instruction) step {
	result := instr.Return()
	switch instr.Opcode() {
	case ssa.OpcodeIconst:
		v := instr.ConstValue()
		dst := result.ID()
		return func(regs []uint64, _ Mem, _ CallFunc) error {
			regs[dst] = v
			return nil
		}

	case ssa.OpcodeIadd:
		x, y := instr.Arg2()
		xi, yi, dst := x.ID(), y.ID(), result.ID()
		return func(regs []uint64, _ Mem, _ CallFunc) error {
			regs[dst] = regs[xi] + regs[yi]
			return nil
		}

	case ssa.OpcodeIsub:
		x, y := instr.Arg2()
		xi, yi, dst := x.ID(), y.ID(), result.ID()
		return func(regs []uint64, _ Mem, _ CallFunc) error {
			regs[dst] = regs[xi] - regs[yi]
			return nil
		}

	case ssa.OpcodeImul:
		x, y := instr.Arg2()
		xi, yi, dst := x.ID(), y.ID(), result.ID()
		return func(regs []uint64, _ Mem, _ CallFunc) error {
			regs[dst] = regs[xi] * regs[yi]
			return nil
		}

	case ssa.OpcodeUdiv:
		x, y := instr.Arg2()
		xi, yi, dst := x.ID(), y.ID(), result.ID()
		return func(regs []uint64, _ Mem, _ CallFunc) error {
			if regs[yi] == 0 {
				return vm.ErrDivideByZero
			}
			regs[dst] = regs[xi] / regs[yi]
			return nil
		}

	case ssa.OpcodeUrem:
		x, y := instr.Arg2()
		xi, yi, dst := x.ID(), y.ID(), result.ID()
		return func(regs []uint64, _ Mem, _ CallFunc) error {
			if regs[yi] == 0 {
				return vm.ErrDivideByZero
			}
			regs[dst] = regs[xi] % regs[yi]
			return nil
		}

	case ssa.OpcodeLoad:
		addr := instr.Arg1().ID()
		dst := result.ID()
		return func(regs []uint64, mem Mem, _ CallFunc) error {
			regs[dst] = mem.LoadWord(regs[addr])
			return nil
		}

	case ssa.OpcodeStore:
		val, addr := instr.Arg2()
		vi, ai := val.ID(), addr.ID()
		return func(regs []uint64, mem Mem, _ CallFunc) error {
			mem.StoreWord(regs[ai], regs[vi])
			return nil
		}

	case ssa.OpcodeCall:
		sig := instr.CallSignature()
		argIDs := idsOf(instr.Args())
		hasResult := len(sig.Results) > 0
		var dst int
		if hasResult {
			dst = result.ID()
		}
		return func(regs []uint64, _ Mem, call CallFunc) error {
			args := make([]uint64, len(argIDs))
			for i, id := range argIDs {
				args[i] = regs[id]
			}
			rets, err := call(sig, args)
			if err != nil {
				return err
			}
			if hasResult {
				regs[dst] = rets[0]
			}
			return nil
		}

	default:
		panic(fmt.Sprintf("closure backend: unexpected non-branching opcode %s", instr.Opcode()))
	}
}

// LowerBranches implements Machine.LowerBranches.
func (m *Closure) LowerBranches(cond, term *ssa.Instruction) {
	m.cur.steps = m.pending
	m.pending = nil
	m.cur.term = m.lowerTerminator(cond, term)
}

func (m *Closure) lowerTerminator(cond, term *ssa.Instruction) terminator {
	condStep := m.branchStep(cond)
	termStep := m.branchStep(term)

	switch term.Opcode() {
	case ssa.OpcodeReturn:
		resultIDs := idsOf(term.Args())
		return func(regs []uint64, mem Mem, call CallFunc) (next *compiledBlock, results []uint64, done bool, err error) {
			if condStep != nil {
				if next, results, done, err = condStep(regs, mem, call); next != nil || done || err != nil {
					return
				}
			}
			results = make([]uint64, len(resultIDs))
			for i, id := range resultIDs {
				results[i] = regs[id]
			}
			return nil, results, true, nil
		}

	default: // Jump
		return func(regs []uint64, mem Mem, call CallFunc) (next *compiledBlock, results []uint64, done bool, err error) {
			if condStep != nil {
				if next, results, done, err = condStep(regs, mem, call); next != nil || done || err != nil {
					return
				}
			}
			return termStep(regs, mem, call)
		}
	}
}

// branchStep lowers a single branch instruction (Brz/Brnz/Jump/Return) into
// a terminator that's only invoked when that branch is actually taken. The
// target's compiledBlock is looked up through this function's blockOf map
// lazily, at call time, which is what lets a forward branch reference a
// block this function hasn't lowered yet at the point the branch itself is
// lowered. Everything else about the target (its parameter value IDs) is
// captured eagerly here: the ssa.BasicBlock behind the map key is recycled
// by the builder's Reset once the next function starts, so nothing may
// dereference it after EndFunction.
func (m *Closure) branchStep(instr *ssa.Instruction) terminator {
	if instr == nil {
		return nil
	}
	switch instr.Opcode() {
	case ssa.OpcodeJump:
		blockOf := m.blockOf
		target := instr.BranchTarget()
		paramIDs, argIDs := paramIDsOf(target), idsOf(instr.Args())
		return func(regs []uint64, _ Mem, _ CallFunc) (*compiledBlock, []uint64, bool, error) {
			bindParams(regs, paramIDs, argIDs)
			return blockOf[target], nil, false, nil
		}

	case ssa.OpcodeBrz:
		blockOf := m.blockOf
		cond := instr.Arg1().ID()
		target := instr.BranchTarget()
		paramIDs, argIDs := paramIDsOf(target), idsOf(instr.Args())
		return func(regs []uint64, _ Mem, _ CallFunc) (*compiledBlock, []uint64, bool, error) {
			if regs[cond] != 0 {
				return nil, nil, false, nil
			}
			bindParams(regs, paramIDs, argIDs)
			return blockOf[target], nil, false, nil
		}

	case ssa.OpcodeBrnz:
		blockOf := m.blockOf
		cond := instr.Arg1().ID()
		target := instr.BranchTarget()
		paramIDs, argIDs := paramIDsOf(target), idsOf(instr.Args())
		return func(regs []uint64, _ Mem, _ CallFunc) (*compiledBlock, []uint64, bool, error) {
			if regs[cond] == 0 {
				return nil, nil, false, nil
			}
			bindParams(regs, paramIDs, argIDs)
			return blockOf[target], nil, false, nil
		}

	case ssa.OpcodeReturn:
		return nil

	default:
		panic(fmt.Sprintf("closure backend: unexpected branch opcode %s", instr.Opcode()))
	}
}

// bindParams copies a branch's argument values into its target block's
// parameter slots, which are just ordinary register-file entries keyed by
// each parameter Value's own ID. Every argument is read before any
// parameter is written: on a back-edge one parameter can be another's
// argument, and a one-by-one copy would hand it the already-updated value.
func bindParams(regs []uint64, paramIDs, argIDs []int) {
	n := len(paramIDs)
	if len(argIDs) < n {
		n = len(argIDs)
	}
	vals := make([]uint64, n)
	for i := 0; i < n; i++ {
		vals[i] = regs[argIDs[i]]
	}
	for i := 0; i < n; i++ {
		regs[paramIDs[i]] = vals[i]
	}
}

func paramIDsOf(blk ssa.BasicBlock) []int {
	n := blk.Params()
	if n == 0 {
		return nil
	}
	ids := make([]int, n)
	for i := range ids {
		ids[i] = blk.Param(i).ID()
	}
	return ids
}

func idsOf(vs []ssa.Value) []int {
	if len(vs) == 0 {
		return nil
	}
	ids := make([]int, len(vs))
	for i, v := range vs {
		ids[i] = v.ID()
	}
	return ids
}

// EndBlock implements Machine.EndBlock.
func (m *Closure) EndBlock() {
	m.cur = nil
}

// EndFunction implements Machine.EndFunction.
func (m *Closure) EndFunction() CompiledFunc {
	entry := m.entry
	numRegs := m.numRegs
	return func(args []uint64, mem Mem, call CallFunc) ([]uint64, error) {
		regs := make([]uint64, numRegs)
		copy(regs, args)
		blk := entry
		for {
			for _, s := range blk.steps {
				if err := s(regs, mem, call); err != nil {
					return nil, err
				}
			}
			next, results, done, err := blk.term(regs, mem, call)
			if err != nil {
				return nil, err
			}
			if done {
				return results, nil
			}
			blk = next
		}
	}
}

// Reset implements Machine.Reset. The previous function's terminator
// closures still resolve their targets through the blockOf map they
// captured, so Reset hands out a fresh map rather than clearing the old
// one in place.
func (m *Closure) Reset() {
	m.blockOf = make(map[ssa.BasicBlock]*compiledBlock)
	m.entry, m.cur = nil, nil
	m.numRegs = 0
}
