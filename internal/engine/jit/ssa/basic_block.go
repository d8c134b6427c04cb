package ssa

import (
	"fmt"
	"strings"
)

// BasicBlock represents a basic block in the control-flow graph of an SSA
// function: a maximal run of instructions with a single entry and a single
// exit (its last instruction, always a Jump/Brz/Brnz/Return).
//
// We use the "block argument" variant of SSA instead of explicit PHI
// instructions: a block targeted by more than one predecessor can carry
// parameters, and each predecessor's terminating branch supplies the
// argument values. See https://mlir.llvm.org/docs/Rationale/Rationale/#block-arguments-vs-phi-nodes
type BasicBlock interface {
	// Name returns a unique, human-readable label for this block, e.g. "blk3".
	Name() string

	// Params returns the number of block parameters (phi-equivalents).
	Params() int

	// Param returns the Value bound to the i-th parameter.
	Param(i int) Value

	// InsertInstruction appends an instruction to the tail of this block.
	InsertInstruction(instr *Instruction)

	// Root returns the first instruction in the block, or nil if empty.
	Root() *Instruction

	// Tail returns the last instruction in the block, or nil if empty.
	Tail() *Instruction

	// Seal fixes the set of predecessors of this block. Must be called once
	// every branch that targets it has been emitted.
	Seal(b Builder)

	// Sealed reports whether Seal has been called.
	Sealed() bool

	// FormatHeader returns the debug string for this block's signature line.
	FormatHeader(b Builder) string
}

type (
	basicBlock struct {
		id                      basicBlockID
		rootInstr, currentInstr *Instruction
		params                  []blockParam
		preds                   []basicBlockPredecessorInfo
		succs                   []*basicBlock
		singlePred              *basicBlock
		lastDefinitions         map[Variable]Value
		unknownValues           map[Variable]Value
		invalid                 bool
		sealed                  bool
	}

	basicBlockID uint32

	blockParam struct {
		variable Variable
		value    Value
	}

	basicBlockPredecessorInfo struct {
		blk    *basicBlock
		branch *Instruction
	}
)

// Name implements BasicBlock.Name.
func (bb *basicBlock) Name() string {
	return fmt.Sprintf("blk%d", bb.id)
}

// Params implements BasicBlock.Params.
func (bb *basicBlock) Params() int { return len(bb.params) }

// Param implements BasicBlock.Param.
func (bb *basicBlock) Param(i int) Value { return bb.params[i].value }

func (bb *basicBlock) addParamOn(variable Variable, value Value) {
	bb.params = append(bb.params, blockParam{variable: variable, value: value})
}

// InsertInstruction implements BasicBlock.InsertInstruction.
func (bb *basicBlock) InsertInstruction(next *Instruction) {
	if cur := bb.currentInstr; cur != nil {
		cur.next = next
		next.prev = cur
	} else {
		bb.rootInstr = next
	}
	bb.currentInstr = next

	if next.opcode == OpcodeJump || next.opcode == OpcodeBrz || next.opcode == OpcodeBrnz {
		next.target.addPred(bb, next)
	}
}

// Root implements BasicBlock.Root.
func (bb *basicBlock) Root() *Instruction { return bb.rootInstr }

// Tail implements BasicBlock.Tail.
func (bb *basicBlock) Tail() *Instruction { return bb.currentInstr }

func (bb *basicBlock) addPred(pred *basicBlock, branch *Instruction) {
	if bb.sealed {
		panic("BUG: adding predecessor to a sealed block: " + bb.Name())
	}
	bb.preds = append(bb.preds, basicBlockPredecessorInfo{blk: pred, branch: branch})
	pred.succs = append(pred.succs, bb)
}

// Seal implements BasicBlock.Seal.
func (bb *basicBlock) Seal(raw Builder) {
	b := raw.(*builder)
	if len(bb.preds) == 1 {
		bb.singlePred = bb.preds[0].blk
	}
	bb.sealed = true

	for variable, phiValue := range bb.unknownValues {
		typ := b.definedVariableType(variable)
		bb.addParamOn(variable, phiValue)
		for i := range bb.preds {
			pred := &bb.preds[i]
			predValue := b.findValue(typ, variable, pred.blk)
			pred.branch.addArgument(predValue)
		}
	}
}

// Sealed implements BasicBlock.Sealed.
func (bb *basicBlock) Sealed() bool { return bb.sealed }

func (bb *basicBlock) reset() {
	bb.params = bb.params[:0]
	bb.rootInstr, bb.currentInstr = nil, nil
	bb.preds = bb.preds[:0]
	bb.succs = bb.succs[:0]
	bb.invalid, bb.sealed = false, false
	bb.singlePred = nil
	bb.unknownValues = make(map[Variable]Value)
	bb.lastDefinitions = make(map[Variable]Value)
}

// FormatHeader implements BasicBlock.FormatHeader.
func (bb *basicBlock) FormatHeader(b Builder) string {
	ps := make([]string, len(bb.params))
	for i, p := range bb.params {
		ps[i] = p.value.format(b)
	}
	if len(bb.preds) == 0 {
		return fmt.Sprintf("%s: (%s)", bb.Name(), strings.Join(ps, ", "))
	}
	preds := make([]string, len(bb.preds))
	for i, p := range bb.preds {
		preds[i] = p.blk.Name()
	}
	return fmt.Sprintf("%s: (%s) <-- (%s)", bb.Name(), strings.Join(ps, ", "), strings.Join(preds, ", "))
}
