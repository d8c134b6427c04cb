// Package ssa builds an SSA-form control-flow graph for a single function at
// a time. It is free of any assumption about the source language or the
// target ISA: the frontend lowers source instructions into this IR, and a
// backend (package backend) lowers this IR into whatever it targets.
//
// Variable definitions use the on-the-fly SSA construction algorithm from
// Braun et al., "Simple and Efficient Construction of Static Single
// Assignment Form" (https://link.springer.com/chapter/10.1007/978-3-642-37051-9_6):
// a read of a variable that isn't yet locally defined recurses into
// predecessors, inserting a block parameter (this package's equivalent of a
// PHI node) only at confluence points that actually need one. This lets the
// frontend lower in a single forward pass even in the presence of forward
// branches and back-edges, without a separate mem2reg-style pass.
package ssa

import (
	"fmt"
	"sort"
	"strings"
)

// poolPageSize sizes the page behind instructionsPool/basicBlocksPool. A
// wasm module's function can span hundreds of basic blocks; a function body
// here is a flat slice parsed from a handful of lines of assembly source, so
// a page an order of magnitude smaller avoids over-allocating on every
// Reset between the typically tiny functions this VM compiles.
const poolPageSize = 16

// pool is a page-allocated, Reset-able arena for T, used by builder to hand
// out *Instruction and *basicBlock without a GC-visible allocation per node.
// builder.go is this package's only consumer, so the type stays unexported
// and inlined here rather than in its own file.
type pool[T any] struct {
	pages            []*[poolPageSize]T
	allocated, index int
}

func newPool[T any]() pool[T] {
	var ret pool[T]
	ret.reset()
	return ret
}

func (p *pool[T]) allocate() *T {
	if p.index == poolPageSize {
		if len(p.pages) == cap(p.pages) {
			p.pages = append(p.pages, new([poolPageSize]T))
		} else {
			i := len(p.pages)
			p.pages = p.pages[:i+1]
			if p.pages[i] == nil {
				p.pages[i] = new([poolPageSize]T)
			}
		}
		p.index = 0
	}
	ret := &p.pages[len(p.pages)-1][p.index]
	p.index++
	p.allocated++
	return ret
}

func (p *pool[T]) view(i int) *T {
	page, index := i/poolPageSize, i%poolPageSize
	return &p.pages[page][index]
}

func (p *pool[T]) reset() {
	for _, ns := range p.pages {
		pages := ns[:]
		for i := range pages {
			var v T
			pages[i] = v
		}
	}
	p.pages = p.pages[:0]
	p.index = poolPageSize
	p.allocated = 0
}

// Builder builds the SSA-form function currently being compiled.
type Builder interface {
	// Reset clears the builder so it can be reused for the next function.
	Reset()

	// AllocateBasicBlock creates a new, unsealed basic block.
	AllocateBasicBlock() BasicBlock

	// Blocks returns the valid blocks created so far, in allocation order.
	Blocks() []BasicBlock

	// CurrentBlock returns the block instructions are currently inserted into.
	CurrentBlock() BasicBlock

	// SetCurrentBlock sets the insertion point to b.
	SetCurrentBlock(b BasicBlock)

	// DeclareVariable declares a new Variable of the given Type.
	DeclareVariable(Type) Variable

	// DefineVariable records that variable's latest value in block is value.
	DefineVariable(variable Variable, value Value, block BasicBlock)

	// DefineVariableInCurrentBB is DefineVariable against CurrentBlock().
	DefineVariableInCurrentBB(variable Variable, value Value)

	// FindValue returns the Value that represents the latest definition of
	// variable as observed from CurrentBlock(), inserting block parameters
	// at merge points as needed.
	FindValue(variable Variable) Value

	// AllocateInstruction returns a blank Instruction ready to be populated
	// by one of its As* methods and inserted with InsertInstruction.
	AllocateInstruction() *Instruction

	// InsertInstruction appends instr to CurrentBlock() and, if the opcode
	// produces a value, allocates and records it.
	InsertInstruction(instr *Instruction)

	// DeclareSignature registers a Signature so it can be referenced by Call
	// instructions and later retrieved via UsedSignatures.
	DeclareSignature(sig *Signature)

	// UsedSignatures returns the signatures referenced by Call instructions
	// emitted since the last Reset, ordered by SignatureID.
	UsedSignatures() []*Signature

	// Format returns a debug dump of every block and instruction built so far.
	Format() string

	// NumValues returns one past the largest Value.ID() allocated so far,
	// i.e. the size a backend needs for a dense register file.
	NumValues() int

	// AllocateParam allocates a fresh Value with no defining instruction,
	// representing a value supplied from outside the function (an incoming
	// argument). Called first, in order, against a freshly Reset builder,
	// the Nth call's Value.ID() is N — which is what lets a register-file
	// backend seed argument slots directly by index.
	AllocateParam(typ Type) Value

	allocateValue(typ Type) Value
	definedVariableType(Variable) Type
	findValue(typ Type, variable Variable, blk *basicBlock) Value
}

// NewBuilder returns a fresh Builder.
func NewBuilder() Builder {
	return &builder{
		instructionsPool: newPool[Instruction](),
		basicBlocksPool:  newPool[basicBlock](),
		valueAnnotations: make(map[valueID]string),
		signatures:       make(map[SignatureID]*Signature),
	}
}

type builder struct {
	basicBlocksPool  pool[basicBlock]
	instructionsPool pool[Instruction]
	signatures       map[SignatureID]*Signature

	basicBlocksView []BasicBlock
	currentBB       *basicBlock

	variables    []Type
	nextValueID  valueID
	nextVariable Variable

	valueAnnotations map[valueID]string
}

// Reset implements Builder.Reset.
func (b *builder) Reset() {
	b.instructionsPool.reset()
	for _, sig := range b.signatures {
		sig.used = false
	}
	for i := 0; i < b.basicBlocksPool.allocated; i++ {
		b.basicBlocksPool.view(i).reset()
	}
	b.basicBlocksPool.reset()

	for i := range b.variables {
		b.variables[i] = TypeInvalid
	}
	b.nextVariable = 0

	for v := valueID(0); v < valueID(b.nextValueID); v++ {
		delete(b.valueAnnotations, v)
	}
	b.nextValueID = 0
}

// AllocateInstruction implements Builder.AllocateInstruction.
func (b *builder) AllocateInstruction() *Instruction {
	instr := b.instructionsPool.allocate()
	instr.rValue = valueInvalid
	instr.prev, instr.next = nil, nil
	instr.vs = nil
	return instr
}

// DeclareSignature implements Builder.DeclareSignature.
func (b *builder) DeclareSignature(s *Signature) {
	b.signatures[s.ID] = s
}

// UsedSignatures implements Builder.UsedSignatures.
func (b *builder) UsedSignatures() (ret []*Signature) {
	for _, sig := range b.signatures {
		if sig.used {
			ret = append(ret, sig)
		}
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].ID < ret[j].ID })
	return
}

// AllocateBasicBlock implements Builder.AllocateBasicBlock.
func (b *builder) AllocateBasicBlock() BasicBlock {
	id := basicBlockID(b.basicBlocksPool.allocated)
	blk := b.basicBlocksPool.allocate()
	blk.id = id
	blk.lastDefinitions = make(map[Variable]Value)
	blk.unknownValues = make(map[Variable]Value)
	return blk
}

// InsertInstruction implements Builder.InsertInstruction.
func (b *builder) InsertInstruction(instr *Instruction) {
	b.currentBB.InsertInstruction(instr)

	var resultType Type
	switch instr.opcode {
	case OpcodeIconst, OpcodeIadd, OpcodeIsub, OpcodeImul, OpcodeUdiv, OpcodeUrem, OpcodeLoad:
		resultType = TypeWord
	case OpcodeCall:
		if len(instr.sig.Results) == 0 {
			return
		}
		resultType = instr.sig.Results[0]
	default:
		return // Store, Jump, Brz, Brnz, Return produce nothing.
	}
	instr.rValue = b.allocateValue(resultType)
}

// Blocks implements Builder.Blocks.
func (b *builder) Blocks() []BasicBlock {
	b.basicBlocksView = b.basicBlocksView[:0]
	for i := 0; i < b.basicBlocksPool.allocated; i++ {
		blk := b.basicBlocksPool.view(i)
		if blk.invalid {
			continue
		}
		b.basicBlocksView = append(b.basicBlocksView, blk)
	}
	return b.basicBlocksView
}

// DefineVariable implements Builder.DefineVariable.
func (b *builder) DefineVariable(variable Variable, value Value, block BasicBlock) {
	if b.variables[variable] == TypeInvalid {
		panic("BUG: variable " + variable.String() + " was never declared")
	}
	block.(*basicBlock).lastDefinitions[variable] = value
}

// DefineVariableInCurrentBB implements Builder.DefineVariableInCurrentBB.
func (b *builder) DefineVariableInCurrentBB(variable Variable, value Value) {
	b.DefineVariable(variable, value, b.currentBB)
}

// SetCurrentBlock implements Builder.SetCurrentBlock.
func (b *builder) SetCurrentBlock(bb BasicBlock) { b.currentBB = bb.(*basicBlock) }

// CurrentBlock implements Builder.CurrentBlock.
func (b *builder) CurrentBlock() BasicBlock { return b.currentBB }

// DeclareVariable implements Builder.DeclareVariable.
func (b *builder) DeclareVariable(typ Type) Variable {
	v := b.nextVariable
	b.nextVariable++
	iv := int(v)
	if l := len(b.variables); l <= iv {
		b.variables = append(b.variables, make([]Type, 2*(l+1))...)
	}
	b.variables[v] = typ
	return v
}

// allocateValue implements Builder.allocateValue.
func (b *builder) allocateValue(typ Type) (v Value) {
	v = Value(b.nextValueID).setType(typ)
	b.nextValueID++
	return
}

// FindValue implements Builder.FindValue.
func (b *builder) FindValue(variable Variable) Value {
	typ := b.definedVariableType(variable)
	return b.findValue(typ, variable, b.currentBB)
}

// findValue is the recursive half of the Braun et al. algorithm: it looks
// for variable's latest definition reachable from blk.
func (b *builder) findValue(typ Type, variable Variable, blk *basicBlock) Value {
	if val, ok := blk.lastDefinitions[variable]; ok {
		return val
	}
	if !blk.sealed {
		// Not all of blk's predecessors are known yet: stash a placeholder
		// that Seal will wire up to a real block parameter later.
		value := b.allocateValue(typ)
		blk.lastDefinitions[variable] = value
		blk.unknownValues[variable] = value
		return value
	}
	if pred := blk.singlePred; pred != nil {
		return b.findValue(typ, variable, pred)
	}
	if len(blk.preds) == 0 {
		// Unreachable block (e.g. a label nothing jumps to, or the function
		// entry reading a slot never written): the default value per the
		// interpreter contract is zero.
		return b.allocateValue(typ)
	}

	// Multiple predecessors: add a block parameter and thread the
	// definition through each predecessor's terminating branch. The param
	// is recorded as blk's definition before recursing so that a back-edge
	// predecessor reaching blk again resolves to it instead of recursing
	// forever.
	paramValue := b.allocateValue(typ)
	blk.lastDefinitions[variable] = paramValue
	blk.addParamOn(variable, paramValue)
	for i := range blk.preds {
		pred := &blk.preds[i]
		value := b.findValue(typ, variable, pred.blk)
		pred.branch.addArgument(value)
	}
	return paramValue
}

// NumValues implements Builder.NumValues.
func (b *builder) NumValues() int { return int(b.nextValueID) }

// AllocateParam implements Builder.AllocateParam.
func (b *builder) AllocateParam(typ Type) Value { return b.allocateValue(typ) }

func (b *builder) definedVariableType(variable Variable) Type {
	typ := b.variables[variable]
	if typ == TypeInvalid {
		panic(fmt.Sprintf("%s is not declared yet", variable))
	}
	return typ
}

// Format implements Builder.Format.
func (b *builder) Format() string {
	str := strings.Builder{}
	if sigs := b.UsedSignatures(); len(sigs) > 0 {
		str.WriteString("signatures:\n")
		for _, sig := range sigs {
			fmt.Fprintf(&str, "\t%s\n", sig)
		}
	}
	for _, blk := range b.Blocks() {
		bb := blk.(*basicBlock)
		fmt.Fprintf(&str, "\n%s\n", bb.FormatHeader(b))
		for cur := bb.Root(); cur != nil; cur = cur.Next() {
			fmt.Fprintf(&str, "\t%s\n", cur.Format(b))
		}
	}
	return str.String()
}
