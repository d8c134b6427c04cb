package backend

import "github.com/tetratelabs/slotvm/internal/engine/jit/ssa"

// Compiler drives an ssa.Builder's finished function through a Machine.
type Compiler interface {
	// Compile lowers the function currently held by the ssa.Builder and
	// returns the callable form its Machine produced.
	Compile() (CompiledFunc, error)

	// Reset prepares the Compiler and its Machine for the next function.
	Reset()
}

// NewCompiler returns a Compiler that lowers builder's current function
// through mach.
func NewCompiler(mach Machine, builder ssa.Builder) Compiler {
	c := &compiler{mach: mach, ssaBuilder: builder, lowered: make(map[*ssa.Instruction]struct{})}
	mach.SetCompilationContext(c)
	return c
}

type compiler struct {
	mach       Machine
	ssaBuilder ssa.Builder
	lowered    map[*ssa.Instruction]struct{}
}

// Compile implements Compiler.Compile.
func (c *compiler) Compile() (CompiledFunc, error) {
	blocks := c.ssaBuilder.Blocks()
	c.mach.StartFunction(len(blocks), c.ssaBuilder.NumValues())
	for _, blk := range blocks {
		c.lowerBlock(blk)
	}
	return c.mach.EndFunction(), nil
}

// lowerBlock feeds one block's instructions to the Machine in source order,
// peeling off the one or two branch instructions that end it so the Machine
// can lower a conditional branch together with its fallthrough jump.
func (c *compiler) lowerBlock(blk ssa.BasicBlock) {
	mach := c.mach
	mach.StartBlock(blk)

	cur := blk.Root()
	for cur != nil && !cur.IsBranching() {
		if _, skip := c.lowered[cur]; !skip {
			mach.LowerInstr(cur)
		}
		cur = cur.Next()
	}

	var cond, term *ssa.Instruction
	if cur != nil {
		if next := cur.Next(); next != nil && next.IsBranching() {
			cond, term = cur, next
		} else {
			term = cur
		}
	}
	mach.LowerBranches(cond, term)
	mach.EndBlock()
}

// Reset implements Compiler.Reset.
func (c *compiler) Reset() {
	for k := range c.lowered {
		delete(c.lowered, k)
	}
	c.mach.Reset()
}

// MarkLowered implements CompilationContext.MarkLowered.
func (c *compiler) MarkLowered(inst *ssa.Instruction) {
	c.lowered[inst] = struct{}{}
}
