// Package backend turns a finished ssa.Builder into something callable. The
// package itself knows nothing about any particular target: Compiler drives
// a Machine through a fixed sequence of callbacks, and Machine decides what
// those callbacks produce. Closure (in closure.go) is the one Machine this
// repository ships, but nothing in Compiler assumes a closure is what comes
// out the other end.
package backend

import "github.com/tetratelabs/slotvm/internal/engine/jit/ssa"

type (
	// Machine lowers one function's worth of ssa.Builder state into whatever
	// this backend targets. Compiler calls its methods in a fixed sequence:
	// SetCompilationContext once, then for each function StartFunction,
	// (StartBlock, LowerInstr*, LowerBranches, EndBlock) per block in
	// allocation order, then EndFunction. Reset prepares it for the next
	// function.
	Machine interface {
		// SetCompilationContext is called once, before the first function.
		SetCompilationContext(CompilationContext)

		// StartFunction is called once per function, before its first block.
		// numValues is one past the largest ssa.Value.ID() used by the
		// function, i.e. the size of a dense per-activation register file.
		StartFunction(numBlocks, numValues int)

		// StartBlock is called when lowering of the given block begins.
		StartBlock(ssa.BasicBlock)

		// LowerInstr lowers a single non-branching instruction in the
		// current block, in source order.
		LowerInstr(*ssa.Instruction)

		// LowerBranches lowers the one or two instructions that terminate
		// the current block. cond is the block's conditional branch
		// (Brz/Brnz) if the block has one, else nil. term is the block's
		// unconditional terminator (Jump or Return) and is never nil.
		LowerBranches(cond, term *ssa.Instruction)

		// EndBlock is called when the current block is fully lowered.
		EndBlock()

		// EndFunction finishes the function and returns its callable form.
		EndFunction() CompiledFunc

		// Reset prepares the Machine to lower the next function.
		Reset()
	}

	// CompilationContext is the half of Compiler a Machine is allowed to
	// call back into.
	CompilationContext interface {
		// MarkLowered records that inst has already been folded into
		// another instruction's lowering and should be skipped when
		// Compiler would otherwise hand it to LowerInstr. Branch
		// instructions are always passed to LowerBranches.
		MarkLowered(inst *ssa.Instruction)
	}
)
