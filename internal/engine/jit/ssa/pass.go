package ssa

// MarkUnreachableBlocks walks the CFG from blocks[0] (the function entry)
// and sets the invalid flag on every block it can't reach, so a later
// Blocks() call omits them from both iteration and Format output. A block
// becomes unreachable when, for example, a label nothing jumps to survives
// in the IR as an empty predecessor set.
func MarkUnreachableBlocks(blocks []BasicBlock) {
	if len(blocks) == 0 {
		return
	}
	reachable := make(map[*basicBlock]bool, len(blocks))
	stack := []*basicBlock{blocks[0].(*basicBlock)}
	reachable[stack[0]] = true
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, succ := range cur.succs {
			if !reachable[succ] {
				reachable[succ] = true
				stack = append(stack, succ)
			}
		}
	}
	for _, b := range blocks {
		bb := b.(*basicBlock)
		if !reachable[bb] {
			bb.invalid = true
		}
	}
}
