package ssa

import "fmt"

// Opcode identifies the operation performed by an Instruction.
type Opcode byte

const (
	// OpcodeIconst: `a = iconst N`. Materializes a constant word.
	OpcodeIconst Opcode = 1 + iota
	// OpcodeIadd: `a = iadd x, y`.
	OpcodeIadd
	// OpcodeIsub: `a = isub x, y`.
	OpcodeIsub
	// OpcodeImul: `a = imul x, y`.
	OpcodeImul
	// OpcodeUdiv: `a = udiv x, y`. Traps if y == 0.
	OpcodeUdiv
	// OpcodeUrem: `a = urem x, y`. Traps if y == 0.
	OpcodeUrem
	// OpcodeLoad: `a = load p`. Loads a word from address p.
	OpcodeLoad
	// OpcodeStore: `store x, p`. Stores word x at address p.
	OpcodeStore
	// OpcodeCall: `[a] = call SIG, args`.
	OpcodeCall
	// OpcodeJump: `jump block, args`. Unconditional.
	OpcodeJump
	// OpcodeBrz: `brz c, block, args`. Taken when c == 0, else falls through.
	OpcodeBrz
	// OpcodeBrnz: `brnz c, block, args`. Taken when c != 0, else falls through.
	OpcodeBrnz
	// OpcodeReturn: `return [a]`.
	OpcodeReturn
)

func (o Opcode) String() string {
	switch o {
	case OpcodeIconst:
		return "iconst"
	case OpcodeIadd:
		return "iadd"
	case OpcodeIsub:
		return "isub"
	case OpcodeImul:
		return "imul"
	case OpcodeUdiv:
		return "udiv"
	case OpcodeUrem:
		return "urem"
	case OpcodeLoad:
		return "load"
	case OpcodeStore:
		return "store"
	case OpcodeCall:
		return "call"
	case OpcodeJump:
		return "jump"
	case OpcodeBrz:
		return "brz"
	case OpcodeBrnz:
		return "brnz"
	case OpcodeReturn:
		return "return"
	default:
		return "unknown"
	}
}

// Instruction is a single SSA instruction. Since Go has no union type, this
// flattened struct holds every operand any opcode might need; which fields
// are meaningful depends on opcode. Instructions form a doubly linked list
// per basic block in emission order.
type Instruction struct {
	opcode     Opcode
	prev, next *Instruction

	v1, v2 Value
	vs     []Value // block arguments for Jump/Brz/Brnz, call arguments for Call
	u64    uint64  // immediate operand of Iconst
	target *basicBlock
	sig    *Signature
	rValue Value
}

// AsIconst turns this Instruction into an OpcodeIconst.
func (i *Instruction) AsIconst(v uint64) *Instruction {
	i.opcode = OpcodeIconst
	i.u64 = v
	return i
}

// AsIadd turns this Instruction into an OpcodeIadd.
func (i *Instruction) AsIadd(x, y Value) *Instruction { i.opcode = OpcodeIadd; i.v1, i.v2 = x, y; return i }

// AsIsub turns this Instruction into an OpcodeIsub.
func (i *Instruction) AsIsub(x, y Value) *Instruction { i.opcode = OpcodeIsub; i.v1, i.v2 = x, y; return i }

// AsImul turns this Instruction into an OpcodeImul.
func (i *Instruction) AsImul(x, y Value) *Instruction { i.opcode = OpcodeImul; i.v1, i.v2 = x, y; return i }

// AsUdiv turns this Instruction into an OpcodeUdiv.
func (i *Instruction) AsUdiv(x, y Value) *Instruction { i.opcode = OpcodeUdiv; i.v1, i.v2 = x, y; return i }

// AsUrem turns this Instruction into an OpcodeUrem.
func (i *Instruction) AsUrem(x, y Value) *Instruction { i.opcode = OpcodeUrem; i.v1, i.v2 = x, y; return i }

// AsLoad turns this Instruction into an OpcodeLoad.
func (i *Instruction) AsLoad(addr Value) *Instruction { i.opcode = OpcodeLoad; i.v1 = addr; return i }

// AsStore turns this Instruction into an OpcodeStore.
func (i *Instruction) AsStore(value, addr Value) *Instruction {
	i.opcode = OpcodeStore
	i.v1, i.v2 = value, addr
	return i
}

// AsCall turns this Instruction into an OpcodeCall.
func (i *Instruction) AsCall(sig *Signature, args []Value) *Instruction {
	i.opcode = OpcodeCall
	i.sig = sig
	i.vs = args
	sig.used = true
	return i
}

// AsJump turns this Instruction into an OpcodeJump.
func (i *Instruction) AsJump(target BasicBlock, args []Value) *Instruction {
	i.opcode = OpcodeJump
	i.target = target.(*basicBlock)
	i.vs = args
	return i
}

// AsBrz turns this Instruction into an OpcodeBrz.
func (i *Instruction) AsBrz(cond Value, target BasicBlock, args []Value) *Instruction {
	i.opcode = OpcodeBrz
	i.v1 = cond
	i.target = target.(*basicBlock)
	i.vs = args
	return i
}

// AsBrnz turns this Instruction into an OpcodeBrnz.
func (i *Instruction) AsBrnz(cond Value, target BasicBlock, args []Value) *Instruction {
	i.opcode = OpcodeBrnz
	i.v1 = cond
	i.target = target.(*basicBlock)
	i.vs = args
	return i
}

// AsReturn turns this Instruction into an OpcodeReturn.
func (i *Instruction) AsReturn(args []Value) *Instruction {
	i.opcode = OpcodeReturn
	i.vs = args
	return i
}

// Opcode returns the opcode of this instruction.
func (i *Instruction) Opcode() Opcode { return i.opcode }

// Arg2 returns the two Value operands of a binary instruction.
func (i *Instruction) Arg2() (Value, Value) { return i.v1, i.v2 }

// Arg1 returns the sole Value operand of a unary instruction (Load, Brz, Brnz).
func (i *Instruction) Arg1() Value { return i.v1 }

// ConstValue returns the immediate operand of an Iconst instruction.
func (i *Instruction) ConstValue() uint64 { return i.u64 }

// Args returns the argument list of a Call, Jump, Brz, Brnz, or Return.
func (i *Instruction) Args() []Value { return i.vs }

// CallSignature returns the Signature of a Call instruction.
func (i *Instruction) CallSignature() *Signature { return i.sig }

// BranchTarget returns the target block of a Jump, Brz, or Brnz.
func (i *Instruction) BranchTarget() BasicBlock { return i.target }

// Return is the Value produced by this instruction, or an invalid Value if
// the instruction produces nothing (Store, Jump, Brz, Brnz, Return, or a
// void Call).
func (i *Instruction) Return() Value { return i.rValue }

// Next returns the next instruction in the containing block, or nil.
func (i *Instruction) Next() *Instruction { return i.next }

// Prev returns the previous instruction in the containing block, or nil.
func (i *Instruction) Prev() *Instruction { return i.prev }

// IsBranching reports whether this instruction ends a block's control flow.
func (i *Instruction) IsBranching() bool {
	switch i.opcode {
	case OpcodeJump, OpcodeBrz, OpcodeBrnz, OpcodeReturn:
		return true
	default:
		return false
	}
}

func (i *Instruction) addArgument(v Value) {
	i.vs = append(i.vs, v)
}

// Format returns a debug string for this instruction.
func (i *Instruction) Format(b Builder) string {
	var lhs string
	if i.rValue.Valid() {
		lhs = i.rValue.format(b) + " = "
	}
	switch i.opcode {
	case OpcodeIconst:
		return fmt.Sprintf("%s%s %d", lhs, i.opcode, i.u64)
	case OpcodeIadd, OpcodeIsub, OpcodeImul, OpcodeUdiv, OpcodeUrem:
		return fmt.Sprintf("%s%s %s, %s", lhs, i.opcode, i.v1.format(b), i.v2.format(b))
	case OpcodeLoad:
		return fmt.Sprintf("%s%s %s", lhs, i.opcode, i.v1.format(b))
	case OpcodeStore:
		return fmt.Sprintf("%s %s, %s", i.opcode, i.v1.format(b), i.v2.format(b))
	case OpcodeCall:
		return fmt.Sprintf("%s%s %s%s", lhs, i.opcode, i.sig.Name, formatValues(b, i.vs))
	case OpcodeJump:
		return fmt.Sprintf("%s %s%s", i.opcode, i.target.Name(), formatValues(b, i.vs))
	case OpcodeBrz, OpcodeBrnz:
		return fmt.Sprintf("%s %s, %s%s", i.opcode, i.v1.format(b), i.target.Name(), formatValues(b, i.vs))
	case OpcodeReturn:
		return fmt.Sprintf("%s%s", i.opcode, formatValues(b, i.vs))
	default:
		return i.opcode.String()
	}
}

func formatValues(b Builder, vs []Value) string {
	if len(vs) == 0 {
		return ""
	}
	s := " ("
	for i, v := range vs {
		if i > 0 {
			s += ", "
		}
		s += v.format(b)
	}
	return s + ")"
}
