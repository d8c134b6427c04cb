// Package asm implements the lexical contract in front of the machine: it
// turns source bytes into a flat Program of Instructions, ready for either
// the interpreter or the JIT frontend to walk. Beyond tokenizing and
// recognizing the instruction shapes in the grammar, it performs no
// analysis: label resolution, arity checking and symbol lookup all happen
// downstream.
package asm

// Op identifies the shape of an Instruction.
type Op int

const (
	OpInclude Op = iota
	OpMov
	OpSwap
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpLabel
	OpJz
	OpJnz
	OpCall
	OpRCall
	OpOut
	OpNop
)

// String implements fmt.Stringer.
func (o Op) String() string {
	switch o {
	case OpInclude:
		return "INCLUDE"
	case OpMov:
		return "MOV"
	case OpSwap:
		return "SWAP"
	case OpAdd:
		return "ADD"
	case OpSub:
		return "SUB"
	case OpMul:
		return "MUL"
	case OpDiv:
		return "DIV"
	case OpMod:
		return "MOD"
	case OpLabel:
		return "LABEL"
	case OpJz:
		return "JZ"
	case OpJnz:
		return "JNZ"
	case OpCall:
		return "CALL"
	case OpRCall:
		return "RCALL"
	case OpOut:
		return "OUT"
	case OpNop:
		return "NOP"
	default:
		return "unknown"
	}
}

// VarKind distinguishes a named slot from an indirect (dereferenced) one.
type VarKind int

const (
	VarNamed VarKind = iota
	VarIndirect
)

// Var is the left-hand side of MOV/SWAP/arithmetic and the destination of
// CALL/RCALL: either a named slot, or `&val`, whose effective address is
// val's runtime value.
type Var struct {
	Kind VarKind
	Name string // set when Kind == VarNamed
	Addr *Val   // set when Kind == VarIndirect
}

// ValKind distinguishes the three forms a Val can take.
type ValKind int

const (
	ValVar ValKind = iota
	ValWord
	ValStr
)

// Val is anything that can be read: a variable, a decimal literal, or a
// string literal (which the parser has already decoded and which the
// program owner interns into the string pool at load time).
type Val struct {
	Kind ValKind
	Var  *Var   // set when Kind == ValVar
	Word uint64 // set when Kind == ValWord
	Str  string // set when Kind == ValStr
}

// Instruction is one parsed line of source. Which fields are meaningful
// depends on Op; the comment on each field lists the Ops that set it.
type Instruction struct {
	Op  Op
	Pos int // byte offset of the instruction's keyword, for diagnostics

	ModuleName string // OpInclude

	Var  *Var // OpMov (dest), OpSwap (first), OpAdd/Sub/Mul/Div/Mod (dest), OpJz/OpJnz unused
	Var2 *Var // OpSwap (second)
	Val  *Val // OpMov (source), OpAdd/Sub/Mul/Div/Mod (operand), OpJz/OpJnz (condition), OpOut

	Label string // OpLabel, OpJz, OpJnz: the label name

	CallName string // OpCall, OpRCall
	Args     []*Val // OpCall
	Result   *Var   // OpCall, OpRCall: optional destination for the returned value
}

// Function is a named `FUNC name { ... }` body, kept separate from the
// flat top-level instruction stream. Parameters are not declared here: a
// function's arity is established the same way host symbols' are, by the
// shape of its call sites (see frontend.Plan).
type Function struct {
	Name string
	Body []Instruction
}

// Program is the result of a successful Parse: the top-level (main)
// instruction stream plus every nested function definition encountered.
type Program struct {
	Main      []Instruction
	Functions []Function
}
