// Package regs describes the fixed x86-64 register set captured in samples.
package regs

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// ID identifies a single architectural register.
type ID uint8

// General-purpose registers, in sample order.
const (
	RAX ID = iota
	RBX
	RCX
	RDX
	RDI
	RSI
	RBP
	RSP
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

// Vector registers.
const (
	XMM0 ID = iota + 32
	XMM1
	XMM2
	XMM3
	XMM4
	XMM5
	XMM6
	XMM7
	XMM8
	XMM9
	XMM10
	XMM11
	XMM12
	XMM13
	XMM14
	XMM15
)

// VectorSize is the width of a vector register in bytes.
const VectorSize = 16

// GeneralPurpose lists the general-purpose registers emitted per sample.
var GeneralPurpose = [16]ID{RAX, RBX, RCX, RDX, RDI, RSI, RBP, RSP, R8, R9, R10, R11, R12, R13, R14, R15}

// Vector lists the vector registers emitted per sample.
var Vector = [16]ID{XMM0, XMM1, XMM2, XMM3, XMM4, XMM5, XMM6, XMM7, XMM8, XMM9, XMM10, XMM11, XMM12, XMM13, XMM14, XMM15}

var gprNames = [16]string{"rax", "rbx", "rcx", "rdx", "rdi", "rsi", "rbp", "rsp", "r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15"}

// Context exposes register state at the moment of an event.
type Context interface {
	Register(id ID) uint64
	Vector(id ID) [VectorSize]byte
}

// IsVector reports whether id names an XMM register.
func (id ID) IsVector() bool {
	return id >= XMM0 && id <= XMM15
}

// Index returns the position of id within its register file.
func (id ID) Index() int {
	if id.IsVector() {
		return int(id - XMM0)
	}
	return int(id)
}

// String returns the short lowercase register name.
func (id ID) String() string {
	switch {
	case id <= R15:
		return gprNames[id]
	case id.IsVector():
		return fmt.Sprintf("xmm%d", id-XMM0)
	default:
		return fmt.Sprintf("reg(%d)", uint8(id))
	}
}

// Parse resolves a short register name such as "rax" or "xmm3".
func Parse(name string) (ID, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range gprNames {
		if n == name {
			return ID(i), nil
		}
	}
	if rest, ok := strings.CutPrefix(name, "xmm"); ok {
		idx, err := strconv.Atoi(rest)
		if err == nil && idx >= 0 && idx < len(Vector) && strconv.Itoa(idx) == rest {
			return Vector[idx], nil
		}
	}
	return 0, fmt.Errorf("unknown register %q", name)
}

// Lanes splits a vector register into four 32-bit little-endian lanes.
func Lanes(raw [VectorSize]byte) [4]uint32 {
	return [4]uint32{
		binary.LittleEndian.Uint32(raw[0:4]),
		binary.LittleEndian.Uint32(raw[4:8]),
		binary.LittleEndian.Uint32(raw[8:12]),
		binary.LittleEndian.Uint32(raw[12:16]),
	}
}

// Snapshot is an in-memory register Context.
type Snapshot struct {
	GPR [16]uint64
	XMM [16][VectorSize]byte
}

// Register implements Context.
func (s *Snapshot) Register(id ID) uint64 {
	if id > R15 {
		return 0
	}
	return s.GPR[id]
}

// Vector implements Context.
func (s *Snapshot) Vector(id ID) [VectorSize]byte {
	if !id.IsVector() {
		return [VectorSize]byte{}
	}
	return s.XMM[id.Index()]
}

// Capture copies every sampled register out of ctx.
func Capture(ctx Context) Snapshot {
	var snap Snapshot
	for i, id := range GeneralPurpose {
		snap.GPR[i] = ctx.Register(id)
	}
	for i, id := range Vector {
		snap.XMM[i] = ctx.Vector(id)
	}
	return snap
}
