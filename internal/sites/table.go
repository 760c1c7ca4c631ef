// Package sites caches disassembly text per instruction address.
package sites

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/elastic/go-freelru"
	"golang.org/x/arch/x86/x86asm"
)

// DefaultCapacity is the number of instruction sites kept in memory.
const DefaultCapacity = 65536

// MaxInstructionLen is the longest valid x86-64 encoding.
const MaxInstructionLen = 15

// BadInstruction is recorded for bytes that do not decode.
const BadInstruction = "(bad)"

// FetchFunc returns the machine code starting at a site's address.
type FetchFunc func() ([]byte, error)

// Table maps instruction addresses to their disassembly. It is safe for
// concurrent use and is meant to outlive individual runs.
type Table struct {
	cache  *freelru.SyncedLRU[uint64, string]
	logger *slog.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewTable creates a Table holding up to capacity sites.
func NewTable(capacity int, logger *slog.Logger) (*Table, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("site table capacity must be > 0")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := freelru.NewSynced[uint64, string](uint32(capacity), hashAddress)
	if err != nil {
		return nil, fmt.Errorf("create site cache: %w", err)
	}
	return &Table{
		cache:  cache,
		logger: logger.With("component", "sites"),
	}, nil
}

// Text returns the disassembly of the instruction at addr, decoding the
// bytes from fetch only when the site has not been seen before.
func (t *Table) Text(addr uint64, fetch FetchFunc) string {
	if text, ok := t.cache.Get(addr); ok {
		t.hits.Add(1)
		return text
	}
	t.misses.Add(1)

	code, err := fetch()
	if err != nil {
		t.logger.Debug("fetch instruction bytes", "addr", addr, "err", err)
		t.cache.Add(addr, BadInstruction)
		return BadInstruction
	}
	text := Disassemble(addr, code)
	t.cache.Add(addr, text)
	return text
}

// Remember stores text supplied by the event source for addr.
func (t *Table) Remember(addr uint64, text string) {
	t.cache.Add(addr, text)
}

// Len returns the number of cached sites.
func (t *Table) Len() int {
	return t.cache.Len()
}

// Hits returns the number of lookups served from the cache.
func (t *Table) Hits() uint64 { return t.hits.Load() }

// Misses returns the number of lookups that required decoding.
func (t *Table) Misses() uint64 { return t.misses.Load() }

// Disassemble decodes one 64-bit instruction in Intel syntax.
func Disassemble(addr uint64, code []byte) string {
	if len(code) > MaxInstructionLen {
		code = code[:MaxInstructionLen]
	}
	inst, err := x86asm.Decode(code, 64)
	// Prefix-only input decodes without error but carries no opcode.
	if err != nil || inst.Op == 0 {
		return BadInstruction
	}
	return x86asm.IntelSyntax(inst, addr, nil)
}

func hashAddress(addr uint64) uint32 {
	var key [8]byte
	binary.LittleEndian.PutUint64(key[:], addr)
	return uint32(xxhash.Sum64(key[:]))
}
