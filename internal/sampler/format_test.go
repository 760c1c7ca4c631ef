package sampler

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skobkin/regsampler/internal/regs"
)

func testSnapshot() *regs.Snapshot {
	snap := &regs.Snapshot{}
	for i := range snap.GPR {
		snap.GPR[i] = uint64(1000 + i)
	}
	for i := range snap.XMM {
		snap.XMM[i] = [regs.VectorSize]byte{byte(i), 0, 0, 0, 0, 0, 0x80, 0x3f, 0xff, 0xff, 0xff, 0xff, 0, 0, 0, 0}
	}
	return snap
}

func TestFormatLayout(t *testing.T) {
	t.Parallel()

	out := Format(7, 4198400, "mov rax, rbx", testSnapshot())
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	require.Len(t, lines, 3+16+16+1)

	require.Equal(t, "InstrumentedCount: 7", lines[0])
	require.Equal(t, "Instruction at address: 4198400", lines[1])
	require.Equal(t, "Disassembled instruction: mov rax, rbx", lines[2])

	wantGPR := []string{"rax", "rbx", "rcx", "rdx", "rdi", "rsi", "rbp", "rsp", "r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15"}
	for i, name := range wantGPR {
		require.Equal(t, name+": "+strconv.Itoa(1000+i), lines[3+i])
	}

	require.Equal(t, "xmm0: 0 1065353216 4294967295 0", lines[19])
	require.Equal(t, "xmm15: 15 1065353216 4294967295 0", lines[34])
	require.Equal(t, "----------------------------", lines[35])
}

func TestFormatDeterministic(t *testing.T) {
	t.Parallel()

	first := Format(1, 42, "nop", testSnapshot())
	second := Format(1, 42, "nop", testSnapshot())
	require.Equal(t, first, second)
}

func TestFormatEmptyDisassembly(t *testing.T) {
	t.Parallel()

	out := Format(1, 0, "", &regs.Snapshot{})
	require.Contains(t, out, "Disassembled instruction: \nrax: 0\n")
}
