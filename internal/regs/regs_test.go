package regs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNamesRoundTrip(t *testing.T) {
	t.Parallel()

	for _, id := range GeneralPurpose {
		parsed, err := Parse(id.String())
		require.NoError(t, err)
		require.Equal(t, id, parsed)
	}
	for _, id := range Vector {
		parsed, err := Parse(id.String())
		require.NoError(t, err)
		require.Equal(t, id, parsed)
	}

	require.Equal(t, "rsp", RSP.String())
	require.Equal(t, "xmm15", XMM15.String())
}

func TestParseRejectsUnknown(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"", "eax", "xmm16", "xmm01", "xmm-1", "ymm0"} {
		_, err := Parse(name)
		require.Error(t, err, name)
	}
}

func TestLanesLittleEndian(t *testing.T) {
	t.Parallel()

	raw := [VectorSize]byte{
		0x01, 0x00, 0x00, 0x00,
		0xff, 0xff, 0xff, 0xff,
		0x00, 0x00, 0x80, 0x3f, // 1.0f, must stay an integer
		0x78, 0x56, 0x34, 0x12,
	}
	require.Equal(t, [4]uint32{1, 0xffffffff, 0x3f800000, 0x12345678}, Lanes(raw))
}

func TestCaptureCopiesAllRegisters(t *testing.T) {
	t.Parallel()

	var src Snapshot
	for i := range src.GPR {
		src.GPR[i] = uint64(i + 1)
		src.XMM[i][0] = byte(i)
	}

	snap := Capture(&src)
	require.Equal(t, src, snap)
	require.Zero(t, snap.Register(XMM0))
	require.Equal(t, [VectorSize]byte{}, snap.Vector(RAX))
}
