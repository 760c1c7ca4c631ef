package sampler

import (
	"strconv"

	"github.com/skobkin/regsampler/internal/regs"
)

const recordSeparator = "----------------------------"

// typical record is ~1.1KB with 20-digit register values
const recordSizeHint = 1536

// Format renders one sample record. It is safe for concurrent use.
func Format(ordinal uint32, address uint64, disassembly string, ctx regs.Context) string {
	buf := make([]byte, 0, recordSizeHint)

	buf = append(buf, "InstrumentedCount: "...)
	buf = strconv.AppendUint(buf, uint64(ordinal), 10)
	buf = append(buf, "\nInstruction at address: "...)
	buf = strconv.AppendUint(buf, address, 10)
	buf = append(buf, "\nDisassembled instruction: "...)
	buf = append(buf, disassembly...)
	buf = append(buf, '\n')

	for _, id := range regs.GeneralPurpose {
		buf = append(buf, id.String()...)
		buf = append(buf, ": "...)
		buf = strconv.AppendUint(buf, ctx.Register(id), 10)
		buf = append(buf, '\n')
	}

	for _, id := range regs.Vector {
		lanes := regs.Lanes(ctx.Vector(id))
		buf = append(buf, id.String()...)
		buf = append(buf, ':')
		for _, lane := range lanes {
			buf = append(buf, ' ')
			buf = strconv.AppendUint(buf, uint64(lane), 10)
		}
		buf = append(buf, '\n')
	}

	buf = append(buf, recordSeparator...)
	buf = append(buf, '\n')
	return string(buf)
}
