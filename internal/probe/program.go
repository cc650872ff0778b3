package probe

import (
	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/asm"
	"github.com/cockroachdb/errors"
)

// ABI selects which registers carry the intercepted routine's arguments.
type ABI string

const (
	// ABIMicrosoft is the Windows x64 convention (rcx, rdx, r8, r9), used by
	// clients hosted in Wine or Proton.
	ABIMicrosoft ABI = "ms"
	// ABISystemV is the Linux x86-64 convention (rdi, rsi, rdx, rcx, r8, r9).
	ABISystemV ABI = "sysv"
)

// pageSize bounds the fallback read of a buffer that faulted.
const pageSize = 4096

// Offsets into the x86-64 struct pt_regs.
const (
	regR9  int16 = 64
	regR8  int16 = 72
	regRCX int16 = 88
	regRDX int16 = 96
	regRSI int16 = 104
	regRDI int16 = 112
)

var argRegisters = map[ABI][]int16{
	ABIMicrosoft: {regRCX, regRDX, regR8, regR9},
	ABISystemV:   {regRDI, regRSI, regRDX, regRCX, regR8, regR9},
}

// ParseABI validates an ABI name.
func ParseABI(s string) (ABI, error) {
	abi := ABI(s)
	if _, ok := argRegisters[abi]; !ok {
		return "", errors.Newf("unknown ABI %q (want %q or %q)", s, ABIMicrosoft, ABISystemV)
	}
	return abi, nil
}

// ArgOffset returns the pt_regs offset holding argument index under abi.
// Arguments passed on the stack are not supported.
func ArgOffset(abi ABI, index int) (int16, error) {
	regs, ok := argRegisters[abi]
	if !ok {
		return 0, errors.Newf("unknown ABI %q", abi)
	}
	if index < 0 || index >= len(regs) {
		return 0, errors.Newf("argument %d is not passed in a register under the %s ABI", index, abi)
	}
	return regs[index], nil
}

// Instructions assembles the uprobe program for spec. ringbufFD is the file
// descriptor of the ring buffer map; maxPayload bounds the copy.
func Instructions(spec HookSpec, abi ABI, ringbufFD, maxPayload int) (asm.Instructions, error) {
	if maxPayload <= 0 || maxPayload > 1<<20 {
		return nil, errors.Newf("max payload %d out of range", maxPayload)
	}
	bufOff, err := ArgOffset(abi, spec.BufferArg)
	if err != nil {
		return nil, errors.Wrap(err, "buffer argument")
	}
	lenOff, err := ArgOffset(abi, spec.LengthArg)
	if err != nil {
		return nil, errors.Wrap(err, "length argument")
	}

	insns := asm.Instructions{
		// r6 = ctx, r7 = buffer pointer, r8 = length as u32
		asm.Mov.Reg(asm.R6, asm.R1),
		asm.LoadMem(asm.R7, asm.R6, bufOff, asm.DWord),
		asm.LoadMem(asm.R8, asm.R6, lenOff, asm.DWord),
		asm.LSh.Imm(asm.R8, 32),
		asm.RSh.Imm(asm.R8, 32),
	}

	switch spec.Encoding {
	case EncodingUTF16LE:
		// characters to bytes; a length of -1 overflows past maxPayload and is
		// clamped below
		insns = append(insns, asm.LSh.Imm(asm.R8, 1))
	case EncodingBytes:
	default:
		return nil, errors.Newf("unsupported encoding %s", spec.Encoding)
	}

	insns = append(insns,
		asm.JLE.Imm(asm.R8, int32(maxPayload), "sized"),
		asm.Mov.Imm(asm.R8, int32(maxPayload)),

		asm.LoadMapPtr(asm.R1, ringbufFD).WithSymbol("sized"),
		asm.Mov.Imm(asm.R2, int32(RecordHeaderSize+maxPayload)),
		asm.Mov.Imm(asm.R3, 0),
		asm.FnRingbufReserve.Call(),
		asm.JEq.Imm(asm.R0, 0, "exit"),
		asm.Mov.Reg(asm.R9, asm.R0),

		asm.StoreImm(asm.R9, 0, int64(spec.Kind), asm.Word),
		asm.StoreMem(asm.R9, 4, asm.R8, asm.Word),
		asm.FnKtimeGetNs.Call(),
		asm.StoreMem(asm.R9, 8, asm.R0, asm.DWord),

		asm.Mov.Reg(asm.R1, asm.R9),
		asm.Add.Imm(asm.R1, RecordHeaderSize),
		asm.Mov.Reg(asm.R2, asm.R8),
		asm.Mov.Reg(asm.R3, asm.R7),
		asm.FnProbeReadUser.Call(),
		asm.JEq.Imm(asm.R0, 0, "submit"),

		// a NUL-terminated string can end near an unmapped page; retry up to
		// the end of the source page when that is shorter than the request
		asm.Mov.Reg(asm.R2, asm.R7),
		asm.And.Imm(asm.R2, pageSize-1),
		asm.Mov.Imm(asm.R1, pageSize),
		asm.Sub.Reg(asm.R1, asm.R2),
		asm.JLE.Imm(asm.R1, int32(maxPayload), "page_sized"),
		asm.Mov.Imm(asm.R1, int32(maxPayload)),
		asm.JGE.Reg(asm.R1, asm.R8, "unreadable").WithSymbol("page_sized"),
		asm.Mov.Reg(asm.R8, asm.R1),
		asm.Mov.Reg(asm.R1, asm.R9),
		asm.Add.Imm(asm.R1, RecordHeaderSize),
		asm.Mov.Reg(asm.R2, asm.R8),
		asm.Mov.Reg(asm.R3, asm.R7),
		asm.FnProbeReadUser.Call(),
		asm.JNE.Imm(asm.R0, 0, "unreadable"),
		asm.StoreMem(asm.R9, 4, asm.R8, asm.Word),
		asm.Ja.Label("submit"),

		// unreadable buffer: keep the record but mark it empty
		asm.StoreImm(asm.R9, 4, 0, asm.Word).WithSymbol("unreadable"),

		asm.Mov.Reg(asm.R1, asm.R9).WithSymbol("submit"),
		asm.Mov.Imm(asm.R2, 0),
		asm.FnRingbufSubmit.Call(),

		asm.Mov.Imm(asm.R0, 0).WithSymbol("exit"),
		asm.Return(),
	)

	return insns, nil
}

// ProgramSpec wraps Instructions into a loadable uprobe program.
func ProgramSpec(name string, spec HookSpec, abi ABI, ringbuf *ebpf.Map, maxPayload int) (*ebpf.ProgramSpec, error) {
	insns, err := Instructions(spec, abi, ringbuf.FD(), maxPayload)
	if err != nil {
		return nil, errors.Wrapf(err, "assembling %s", spec)
	}

	return &ebpf.ProgramSpec{
		Name:         name,
		Type:         ebpf.Kprobe,
		Instructions: insns,
		// bpf_probe_read_user is GPL-only
		License: "GPL",
	}, nil
}

// RingBufferSpec describes the ring buffer shared by all hooks.
func RingBufferSpec(size uint32) *ebpf.MapSpec {
	return &ebpf.MapSpec{
		Name:       "logincap_rb",
		Type:       ebpf.RingBuf,
		MaxEntries: size,
	}
}
