package machosign

import (
	"bytes"
	"encoding/binary"
	"fmt"

	macho "github.com/blacktop/go-macho"
	"github.com/blacktop/go-macho/types"

	"github.com/penguicky/ArkSigning/pkg/signerr"
	"github.com/penguicky/ArkSigning/pkg/signidentity"
)

// findCodeSignatureOffset scans load commands without a full parse,
// so callers can zero out an existing signature region before handing
// the file to go-macho (which chokes on some signature layouts).
func findCodeSignatureOffset(data []byte) (offset, size uint32, found bool) {
	if len(data) < 32 {
		return 0, 0, false
	}
	magic := binary.LittleEndian.Uint32(data[0:4])
	is64 := magic == 0xfeedfacf
	headerSize := uint32(28)
	if is64 {
		headerSize = 32
	}
	var ncmds uint32
	if is64 {
		ncmds = binary.LittleEndian.Uint32(data[16:20])
	} else {
		ncmds = binary.LittleEndian.Uint32(data[12:16])
	}
	off := headerSize
	for i := uint32(0); i < ncmds && int(off)+8 <= len(data); i++ {
		cmd := binary.LittleEndian.Uint32(data[off:])
		cmdsize := binary.LittleEndian.Uint32(data[off+4:])
		if cmd == lcCodeSignature && int(off)+16 <= len(data) {
			return binary.LittleEndian.Uint32(data[off+8:]), binary.LittleEndian.Uint32(data[off+12:]), true
		}
		if cmdsize == 0 {
			break
		}
		off += cmdsize
	}
	return 0, 0, false
}

// SignThin rewrites one thin (single-architecture) Mach-O image in
// data with a fresh embedded signature, returning the new file bytes.
// It patches LC_CODE_SIGNATURE (adding it if absent) and the
// __LINKEDIT segment's size fields directly, matching the layout
// Apple's own codesign(1) produces.
func SignThin(data []byte, identity *signidentity.Identity, ctx SignContext) ([]byte, error) {
	parseBuf := make([]byte, len(data))
	copy(parseBuf, data)
	if off, size, found := findCodeSignatureOffset(data); found && off > 0 && off < uint32(len(data)) {
		end := off + size
		if end > uint32(len(data)) {
			end = uint32(len(data))
		}
		for i := off; i < end; i++ {
			parseBuf[i] = 0
		}
	}

	m, err := macho.NewFile(bytes.NewReader(parseBuf))
	if err != nil {
		return nil, signerr.New(signerr.MachOMalformed, "machosign.SignThin", err)
	}
	defer m.Close()

	is64 := m.Magic == types.Magic64
	headerSize := uint32(28)
	if is64 {
		headerSize = 32
	}

	var textOffset, textSize uint64
	var linkeditOffset uint32
	var linkeditFileoff, linkeditFilesize, linkeditVmsize uint64

	cmdOffset := headerSize
	for _, load := range m.Loads {
		if seg, ok := load.(*macho.Segment); ok {
			switch seg.Name {
			case "__TEXT":
				textOffset = seg.Offset
				textSize = seg.Filesz
			case "__LINKEDIT":
				linkeditOffset = cmdOffset
				linkeditFileoff = seg.Offset
				linkeditFilesize = seg.Filesz
				linkeditVmsize = seg.Memsz
			}
		}
		cmdOffset += load.LoadSize()
	}

	var csLoadCmdOffset uint32
	codeSize := uint64(len(data))
	cmdOffset = headerSize
	for _, load := range m.Loads {
		if cs, ok := load.(*macho.CodeSignature); ok {
			codeSize = uint64(cs.Offset)
			csLoadCmdOffset = cmdOffset
			break
		}
		cmdOffset += load.LoadSize()
	}

	if csLoadCmdOffset == 0 {
		return addSignature(data, m, identity, ctx, is64, headerSize, textOffset, textSize, linkeditOffset, linkeditFileoff, linkeditFilesize, linkeditVmsize)
	}

	codePages := (codeSize + pageSize - 1) / pageSize
	hashSpace := (codePages + 1) * 52
	alignedHashSpace := ((hashSpace + 4095) / 4096) * 4096
	finalSigSize := uint32(alignedHashSpace + 16384)

	hashable := make([]byte, codeSize)
	copy(hashable, data[:codeSize])

	binary.LittleEndian.PutUint32(hashable[csLoadCmdOffset+8:], uint32(codeSize))
	binary.LittleEndian.PutUint32(hashable[csLoadCmdOffset+12:], finalSigSize)

	if linkeditOffset > 0 {
		newFileSize := codeSize + uint64(finalSigSize)
		newLinkeditFilesize := newFileSize - linkeditFileoff
		newLinkeditVmsize := ((newLinkeditFilesize + 4095) / 4096) * 4096
		patchLinkeditSize(hashable, linkeditOffset, is64, newLinkeditVmsize, newLinkeditFilesize)
	}

	sig, err := BuildSuperBlob(hashable, identity, ctx, textOffset, textSize)
	if err != nil {
		return nil, err
	}
	if uint32(len(sig)) > finalSigSize {
		return nil, signerr.New(signerr.MachOMalformed, "machosign.SignThin", fmt.Errorf("signature grew beyond reserved space (%d > %d)", len(sig), finalSigSize))
	}

	padded := make([]byte, finalSigSize)
	copy(padded, sig)

	result := make([]byte, codeSize+uint64(finalSigSize))
	copy(result, hashable)
	copy(result[codeSize:], padded)
	return result, nil
}

func addSignature(data []byte, m *macho.File, identity *signidentity.Identity, ctx SignContext, is64 bool, headerSize uint32, textOffset, textSize uint64, linkeditOffset uint32, linkeditFileoff, linkeditFilesize, linkeditVmsize uint64) ([]byte, error) {
	var ncmds, sizeofcmds uint32
	if is64 {
		ncmds = binary.LittleEndian.Uint32(data[16:20])
		sizeofcmds = binary.LittleEndian.Uint32(data[20:24])
	} else {
		ncmds = binary.LittleEndian.Uint32(data[12:16])
		sizeofcmds = binary.LittleEndian.Uint32(data[16:20])
	}

	loadCmdsEnd := headerSize + sizeofcmds
	if textOffset > 0 && uint64(loadCmdsEnd+lcCodeSignatureSize) > textOffset {
		return nil, signerr.New(signerr.MachOMalformed, "machosign.addSignature",
			fmt.Errorf("no room to add LC_CODE_SIGNATURE load command (need %d bytes, only %d available)",
				lcCodeSignatureSize, textOffset-uint64(loadCmdsEnd)))
	}

	codeSize := uint64(len(data))
	alignedCodeSize := (codeSize + 15) &^ 15

	codePages := (alignedCodeSize / pageSize) + 1
	hashSpace := codePages * 52
	alignedHashSpace := ((hashSpace + 4095) / 4096) * 4096
	finalSigSize := uint32(alignedHashSpace + 16384)

	patched := make([]byte, alignedCodeSize)
	copy(patched, data)

	if is64 {
		binary.LittleEndian.PutUint32(patched[16:20], ncmds+1)
		binary.LittleEndian.PutUint32(patched[20:24], sizeofcmds+lcCodeSignatureSize)
	} else {
		binary.LittleEndian.PutUint32(patched[12:16], ncmds+1)
		binary.LittleEndian.PutUint32(patched[16:20], sizeofcmds+lcCodeSignatureSize)
	}

	binary.LittleEndian.PutUint32(patched[loadCmdsEnd:], lcCodeSignature)
	binary.LittleEndian.PutUint32(patched[loadCmdsEnd+4:], lcCodeSignatureSize)
	binary.LittleEndian.PutUint32(patched[loadCmdsEnd+8:], uint32(alignedCodeSize))
	binary.LittleEndian.PutUint32(patched[loadCmdsEnd+12:], finalSigSize)

	if linkeditOffset > 0 {
		newLinkeditFilesize := linkeditFilesize + (alignedCodeSize - codeSize) + uint64(finalSigSize)
		sizeIncrease := (alignedCodeSize + uint64(finalSigSize)) - codeSize
		newLinkeditVmsize := ((linkeditVmsize + sizeIncrease + 4095) / 4096) * 4096
		patchLinkeditSize(patched, linkeditOffset, is64, newLinkeditVmsize, newLinkeditFilesize)
	}
	_ = linkeditFileoff

	sig, err := BuildSuperBlob(patched, identity, ctx, textOffset, textSize)
	if err != nil {
		return nil, err
	}
	if uint32(len(sig)) > finalSigSize {
		return nil, signerr.New(signerr.MachOMalformed, "machosign.addSignature", fmt.Errorf("signature grew beyond reserved space (%d > %d)", len(sig), finalSigSize))
	}

	padded := make([]byte, finalSigSize)
	copy(padded, sig)

	result := make([]byte, alignedCodeSize+uint64(finalSigSize))
	copy(result, patched)
	copy(result[alignedCodeSize:], padded)
	return result, nil
}

func patchLinkeditSize(buf []byte, linkeditOffset uint32, is64 bool, vmsize, filesize uint64) {
	if is64 {
		binary.LittleEndian.PutUint64(buf[linkeditOffset+32:], vmsize)
		binary.LittleEndian.PutUint64(buf[linkeditOffset+48:], filesize)
	} else {
		binary.LittleEndian.PutUint32(buf[linkeditOffset+28:], uint32(vmsize))
		binary.LittleEndian.PutUint32(buf[linkeditOffset+36:], uint32(filesize))
	}
}
