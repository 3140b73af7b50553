package machosign

import "encoding/binary"

// Apple requirement-language opcodes and match operators
// (cscdefs.h). Only the subset the designated requirement uses.
const (
	opAnd                = 6
	opIdent              = 2
	opAppleGenericAnchor = 15
	opCertField          = 11
	opCertGeneric        = 14
	matchExists          = 0
	matchEqual           = 1
)

// appleDeveloperOID is 1.2.840.113635.100.6.2.1, DER-encoded without
// the tag/length header (the requirement opcode carries its own
// length-prefixed blob format, not ASN.1).
var appleDeveloperOID = []byte{0x2a, 0x86, 0x48, 0x86, 0xf7, 0x63, 0x64, 0x06, 0x02, 0x01}

func writePaddedString(buf *bufWriter, s string) {
	data := []byte(s)
	buf.u32(uint32(len(data)))
	buf.raw(data)
	for i := len(data); i&3 != 0; i++ {
		buf.raw([]byte{0})
	}
}

type bufWriter struct{ b []byte }

func (w *bufWriter) u32(x uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], x)
	w.b = append(w.b, tmp[:]...)
}
func (w *bufWriter) raw(b []byte) { w.b = append(w.b, b...) }

// buildDesignatedRequirement builds a Requirement blob (magic
// 0xfade0c00, length, kind = expression) whose expression is:
//
//	identifier "bundleID" and anchor apple generic
//
// and, when signerCN is non-empty, additionally requires the leaf
// certificate's subject.CN to equal signerCN and the intermediate
// certificate to carry the Apple Developer extension OID.
func buildDesignatedRequirement(bundleID, signerCN string) []byte {
	w := &bufWriter{}
	if signerCN == "" {
		w.u32(opAnd)
		w.u32(opIdent)
		writePaddedString(w, bundleID)
		w.u32(opAppleGenericAnchor)
	} else {
		w.u32(opAnd)
		w.u32(opIdent)
		writePaddedString(w, bundleID)

		w.u32(opAnd)
		w.u32(opAppleGenericAnchor)

		w.u32(opAnd)
		w.u32(opCertField)
		w.u32(0) // leaf
		writePaddedString(w, "subject.CN")
		w.u32(matchEqual)
		writePaddedString(w, signerCN)

		w.u32(opCertGeneric)
		w.u32(1) // intermediate
		w.u32(uint32(len(appleDeveloperOID)))
		w.raw(appleDeveloperOID)
		for i := len(appleDeveloperOID); i&3 != 0; i++ {
			w.raw([]byte{0})
		}
		w.u32(matchExists)
	}

	expr := w.b
	total := 8 + 4 + len(expr)
	blob := make([]byte, total)
	binary.BigEndian.PutUint32(blob[0:], csMagicRequirement)
	binary.BigEndian.PutUint32(blob[4:], uint32(total))
	binary.BigEndian.PutUint32(blob[8:], 1) // kind = expression
	copy(blob[12:], expr)
	return blob
}

// buildRequirementsBlob wraps the designated requirement as the sole
// entry (type 3, kSecDesignatedRequirementType) of a Requirements
// SuperBlob.
func buildRequirementsBlob(bundleID, signerCN string) []byte {
	reqExpr := buildDesignatedRequirement(bundleID, signerCN)

	const reqCount = 1
	headerSize := uint32(12 + reqCount*8)
	total := headerSize + uint32(len(reqExpr))

	blob := make([]byte, total)
	outp := blob
	outp = put32be(outp, csMagicRequirements)
	outp = put32be(outp, total)
	outp = put32be(outp, reqCount)
	outp = put32be(outp, 3) // kSecDesignatedRequirementType
	outp = put32be(outp, headerSize)
	copy(blob[headerSize:], reqExpr)
	return blob
}
