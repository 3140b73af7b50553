package machosign

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/binary"
	"strings"
)

func put32be(b []byte, x uint32) []byte { binary.BigEndian.PutUint32(b, x); return b[4:] }
func put64be(b []byte, x uint64) []byte { binary.BigEndian.PutUint64(b, x); return b[8:] }
func put8(b []byte, x uint8) []byte     { b[0] = x; return b[1:] }
func puts(b, s []byte) []byte           { n := copy(b, s); return b[n:] }

func computeHash(data []byte, hashType uint8) []byte {
	if len(data) == 0 {
		return make([]byte, hashSizeFor(hashType))
	}
	switch hashType {
	case csHashTypeSHA1:
		h := sha1.Sum(data)
		return h[:]
	default:
		h := sha256.Sum256(data)
		return h[:]
	}
}

// specialSlots bundles the blobs hashed into a CodeDirectory's special
// (negative-indexed) slots.
type specialSlots struct {
	InfoPlist     []byte
	Requirements  []byte
	ResourceDir   []byte
	Entitlements  []byte
	EntitlementsDER []byte
}

// buildCodeDirectory lays out an 88-byte v0x20400 CodeDirectory header
// followed by the bundle identifier, optional team ID, special-slot
// hashes (written from slot nSpecialSlots down to 1), then one hash
// per 4096-byte code page.
func buildCodeDirectory(codeData []byte, bundleID, teamID string, nSpecialSlots uint32, codeSize int64,
	textOffset, textSize uint64, slots specialSlots, hashSize int, hashType uint8, execSegFlags uint64) []byte {

	nhashes := (codeSize + pageSize - 1) / pageSize

	idOff := uint32(cdHeaderSize)
	teamOff := uint32(0)
	hashOff := idOff + uint32(len(bundleID)+1)
	if teamID != "" {
		teamOff = hashOff
		hashOff = teamOff + uint32(len(teamID)+1)
	}
	hashOff += nSpecialSlots * uint32(hashSize)
	cdirLen := hashOff + uint32(nhashes)*uint32(hashSize)

	cdir := make([]byte, cdirLen)
	outp := cdir

	outp = put32be(outp, csMagicCodeDirectory)
	outp = put32be(outp, cdirLen)
	outp = put32be(outp, 0x20400) // version
	outp = put32be(outp, 0)       // flags
	outp = put32be(outp, hashOff)
	outp = put32be(outp, idOff)
	outp = put32be(outp, nSpecialSlots)
	outp = put32be(outp, uint32(nhashes))
	outp = put32be(outp, uint32(codeSize))
	outp = put8(outp, uint8(hashSize))
	outp = put8(outp, hashType)
	outp = put8(outp, 0) // pad1
	outp = put8(outp, pageSizeBits)
	outp = put32be(outp, 0) // pad2
	outp = put32be(outp, 0) // scatterOffset
	outp = put32be(outp, teamOff)
	outp = put32be(outp, 0) // pad3
	outp = put64be(outp, 0) // codeLimit64
	outp = put64be(outp, textOffset)
	outp = put64be(outp, textSize)
	outp = put64be(outp, execSegFlags)

	outp = puts(outp, append([]byte(bundleID), 0))
	if teamID != "" {
		outp = puts(outp, append([]byte(teamID), 0))
	}

	for i := int(nSpecialSlots); i >= 1; i-- {
		var hash []byte
		switch i {
		case cssInfoSlot:
			hash = computeHash(slots.InfoPlist, hashType)
		case cssRequirements:
			hash = computeHash(slots.Requirements, hashType)
		case cssResourceDir:
			hash = computeHash(slots.ResourceDir, hashType)
		case cssEntitlements:
			hash = computeHash(slots.Entitlements, hashType)
		case cssEntitlementsDER:
			hash = computeHash(slots.EntitlementsDER, hashType)
		default:
			hash = make([]byte, hashSize)
		}
		outp = puts(outp, hash)
	}

	for p := int64(0); p < codeSize; p += pageSize {
		end := p + pageSize
		if end > codeSize {
			end = codeSize
		}
		outp = puts(outp, computeHash(codeData[p:end], hashType))
	}

	return cdir
}

// isEmptyEntitlementsXML reports whether an entitlements plist is an
// empty dict, which signs with fewer special slots and no DER blob.
func isEmptyEntitlementsXML(entitlements string) bool {
	hasEmptyDict := strings.Contains(entitlements, "<dict/>") || strings.Contains(entitlements, "<dict></dict>")
	return hasEmptyDict && !strings.Contains(entitlements, "<key>")
}
