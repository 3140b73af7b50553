package machosign

import (
	"crypto/sha256"
	"strings"

	"github.com/penguicky/ArkSigning/pkg/plistval"
	"github.com/penguicky/ArkSigning/pkg/signidentity"
)

// SignContext carries the per-binary inputs a SuperBlob needs beyond
// the raw code bytes: the bundle identifier, entitlements (optional,
// XML plist bytes), and the sibling Info.plist/CodeResources bytes
// whose hashes occupy special slots 1 and 3.
type SignContext struct {
	BundleID      string
	Entitlements  []byte // XML plist, may be nil
	InfoPlist     []byte
	CodeResources []byte
}

// BuildSuperBlob assembles the full embedded-signature SuperBlob for
// codeData (one Mach-O __TEXT..__LINKEDIT slice): dual CodeDirectories
// (SHA-1 primary at slot 0, SHA-256 alternate at slot 0x1000),
// Requirements, optional Entitlements/EntitlementsDER, and a detached
// CMS signature, laid out in the slot order Apple's own codesign
// writes: CD-SHA1, Requirements, [Entitlements, [EntitlementsDER]],
// CD-SHA256, CMS.
func BuildSuperBlob(codeData []byte, identity *signidentity.Identity, ctx SignContext, textOffset, textSize uint64) ([]byte, error) {
	codeSize := int64(len(codeData))

	signerCN := ""
	if identity.Certificate != nil {
		signerCN = identity.SubjectCN
	}
	reqBlob := buildRequirementsBlob(ctx.BundleID, signerCN)

	hasEntitlements := len(ctx.Entitlements) > 0
	isEmptyEnt := hasEntitlements && isEmptyEntitlementsXML(string(ctx.Entitlements))

	var entBlob, entDERBlob []byte
	if hasEntitlements {
		entBlob = buildEntitlementsBlob(ctx.Entitlements)
		if !isEmptyEnt {
			entMap, err := plistval.Decode(ctx.Entitlements)
			if err == nil && entMap.Kind == plistval.KindDict {
				if der, derErr := buildEntitlementsDERBlob(toStringMap(entMap)); derErr == nil {
					entDERBlob = der
				}
			}
		}
	}

	hasResources := len(ctx.CodeResources) > 0
	var nSpecialSlots uint32 = 2
	switch {
	case hasEntitlements && !isEmptyEnt:
		nSpecialSlots = 7
	case hasEntitlements || hasResources:
		nSpecialSlots = 5
	}

	var execSegFlags uint64
	if hasEntitlements && strings.Contains(string(ctx.Entitlements), "get-task-allow") {
		execSegFlags = csExecSegMainBinary | csExecSegAllowUnsigned
	}

	slots := specialSlots{
		InfoPlist:       ctx.InfoPlist,
		Requirements:    reqBlob,
		ResourceDir:     ctx.CodeResources,
		Entitlements:    entBlob,
		EntitlementsDER: entDERBlob,
	}

	var teamID string
	if identity != nil {
		teamID = identity.TeamID
	}

	cdirSHA1 := buildCodeDirectory(codeData, ctx.BundleID, teamID, nSpecialSlots, codeSize, textOffset, textSize, slots, hashSizeFor(csHashTypeSHA1), csHashTypeSHA1, execSegFlags)
	cdirSHA256 := buildCodeDirectory(codeData, ctx.BundleID, teamID, nSpecialSlots, codeSize, textOffset, textSize, slots, sha256.Size, csHashTypeSHA256, execSegFlags)

	cmsBlob, err := buildCMS(cdirSHA1, cdirSHA256, identity)
	if err != nil {
		return nil, err
	}

	blobCount := 4
	if hasEntitlements && !isEmptyEnt {
		blobCount = 6
	} else if hasEntitlements {
		blobCount = 5
	}

	headerSize := 12 + blobCount*8
	cdirSHA1Offset := headerSize
	reqOffset := cdirSHA1Offset + len(cdirSHA1)
	entOffset := reqOffset + len(reqBlob)
	entDEROffset := entOffset
	cdirSHA256Offset := entOffset
	if hasEntitlements && !isEmptyEnt {
		entDEROffset = entOffset + len(entBlob)
		cdirSHA256Offset = entDEROffset + len(entDERBlob)
	} else if hasEntitlements {
		cdirSHA256Offset = entOffset + len(entBlob)
	}
	cmsOffset := cdirSHA256Offset + len(cdirSHA256)
	totalSize := cmsOffset + len(cmsBlob)

	sb := make([]byte, totalSize)
	outp := sb
	outp = put32be(outp, csMagicEmbeddedSignature)
	outp = put32be(outp, uint32(totalSize))
	outp = put32be(outp, uint32(blobCount))

	outp = put32be(outp, cssCodeDirectory)
	outp = put32be(outp, uint32(cdirSHA1Offset))
	outp = put32be(outp, cssRequirements)
	outp = put32be(outp, uint32(reqOffset))
	if hasEntitlements {
		outp = put32be(outp, cssEntitlements)
		outp = put32be(outp, uint32(entOffset))
		if !isEmptyEnt {
			outp = put32be(outp, cssEntitlementsDER)
			outp = put32be(outp, uint32(entDEROffset))
		}
	}
	outp = put32be(outp, cssAlternateCodeDirectories)
	outp = put32be(outp, uint32(cdirSHA256Offset))
	outp = put32be(outp, cssCMSSignature)
	_ = put32be(outp, uint32(cmsOffset))

	copy(sb[cdirSHA1Offset:], cdirSHA1)
	copy(sb[reqOffset:], reqBlob)
	if hasEntitlements {
		copy(sb[entOffset:], entBlob)
		if !isEmptyEnt && len(entDERBlob) > 0 {
			copy(sb[entDEROffset:], entDERBlob)
		}
	}
	copy(sb[cdirSHA256Offset:], cdirSHA256)
	copy(sb[cmsOffset:], cmsBlob)

	return sb, nil
}

func toStringMap(v plistval.Value) map[string]interface{} {
	m := v.ToInterface()
	if mm, ok := m.(map[string]interface{}); ok {
		return mm
	}
	return map[string]interface{}{}
}
