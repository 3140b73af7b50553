package bundle

import (
	"fmt"

	"github.com/penguicky/ArkSigning/pkg/plistval"
	"github.com/penguicky/ArkSigning/pkg/signerr"
)

func readBundleIDAndExecutable(data []byte) (bundleID, executable string, err error) {
	bundleID, executable, _, _, err = readBundleMeta(data)
	return bundleID, executable, err
}

// readBundleMeta extracts the Bundle Node fields an Info.plist
// supplies directly: identifier, executable name, version, and
// display name (CFBundleDisplayName, falling back to CFBundleName).
func readBundleMeta(data []byte) (bundleID, executable, version, displayName string, err error) {
	v, err := plistval.DecodeDict(data)
	if err != nil {
		return "", "", "", "", signerr.New(signerr.BundleMalformed, "bundle.readBundleMeta", err)
	}
	bid, _ := v.DictGet("CFBundleIdentifier")
	exe, _ := v.DictGet("CFBundleExecutable")
	if bid.Kind != plistval.KindString {
		return "", "", "", "", signerr.New(signerr.BundleMalformed, "bundle.readBundleMeta", fmt.Errorf("CFBundleIdentifier missing or not a string"))
	}
	if exe.Kind != plistval.KindString {
		return "", "", "", "", signerr.New(signerr.BundleMalformed, "bundle.readBundleMeta", fmt.Errorf("CFBundleExecutable missing or not a string"))
	}
	if ver, ok := v.DictGet("CFBundleVersion"); ok && ver.Kind == plistval.KindString {
		version = ver.Str
	}
	if name, ok := v.DictGet("CFBundleDisplayName"); ok && name.Kind == plistval.KindString {
		displayName = name.Str
	} else if name, ok := v.DictGet("CFBundleName"); ok && name.Kind == plistval.KindString {
		displayName = name.Str
	}
	return bid.Str, exe.Str, version, displayName, nil
}

// UpdateBundleID rewrites CFBundleIdentifier in an Info.plist byte
// stream, returning the re-rendered XML plist.
func UpdateBundleID(data []byte, newBundleID string) ([]byte, error) {
	v, err := plistval.DecodeDict(data)
	if err != nil {
		return nil, signerr.New(signerr.BundleMalformed, "bundle.UpdateBundleID", err)
	}
	v.Dict["CFBundleIdentifier"] = plistval.String(newBundleID)
	return plistval.WriteXML(v)
}
