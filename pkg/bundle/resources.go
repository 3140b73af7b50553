package bundle

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/penguicky/ArkSigning/pkg/hashutil"
	"github.com/penguicky/ArkSigning/pkg/plistval"
	"github.com/penguicky/ArkSigning/pkg/signerr"
)

// BuildCodeResources walks n's bundle directory (including already-
// signed nested bundles, whose contents are hashed too) and builds
// the _CodeSignature/CodeResources manifest: a legacy SHA-1 'files'
// section and a modern SHA-1+SHA-256 'files2' section, each governed
// by Apple's default omission/optionality rules.
func BuildCodeResources(n *Node) ([]byte, error) {
	files := map[string]plistval.Value{}
	files2 := map[string]plistval.Value{}

	err := filepath.Walk(n.Path, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		relPath, err := filepath.Rel(n.Path, path)
		if err != nil {
			return err
		}
		if relPath == filepath.Join("_CodeSignature", "CodeResources") || relPath == n.Executable {
			return nil
		}
		if shouldOmit(relPath) {
			return nil
		}
		return addResourceEntry(files, files2, n.Path, relPath)
	})
	if err != nil {
		return nil, err
	}

	root := plistval.Dict(map[string]plistval.Value{
		"files":  plistval.Dict(files),
		"files2": plistval.Dict(files2),
		"rules":  defaultRules(),
		"rules2": defaultRules2(),
	})
	return plistval.WriteXML(root)
}

// BuildIncrementalCodeResources starts from priorData (the CodeResources
// manifest written by the previous sign) and recomputes hashes only for
// the paths in n.ChangeSet, leaving every other entry's previously
// recorded hash untouched.
func BuildIncrementalCodeResources(n *Node, priorData []byte) ([]byte, error) {
	prior, err := plistval.DecodeDict(priorData)
	if err != nil {
		return nil, signerr.New(signerr.BundleMalformed, "bundle.BuildIncrementalCodeResources", err)
	}

	files := map[string]plistval.Value{}
	if v, ok := prior.DictGet("files"); ok && v.Kind == plistval.KindDict {
		for k, val := range v.Dict {
			files[k] = val
		}
	}
	files2 := map[string]plistval.Value{}
	if v, ok := prior.DictGet("files2"); ok && v.Kind == plistval.KindDict {
		for k, val := range v.Dict {
			files2[k] = val
		}
	}

	for _, relPath := range n.ChangeSet {
		fullPath := filepath.Join(n.Path, relPath)
		if _, statErr := os.Stat(fullPath); statErr != nil {
			delete(files, relPath)
			delete(files2, relPath)
			continue
		}
		if shouldOmit(relPath) {
			continue
		}
		if err := addResourceEntry(files, files2, n.Path, relPath); err != nil {
			return nil, err
		}
	}

	root := plistval.Dict(map[string]plistval.Value{
		"files":  plistval.Dict(files),
		"files2": plistval.Dict(files2),
		"rules":  defaultRules(),
		"rules2": defaultRules2(),
	})
	return plistval.WriteXML(root)
}

// addResourceEntry hashes the file at nodePath/relPath and sets its
// files/files2 entries in place, honoring the same optional/omit rules
// BuildCodeResources applies during a full rebuild.
func addResourceEntry(files, files2 map[string]plistval.Value, nodePath, relPath string) error {
	sha1Raw, sha256Raw, err := hashutil.FileDigestsRaw(filepath.Join(nodePath, relPath))
	if err != nil {
		return err
	}
	optional := isOptional(relPath)

	if optional {
		files[relPath] = plistval.Dict(map[string]plistval.Value{
			"hash":     plistval.Data(sha1Raw),
			"optional": plistval.Bool(true),
		})
	} else {
		files[relPath] = plistval.Data(sha1Raw)
	}

	if !shouldOmitFromFiles2(relPath) {
		entry := map[string]plistval.Value{
			"hash":  plistval.Data(sha1Raw),
			"hash2": plistval.Data(sha256Raw),
		}
		if optional {
			entry["optional"] = plistval.Bool(true)
		}
		files2[relPath] = plistval.Dict(entry)
	} else {
		delete(files2, relPath)
	}
	return nil
}

func shouldOmit(relPath string) bool {
	if strings.HasSuffix(relPath, ".DS_Store") {
		return true
	}
	if strings.Contains(relPath, ".git") {
		return true
	}
	if strings.HasPrefix(filepath.Base(relPath), "._") {
		return true
	}
	if strings.HasSuffix(relPath, ".lproj/locversion.plist") {
		return true
	}
	return false
}

func isOptional(relPath string) bool {
	return strings.Contains(relPath, ".lproj/")
}

func shouldOmitFromFiles2(relPath string) bool {
	return relPath == "Info.plist" || relPath == "PkgInfo"
}

func defaultRules() plistval.Value {
	return plistval.Dict(map[string]plistval.Value{
		"^.*": plistval.Bool(true),
		`^.*\.lproj/`: plistval.Dict(map[string]plistval.Value{
			"optional": plistval.Bool(true),
			"weight":   plistval.Real(1000),
		}),
		`^.*\.lproj/locversion.plist$`: plistval.Dict(map[string]plistval.Value{
			"omit":   plistval.Bool(true),
			"weight": plistval.Real(1100),
		}),
		`^Base\.lproj/`: plistval.Dict(map[string]plistval.Value{
			"weight": plistval.Real(1010),
		}),
		`^version.plist$`: plistval.Bool(true),
	})
}

func defaultRules2() plistval.Value {
	return plistval.Dict(map[string]plistval.Value{
		"^.*": plistval.Bool(true),
		`.*\.dSYM($|/)`: plistval.Dict(map[string]plistval.Value{
			"weight": plistval.Real(11),
		}),
		`^(.*/)?\.DS_Store$`: plistval.Dict(map[string]plistval.Value{
			"omit":   plistval.Bool(true),
			"weight": plistval.Real(2000),
		}),
		`^.*\.lproj/`: plistval.Dict(map[string]plistval.Value{
			"optional": plistval.Bool(true),
			"weight":   plistval.Real(1000),
		}),
		`^.*\.lproj/locversion.plist$`: plistval.Dict(map[string]plistval.Value{
			"omit":   plistval.Bool(true),
			"weight": plistval.Real(1100),
		}),
		`^Base\.lproj/`: plistval.Dict(map[string]plistval.Value{
			"weight": plistval.Real(1010),
		}),
		`^Info\.plist$`: plistval.Dict(map[string]plistval.Value{
			"omit":   plistval.Bool(true),
			"weight": plistval.Real(20),
		}),
		`^PkgInfo$`: plistval.Dict(map[string]plistval.Value{
			"omit":   plistval.Bool(true),
			"weight": plistval.Real(20),
		}),
		`^embedded\.provisionprofile$`: plistval.Dict(map[string]plistval.Value{
			"weight": plistval.Real(20),
		}),
		`^version\.plist$`: plistval.Dict(map[string]plistval.Value{
			"weight": plistval.Real(20),
		}),
	})
}

// WriteCodeResources builds and writes n's CodeResources manifest to
// its _CodeSignature directory.
func WriteCodeResources(n *Node) error {
	data, err := BuildCodeResources(n)
	if err != nil {
		return err
	}
	return writeCodeResourcesData(n, data)
}

func writeCodeResourcesData(n *Node, data []byte) error {
	dir := filepath.Join(n.Path, "_CodeSignature")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "CodeResources"), data, 0644)
}
