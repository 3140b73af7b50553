// Package bundle walks an extracted .app/.ipa payload, builds the
// CodeResources manifest, places provisioning profiles, injects
// dylibs, and drives the post-order (children-before-parents) signing
// traversal that hands each Mach-O binary to pkg/machosign.
package bundle

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/penguicky/ArkSigning/pkg/hashutil"
)

// Node is one bundle (.app, .framework, .appex, .xctest) in the
// traversal tree: the root app bundle plus every nested bundle found
// under it.
type Node struct {
	Path            string // absolute path to this bundle directory
	BundleID        string
	BundleVersion   string
	DisplayName     string
	Executable      string // relative to Path
	InfoPlistSHA1   string // base64, raw Info.plist bytes
	InfoPlistSHA256 string // base64, raw Info.plist bytes
	Children        []*Node
	ChildIndex      map[string]*Node // path -> child, in-memory traversal aid only
	LooseDylibs     []string         // relative to Path, loose .dylib files owned directly by this node
	ChangeSet       []string         // relative to Path, entries that must be re-hashed on an incremental rebuild
}

// nestedExts lists the bundle-like directory extensions that get
// their own signature and CodeResources, recursively.
var nestedExts = map[string]bool{
	".framework": true,
	".appex":     true,
	".xctest":    true,
	".app":       true,
}

// Discover walks appPath and returns the root Node with its nested
// bundles attached as Children, each of them discovered recursively
// in turn; callers that want a flat depth-ordered signing list use
// FlattenDeepestFirst.
func Discover(appPath string) (*Node, error) {
	root := &Node{Path: appPath, ChildIndex: map[string]*Node{}}
	if err := attachInfo(root); err != nil {
		return nil, err
	}
	if err := attachLooseDylibs(root); err != nil {
		return nil, err
	}

	var nestedPaths []string
	err := filepath.Walk(appPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() || path == appPath {
			return nil
		}
		if nestedExts[filepath.Ext(path)] {
			nestedPaths = append(nestedPaths, path)
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, p := range nestedPaths {
		// resource-only bundles may have no Info.plist/executable
		child, err := Discover(p)
		if err != nil {
			return nil, err
		}
		root.Children = append(root.Children, child)
		root.ChildIndex[p] = child
	}

	return root, nil
}

func attachInfo(n *Node) error {
	plistPath := filepath.Join(n.Path, "Info.plist")
	data, err := os.ReadFile(plistPath)
	if err != nil {
		bundleName := filepath.Base(n.Path)
		n.Executable = strings.TrimSuffix(bundleName, filepath.Ext(bundleName))
		return nil
	}
	bundleID, execName, version, displayName, err := readBundleMeta(data)
	if err != nil {
		return nil
	}
	n.BundleID = bundleID
	n.Executable = execName
	n.BundleVersion = version
	n.DisplayName = displayName
	n.InfoPlistSHA1, n.InfoPlistSHA256 = hashutil.DataDigests(data)
	return nil
}

// attachLooseDylibs scans n's own directory tree for .dylib files not
// owned by a nested bundle, recording them relative to n.Path as the
// node's "files" list of loose dylibs to sign.
func attachLooseDylibs(n *Node) error {
	return filepath.Walk(n.Path, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if path != n.Path && nestedExts[filepath.Ext(path)] {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".dylib") {
			rel, relErr := filepath.Rel(n.Path, path)
			if relErr != nil {
				return relErr
			}
			n.LooseDylibs = append(n.LooseDylibs, rel)
		}
		return nil
	})
}

// ComputeChangeSet fills in n.ChangeSet and recurses into n's
// children: the paths (relative to n.Path) whose hashes must be
// recomputed in n's CodeResources manifest on an incremental rebuild —
// every loose dylib plus each child's CodeResources and main
// executable. The root additionally tracks embedded.mobileprovision
// unless dontEmbedProfile is set.
func (n *Node) ComputeChangeSet(dontEmbedProfile bool, isRoot bool) {
	changed := append([]string{}, n.LooseDylibs...)
	for _, c := range n.Children {
		relDir, err := filepath.Rel(n.Path, c.Path)
		if err != nil {
			continue
		}
		changed = append(changed, filepath.Join(relDir, "_CodeSignature", "CodeResources"))
		changed = append(changed, filepath.Join(relDir, c.Executable))
		c.ComputeChangeSet(dontEmbedProfile, false)
	}
	if isRoot && !dontEmbedProfile {
		changed = append(changed, "embedded.mobileprovision")
	}
	n.ChangeSet = changed
}

// FlattenDeepestFirst returns every node in the tree ordered so that
// the deepest nested bundles (most path separators) come first,
// matching the signing order Apple requires: a parent's CodeResources
// must hash its children's already-written signatures.
func (root *Node) FlattenDeepestFirst() []*Node {
	var all []*Node
	var walk func(n *Node)
	walk = func(n *Node) {
		for _, c := range n.Children {
			walk(c)
		}
		all = append(all, n)
	}
	walk(root)
	sort.SliceStable(all, func(i, j int) bool {
		return strings.Count(all[i].Path, string(os.PathSeparator)) > strings.Count(all[j].Path, string(os.PathSeparator))
	})
	return all
}

// ExecutablePath returns the absolute path to n's main binary.
func (n *Node) ExecutablePath() string {
	return filepath.Join(n.Path, n.Executable)
}

// HasExecutable reports whether n's main binary actually exists
// (resource-only frameworks don't have one).
func (n *Node) HasExecutable() bool {
	if n.Executable == "" {
		return false
	}
	_, err := os.Stat(n.ExecutablePath())
	return err == nil
}
