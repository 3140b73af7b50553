package bundle

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/penguicky/ArkSigning/pkg/machosign"
	"github.com/penguicky/ArkSigning/pkg/plistval"
	"github.com/penguicky/ArkSigning/pkg/signerr"
	"github.com/penguicky/ArkSigning/pkg/signidentity"
)

// Options configures a single SignApp invocation.
type Options struct {
	Identity       *signidentity.Identity
	Profile        *signidentity.Profile // may be nil (ad-hoc/identity-only signing)
	Entitlements   []byte                // XML plist override; nil uses the profile's own entitlements
	NewBundleID    string                // empty keeps the existing CFBundleIdentifier
	DylibsToInject []string
	WeakInject     bool
	RemoveDylibs   []string
	ProfileData    []byte // raw embedded.mobileprovision bytes; nil leaves any existing profile untouched
	NoEmbedProfile bool   // strip any embedded.mobileprovision instead of placing ProfileData
	Force          bool   // ignore the incremental cache and rebuild every CodeResources from scratch
	CacheDir       string // empty uses DefaultCacheDir
	Progress       func(path, stage string)
}

// SignApp re-signs the app bundle rooted at appPath: it discovers
// nested bundles, optionally rewrites the bundle identifier, injects
// any requested dylibs into the root executable, places or removes the
// provisioning profile, then signs deepest bundles first so each
// parent's CodeResources can hash its already-signed children. Absent
// -f, when a cache entry from a previous run exists, each node's
// CodeResources is rebuilt incrementally from its prior on-disk
// manifest.
func SignApp(appPath string, opts Options) error {
	root, err := Discover(appPath)
	if err != nil {
		return err
	}

	if opts.NewBundleID != "" {
		if err := rewriteBundleID(root, opts.NewBundleID); err != nil {
			return err
		}
	}

	if len(opts.DylibsToInject) > 0 && root.HasExecutable() {
		if err := injectDylibs(root.ExecutablePath(), opts.DylibsToInject, opts.WeakInject, opts.Progress); err != nil {
			return err
		}
	}

	if opts.NoEmbedProfile {
		if err := RemoveProvisioningProfile(root.Path); err != nil {
			return err
		}
	} else if opts.ProfileData != nil {
		if err := PlaceProvisioningProfile(root.Path, opts.ProfileData); err != nil {
			return err
		}
	}

	root.ComputeChangeSet(opts.NoEmbedProfile, true)

	cacheDir := opts.CacheDir
	if cacheDir == "" {
		cacheDir, err = DefaultCacheDir()
		if err != nil {
			return err
		}
	}
	var priorEntry *CacheEntry
	if !opts.Force {
		priorEntry, err = LoadCacheEntry(cacheDir, appPath)
		if err != nil {
			return err
		}
	}
	incremental := priorEntry != nil

	order := root.FlattenDeepestFirst()
	for _, node := range order {
		if opts.Progress != nil {
			opts.Progress(node.Path, "discovered")
		}
		if err := signNode(node, root, opts, incremental); err != nil {
			return signerr.New(signerr.MachOMalformed, "bundle.SignApp", fmt.Errorf("%s: %w", node.Path, err))
		}
		if opts.Progress != nil {
			opts.Progress(node.Path, "signed")
		}
	}

	entry := &CacheEntry{AppPath: appPath, SignedAt: time.Now().UTC().Format(time.RFC3339), Root: BuildCacheNode(root)}
	if opts.Identity != nil {
		entry.TeamID = opts.Identity.TeamID
	}
	return SaveCacheEntry(cacheDir, appPath, entry)
}

func rewriteBundleID(root *Node, newBundleID string) error {
	plistPath := filepath.Join(root.Path, "Info.plist")
	data, err := os.ReadFile(plistPath)
	if err != nil {
		return signerr.New(signerr.BundleMalformed, "bundle.rewriteBundleID", err)
	}
	updated, err := UpdateBundleID(data, newBundleID)
	if err != nil {
		return err
	}
	if err := os.WriteFile(plistPath, updated, 0644); err != nil {
		return signerr.New(signerr.IoFailure, "bundle.rewriteBundleID", err)
	}
	root.BundleID = newBundleID
	return nil
}

func injectDylibs(execPath string, dylibs []string, weak bool, progress func(path, stage string)) error {
	data, err := os.ReadFile(execPath)
	if err != nil {
		return signerr.New(signerr.IoFailure, "bundle.injectDylibs", err)
	}
	for _, lib := range dylibs {
		out, result, err := machosign.InjectDylib(data, lib, weak)
		if err != nil {
			return err
		}
		if result.AlreadyPresent {
			if progress != nil {
				progress(execPath, "dylib-already-present:"+lib)
			}
			continue
		}
		data = out
	}
	return os.WriteFile(execPath, data, 0755)
}

func signNode(node, root *Node, opts Options, incremental bool) error {
	for _, dylib := range node.LooseDylibs {
		if err := signLooseDylib(node, dylib, opts.Identity); err != nil {
			return err
		}
	}

	if !node.HasExecutable() {
		return nil
	}

	resourcesPath := filepath.Join(node.Path, "_CodeSignature", "CodeResources")
	priorData, priorErr := os.ReadFile(resourcesPath)
	if incremental && priorErr == nil {
		rebuilt, err := BuildIncrementalCodeResources(node, priorData)
		if err != nil {
			return err
		}
		if err := writeCodeResourcesData(node, rebuilt); err != nil {
			return err
		}
	} else if err := WriteCodeResources(node); err != nil {
		return err
	}

	infoPlist, _ := os.ReadFile(filepath.Join(node.Path, "Info.plist"))
	codeResources, _ := os.ReadFile(filepath.Join(node.Path, "_CodeSignature", "CodeResources"))

	entitlements := opts.Entitlements
	if node != root {
		// Nested bundles (frameworks, xctest) sign with an empty
		// entitlements dict, matching Apple's own nested-code rules.
		entitlements = emptyEntitlementsPlist
	} else if entitlements == nil && opts.Profile != nil {
		xml, err := plistval.WriteXML(plistval.Dict(toValueMap(opts.Profile.Entitlements)))
		if err == nil {
			entitlements = xml
		}
	}

	bundleID := node.BundleID
	if bundleID == "" {
		bundleID = node.Executable
	}

	data, err := os.ReadFile(node.ExecutablePath())
	if err != nil {
		return signerr.New(signerr.IoFailure, "bundle.signNode", err)
	}

	signed, err := machosign.Sign(data, opts.Identity, machosign.SignContext{
		BundleID:      bundleID,
		Entitlements:  entitlements,
		InfoPlist:     infoPlist,
		CodeResources: codeResources,
	})
	if err != nil {
		return err
	}
	return os.WriteFile(node.ExecutablePath(), signed, 0755)
}

// signLooseDylib signs a standalone .dylib owned directly by node (not
// itself a bundle), using an empty Info.plist/CodeResources hash
// context since it carries neither.
func signLooseDylib(node *Node, relPath string, identity *signidentity.Identity) error {
	path := filepath.Join(node.Path, relPath)
	data, err := os.ReadFile(path)
	if err != nil {
		return signerr.New(signerr.IoFailure, "bundle.signLooseDylib", err)
	}
	signed, err := machosign.Sign(data, identity, machosign.SignContext{
		BundleID: strings.TrimSuffix(filepath.Base(relPath), filepath.Ext(relPath)),
	})
	if err != nil {
		return err
	}
	return os.WriteFile(path, signed, 0755)
}

func toValueMap(m map[string]interface{}) map[string]plistval.Value {
	v, err := plistval.FromInterface(m)
	if err != nil || v.Kind != plistval.KindDict {
		return map[string]plistval.Value{}
	}
	return v.Dict
}

var emptyEntitlementsPlist = []byte(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict/>
</plist>
`)
