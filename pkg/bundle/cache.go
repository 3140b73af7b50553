package bundle

import (
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/penguicky/ArkSigning/pkg/hashutil"
	"github.com/penguicky/ArkSigning/pkg/signerr"
)

const cacheDirName = ".arksigning_cache"

// CacheNode mirrors a Node's identity fields and Info.plist digests,
// with its nested bundles as Children. The change-set is not stored;
// it is recomputed on each run.
type CacheNode struct {
	Path           string      `json:"path"`
	BundleID       string      `json:"bundle_id"`
	BundleVersion  string      `json:"bundle_version,omitempty"`
	Executable     string      `json:"executable"`
	InfoPlistSHA1  string      `json:"info_plist_sha1,omitempty"`
	InfoPlistSHA256 string     `json:"info_plist_sha256,omitempty"`
	Children       []CacheNode `json:"children,omitempty"`
}

// CacheEntry is the JSON-serialized Bundle Node tree keyed by
// sha1-hex(appFolderAbsolutePath). Created on a successful sign,
// invalidated by --force or a missing prior entry, either of which
// forces a full rebuild.
type CacheEntry struct {
	AppPath  string    `json:"app_path"`
	TeamID   string    `json:"team_id"`
	SignedAt string    `json:"signed_at"`
	Root     CacheNode `json:"root"`
}

func cacheKey(appPath string) string {
	abs, err := filepath.Abs(appPath)
	if err != nil {
		abs = appPath
	}
	return hex.EncodeToString(hashutil.SHA1([]byte(abs)))
}

func cachePath(cacheDir, appPath string) string {
	return filepath.Join(cacheDir, cacheKey(appPath)+".json")
}

// DefaultCacheDir returns ./.arksigning_cache relative to the current
// working directory, creating it if absent.
func DefaultCacheDir() (string, error) {
	if err := os.MkdirAll(cacheDirName, 0755); err != nil {
		return "", signerr.New(signerr.IoFailure, "bundle.DefaultCacheDir", err)
	}
	return cacheDirName, nil
}

// BuildCacheNode converts a discovered Node tree into its cache
// representation.
func BuildCacheNode(n *Node) CacheNode {
	cn := CacheNode{
		Path:            n.Path,
		BundleID:        n.BundleID,
		BundleVersion:   n.BundleVersion,
		Executable:      n.Executable,
		InfoPlistSHA1:   n.InfoPlistSHA1,
		InfoPlistSHA256: n.InfoPlistSHA256,
	}
	for _, child := range n.Children {
		cn.Children = append(cn.Children, BuildCacheNode(child))
	}
	return cn
}

// LoadCacheEntry reads the cache entry for appPath, returning
// (nil, nil) if none exists yet.
func LoadCacheEntry(cacheDir, appPath string) (*CacheEntry, error) {
	data, err := os.ReadFile(cachePath(cacheDir, appPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, signerr.New(signerr.IoFailure, "bundle.LoadCacheEntry", err)
	}
	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, signerr.New(signerr.IoFailure, "bundle.LoadCacheEntry", err)
	}
	return &entry, nil
}

// SaveCacheEntry writes entry for appPath, overwriting any prior
// record.
func SaveCacheEntry(cacheDir, appPath string, entry *CacheEntry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return signerr.New(signerr.IoFailure, "bundle.SaveCacheEntry", err)
	}
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return signerr.New(signerr.IoFailure, "bundle.SaveCacheEntry", err)
	}
	return os.WriteFile(cachePath(cacheDir, appPath), data, 0644)
}
