package bundle

import (
	"testing"
)

func TestCacheSaveAndLoadEntry(t *testing.T) {
	cacheDir := t.TempDir()
	appPath := "/var/tmp/MyApp.app"

	entry := &CacheEntry{
		AppPath:  appPath,
		TeamID:   "ABCDE12345",
		SignedAt: "2026-08-03T00:00:00Z",
		Root: CacheNode{
			Path:       appPath,
			BundleID:   "com.example.MyApp",
			Executable: "MyApp",
		},
	}

	if err := SaveCacheEntry(cacheDir, appPath, entry); err != nil {
		t.Fatalf("SaveCacheEntry failed: %v", err)
	}

	loaded, err := LoadCacheEntry(cacheDir, appPath)
	if err != nil {
		t.Fatalf("LoadCacheEntry failed: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected a cache entry to be loaded")
	}
	if loaded.TeamID != "ABCDE12345" {
		t.Errorf("TeamID = %q, want ABCDE12345", loaded.TeamID)
	}
	if loaded.Root.BundleID != "com.example.MyApp" {
		t.Errorf("Root.BundleID = %q, want com.example.MyApp", loaded.Root.BundleID)
	}
}

func TestCacheLoadMissingEntry(t *testing.T) {
	cacheDir := t.TempDir()
	loaded, err := LoadCacheEntry(cacheDir, "/does/not/exist.app")
	if err != nil {
		t.Fatalf("expected no error for a missing entry, got %v", err)
	}
	if loaded != nil {
		t.Fatal("expected nil for a missing cache entry")
	}
}

func TestBuildCacheNode(t *testing.T) {
	appPath := buildTestApp(t)
	root, err := Discover(appPath)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	node := BuildCacheNode(root)
	if node.BundleID != "com.example.MyApp" {
		t.Errorf("BundleID = %q", node.BundleID)
	}
	if node.InfoPlistSHA1 == "" || node.InfoPlistSHA256 == "" {
		t.Error("expected BuildCacheNode to copy the Info.plist digests")
	}
	if len(node.Children) != 1 {
		t.Fatalf("expected 1 child, got %d", len(node.Children))
	}
}
