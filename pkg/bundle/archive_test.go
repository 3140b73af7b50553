package bundle

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"
)

func buildTestIPA(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	ipaPath := filepath.Join(dir, "MyApp.ipa")

	out, err := os.Create(ipaPath)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	w := zip.NewWriter(out)
	entries := map[string]string{
		"Payload/MyApp.app/Info.plist": sprintfPlist("com.example.MyApp", "MyApp"),
		"Payload/MyApp.app/MyApp":      "stub-executable",
	}
	for name, content := range entries {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("Create entry failed: %v", err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatalf("Write entry failed: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("zip Close failed: %v", err)
	}
	out.Close()
	return ipaPath
}

func TestExtractAndFindAppBundle(t *testing.T) {
	ipaPath := buildTestIPA(t)

	extractedDir, err := ExtractIPA(ipaPath)
	if err != nil {
		t.Fatalf("ExtractIPA failed: %v", err)
	}
	defer os.RemoveAll(extractedDir)

	appPath, err := FindAppBundle(extractedDir)
	if err != nil {
		t.Fatalf("FindAppBundle failed: %v", err)
	}
	if filepath.Base(appPath) != "MyApp.app" {
		t.Fatalf("appPath = %q, want basename MyApp.app", appPath)
	}
	if _, err := os.Stat(filepath.Join(appPath, "Info.plist")); err != nil {
		t.Fatalf("expected Info.plist to be extracted: %v", err)
	}
}

func TestRepackageIPARoundTrip(t *testing.T) {
	ipaPath := buildTestIPA(t)
	extractedDir, err := ExtractIPA(ipaPath)
	if err != nil {
		t.Fatalf("ExtractIPA failed: %v", err)
	}
	defer os.RemoveAll(extractedDir)

	outPath := filepath.Join(t.TempDir(), "out.ipa")
	if err := RepackageIPA(extractedDir, outPath); err != nil {
		t.Fatalf("RepackageIPA failed: %v", err)
	}

	r, err := zip.OpenReader(outPath)
	if err != nil {
		t.Fatalf("OpenReader failed: %v", err)
	}
	defer r.Close()

	found := false
	for _, f := range r.File {
		if f.Name == "Payload/MyApp.app/Info.plist" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected repackaged ipa to contain Payload/MyApp.app/Info.plist")
	}
}

func TestIsZipArchive(t *testing.T) {
	ipaPath := buildTestIPA(t)
	if !IsZipArchive(ipaPath) {
		t.Error("expected a real zip/ipa file to be detected by its signature")
	}

	plainPath := filepath.Join(t.TempDir(), "notzip.app")
	if err := os.WriteFile(plainPath, []byte("not a zip file"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if IsZipArchive(plainPath) {
		t.Error("expected a non-zip file to not be detected as a zip archive")
	}
}

func TestCopyAppBundle(t *testing.T) {
	appPath := buildTestApp(t)
	dst := filepath.Join(t.TempDir(), "Copied.app")

	if err := CopyAppBundle(appPath, dst); err != nil {
		t.Fatalf("CopyAppBundle failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dst, "Info.plist")); err != nil {
		t.Fatalf("expected Info.plist to be copied: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dst, "Frameworks", "Shared.framework", "Shared")); err != nil {
		t.Fatalf("expected nested framework executable to be copied: %v", err)
	}
}
