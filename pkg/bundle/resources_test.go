package bundle

import (
	"strings"
	"testing"

	"github.com/penguicky/ArkSigning/pkg/plistval"
)

func TestBuildCodeResources(t *testing.T) {
	appPath := buildTestApp(t)
	writeFile(t, appPath+"/Resources/en.lproj/Localizable.strings", []byte("data"))
	writeFile(t, appPath+"/.DS_Store", []byte("junk"))

	root, err := Discover(appPath)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	data, err := BuildCodeResources(root)
	if err != nil {
		t.Fatalf("BuildCodeResources failed: %v", err)
	}

	decoded, err := plistval.DecodeDict(data)
	if err != nil {
		t.Fatalf("DecodeDict failed: %v", err)
	}

	files, ok := decoded.DictGet("files")
	if !ok || files.Kind != plistval.KindDict {
		t.Fatal("expected a files dict")
	}
	if _, ok := files.DictGet("MyApp"); ok {
		t.Error("the main executable must not appear in files")
	}
	if _, ok := files.DictGet("Info.plist"); !ok {
		t.Error("Info.plist must appear in files")
	}
	if _, ok := files.DictGet(".DS_Store"); ok {
		t.Error(".DS_Store must be omitted entirely")
	}

	localizedEntry, ok := files.DictGet("Resources/en.lproj/Localizable.strings")
	if !ok {
		t.Fatal("expected the lproj resource to appear in files")
	}
	if localizedEntry.Kind != plistval.KindDict {
		t.Fatal("lproj resources must carry an optional flag, not a bare hash")
	}
	optional, _ := localizedEntry.DictGet("optional")
	if optional.Kind != plistval.KindBool || !optional.Bool {
		t.Error("expected optional=true for an lproj resource")
	}

	files2, ok := decoded.DictGet("files2")
	if !ok || files2.Kind != plistval.KindDict {
		t.Fatal("expected a files2 dict")
	}
	if _, ok := files2.DictGet("Info.plist"); ok {
		t.Error("Info.plist must be excluded from files2")
	}
}

func TestBuildIncrementalCodeResourcesOnlyTouchesChangeSet(t *testing.T) {
	appPath := buildTestApp(t)
	writeFile(t, appPath+"/libextra.dylib", []byte("dylib-v1"))

	root, err := Discover(appPath)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	prior, err := BuildCodeResources(root)
	if err != nil {
		t.Fatalf("BuildCodeResources failed: %v", err)
	}
	priorDecoded, err := plistval.DecodeDict(prior)
	if err != nil {
		t.Fatalf("DecodeDict failed: %v", err)
	}
	priorFiles, _ := priorDecoded.DictGet("files")
	priorDylibEntry, ok := priorFiles.DictGet("libextra.dylib")
	if !ok {
		t.Fatal("expected libextra.dylib in the prior manifest")
	}
	priorInfoEntry, ok := priorFiles.DictGet("Info.plist")
	if !ok {
		t.Fatal("expected Info.plist in the prior manifest")
	}

	writeFile(t, appPath+"/libextra.dylib", []byte("dylib-v2-different-content"))
	root.ChangeSet = []string{"libextra.dylib"}

	rebuilt, err := BuildIncrementalCodeResources(root, prior)
	if err != nil {
		t.Fatalf("BuildIncrementalCodeResources failed: %v", err)
	}
	decoded, err := plistval.DecodeDict(rebuilt)
	if err != nil {
		t.Fatalf("DecodeDict failed: %v", err)
	}
	files, _ := decoded.DictGet("files")

	newDylibEntry, ok := files.DictGet("libextra.dylib")
	if !ok {
		t.Fatal("expected libextra.dylib to remain in the rebuilt manifest")
	}
	if string(newDylibEntry.Data) == string(priorDylibEntry.Data) {
		t.Error("expected libextra.dylib's hash to change after its content changed")
	}

	newInfoEntry, ok := files.DictGet("Info.plist")
	if !ok {
		t.Fatal("expected Info.plist to remain in the rebuilt manifest")
	}
	if string(newInfoEntry.Data) != string(priorInfoEntry.Data) {
		t.Error("Info.plist was outside the change set and should be untouched")
	}
}

func TestShouldOmitAndOptional(t *testing.T) {
	if !shouldOmit(".DS_Store") {
		t.Error("expected .DS_Store to be omitted")
	}
	if !shouldOmit("en.lproj/locversion.plist") {
		t.Error("expected locversion.plist to be omitted")
	}
	if !isOptional("en.lproj/Localizable.strings") {
		t.Error("expected an lproj resource to be optional")
	}
	if isOptional("Info.plist") {
		t.Error("Info.plist should not be optional")
	}
	if !strings.Contains("Resources/Info.plist", "Info.plist") {
		t.Fatal("sanity check failed")
	}
}
