package bundle

import (
	"os"
	"path/filepath"

	"github.com/penguicky/ArkSigning/pkg/signerr"
)

// PlaceProvisioningProfile writes profileData as appPath's
// embedded.mobileprovision, overwriting any existing one. Apple only
// ever looks for this file at the root of the app bundle, never in a
// nested one.
func PlaceProvisioningProfile(appPath string, profileData []byte) error {
	dst := filepath.Join(appPath, "embedded.mobileprovision")
	if err := os.WriteFile(dst, profileData, 0644); err != nil {
		return signerr.New(signerr.IoFailure, "bundle.PlaceProvisioningProfile", err)
	}
	return nil
}

// RemoveProvisioningProfile deletes appPath's embedded.mobileprovision
// if present, tolerating its absence. Used when the caller asked not to
// embed a profile but the input already carried one.
func RemoveProvisioningProfile(appPath string) error {
	dst := filepath.Join(appPath, "embedded.mobileprovision")
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return signerr.New(signerr.IoFailure, "bundle.RemoveProvisioningProfile", err)
	}
	return nil
}
