package bundle

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPlaceAndRemoveProvisioningProfile(t *testing.T) {
	appPath := t.TempDir()
	profilePath := filepath.Join(appPath, "embedded.mobileprovision")

	if err := PlaceProvisioningProfile(appPath, []byte("profile-bytes")); err != nil {
		t.Fatalf("PlaceProvisioningProfile failed: %v", err)
	}
	if _, err := os.Stat(profilePath); err != nil {
		t.Fatalf("expected embedded.mobileprovision to exist: %v", err)
	}

	if err := RemoveProvisioningProfile(appPath); err != nil {
		t.Fatalf("RemoveProvisioningProfile failed: %v", err)
	}
	if _, err := os.Stat(profilePath); !os.IsNotExist(err) {
		t.Fatalf("expected embedded.mobileprovision to be removed, stat err = %v", err)
	}
}

func TestRemoveProvisioningProfileToleratesAbsence(t *testing.T) {
	appPath := t.TempDir()
	if err := RemoveProvisioningProfile(appPath); err != nil {
		t.Fatalf("expected no error when no profile is present, got %v", err)
	}
}
