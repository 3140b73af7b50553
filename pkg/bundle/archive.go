package bundle

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/penguicky/ArkSigning/pkg/signerr"
)

// ExtractIPA unzips an .ipa into a fresh temp directory and returns
// its path. Uses archive/zip directly rather than shelling out to
// unzip(1).
func ExtractIPA(ipaPath string) (string, error) {
	tempDir, err := os.MkdirTemp("", "arksigning-*")
	if err != nil {
		return "", signerr.New(signerr.IoFailure, "bundle.ExtractIPA", err)
	}

	r, err := zip.OpenReader(ipaPath)
	if err != nil {
		os.RemoveAll(tempDir)
		return "", signerr.New(signerr.InvalidInput, "bundle.ExtractIPA", fmt.Errorf("open ipa: %w", err))
	}
	defer r.Close()

	for _, f := range r.File {
		if err := extractZipEntry(f, tempDir); err != nil {
			os.RemoveAll(tempDir)
			return "", signerr.New(signerr.IoFailure, "bundle.ExtractIPA", fmt.Errorf("extract %s: %w", f.Name, err))
		}
	}
	return tempDir, nil
}

func extractZipEntry(f *zip.File, destDir string) error {
	destPath := filepath.Join(destDir, f.Name)
	if !strings.HasPrefix(destPath, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return fmt.Errorf("zip entry escapes destination: %s", f.Name)
	}
	if f.FileInfo().IsDir() {
		return os.MkdirAll(destPath, f.Mode())
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return err
	}
	dst, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
	if err != nil {
		return err
	}
	defer dst.Close()
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()
	_, err = io.Copy(dst, src)
	return err
}

// zipSignature is the local-file-header magic every zip (and
// therefore every .ipa) archive starts with.
var zipSignature = []byte{'P', 'K', 0x03, 0x04}

// IsZipArchive reports whether path begins with the zip local-file-
// header signature, regardless of its extension.
func IsZipArchive(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	buf := make([]byte, len(zipSignature))
	if _, err := io.ReadFull(f, buf); err != nil {
		return false
	}
	return string(buf) == string(zipSignature)
}

// FindAppBundle locates the single .app directory under
// extractedDir/Payload.
func FindAppBundle(extractedDir string) (string, error) {
	payloadDir := filepath.Join(extractedDir, "Payload")
	entries, err := os.ReadDir(payloadDir)
	if err != nil {
		return "", signerr.New(signerr.BundleMalformed, "bundle.FindAppBundle", err)
	}
	for _, e := range entries {
		if e.IsDir() && strings.HasSuffix(e.Name(), ".app") {
			return filepath.Join(payloadDir, e.Name()), nil
		}
	}
	return "", signerr.New(signerr.BundleMalformed, "bundle.FindAppBundle", fmt.Errorf("no .app bundle found under Payload/"))
}

// RepackageIPA zips extractedDir back into an .ipa at outputPath.
func RepackageIPA(extractedDir, outputPath string) error {
	out, err := os.Create(outputPath)
	if err != nil {
		return signerr.New(signerr.IoFailure, "bundle.RepackageIPA", err)
	}
	defer out.Close()

	w := zip.NewWriter(out)
	defer w.Close()

	return filepath.Walk(extractedDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == extractedDir {
			return nil
		}
		relPath, err := filepath.Rel(extractedDir, path)
		if err != nil {
			return err
		}
		zipPath := strings.ReplaceAll(relPath, string(os.PathSeparator), "/")

		if info.IsDir() {
			_, err := w.Create(zipPath + "/")
			return err
		}

		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = zipPath
		header.Method = zip.Deflate

		writer, err := w.CreateHeader(header)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(writer, f)
		return err
	})
}

// CopyAppBundle recursively copies an .app directory, used when
// output and input locations differ and the original must not be
// mutated in place.
func CopyAppBundle(src, dst string) error {
	if err := os.RemoveAll(dst); err != nil && !os.IsNotExist(err) {
		return signerr.New(signerr.IoFailure, "bundle.CopyAppBundle", err)
	}
	if err := os.MkdirAll(dst, 0755); err != nil {
		return signerr.New(signerr.IoFailure, "bundle.CopyAppBundle", err)
	}
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		relPath, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if relPath == "." {
			return nil
		}
		dstPath := filepath.Join(dst, relPath)
		if info.IsDir() {
			return os.MkdirAll(dstPath, info.Mode())
		}
		return copyFile(path, dstPath, info.Mode())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	s, err := os.Open(src)
	if err != nil {
		return err
	}
	defer s.Close()
	d, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer d.Close()
	_, err = io.Copy(d, s)
	return err
}
