// ArkSigning resigns iOS .ipa files and .app bundles with a new
// signing identity and provisioning profile, in-place or as batch jobs
// across a whole folder.
package main

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/docopt/docopt-go"

	"github.com/penguicky/ArkSigning/pkg/bundle"
	"github.com/penguicky/ArkSigning/pkg/batch"
	"github.com/penguicky/ArkSigning/pkg/signerr"
	"github.com/penguicky/ArkSigning/pkg/signidentity"
)

const version = "1.0.0"

const usage = `arksigning - iOS app code signing engine

Usage:
  arksigning [-k <path>] [-c <path>] [-m <path>] [-p <password>] [-e <path>] [-b <id>] [-n <name>] [-r <version>] [-l <dylib>]... [-w] [-f] [-E] [-o <path>] [-z <level>] <app>
  arksigning -B --inputfolder=<dir> --outputfolder=<dir> [--parallel=<n>] [-k <path>] [-c <path>] [-m <path>] [-p <password>] [-e <path>]
  arksigning -h | --help
  arksigning --version

Options:
  -k <path>             Private key or PKCS12 path (or ARKSIGNING_KEY env var)
  -c <path>             Certificate path (or ARKSIGNING_CERT env var)
  -m <path>             Provisioning profile path (or ARKSIGNING_PROFILE env var)
  -p <password>         Key/PKCS12 password (or ARKSIGNING_PASSWORD env var)
  -e <path>             Entitlements plist path (else derived from the profile)
  -b <id>               Override the bundle identifier
  -n <name>             Override the bundle display name (reserved)
  -r <version>          Override the bundle version (reserved)
  -l <dylib>            Inject a dylib load command (repeatable)
  -w                    Injected dylibs are weak-linked
  -f                    Force a full resign, ignoring any cache entry
  -E                    Do not embed the provisioning profile
  -o <path>             Output .ipa path (defaults alongside the input)
  -z <level>            Output .ipa deflate level 0-9 (reserved; the .ipa is always written at the default deflate level) [default: 6]
  -B                    Batch mode: sign every .ipa/.app under --inputfolder
  --inputfolder=<dir>   Batch mode input directory
  --outputfolder=<dir>  Batch mode output directory
  --parallel=<n>        Batch mode worker count [default: 4]
  -h --help             Show this help message
  --version             Show version
`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error parsing arguments: %v\n", err)
		os.Exit(-1)
	}

	isBatch, _ := opts.Bool("-B")
	var runErr error
	if isBatch {
		runErr = runBatch(opts)
	} else {
		runErr = runSingle(opts)
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "failed: %v\n", runErr)
		os.Exit(-1)
	}
}

func stringOpt(opts docopt.Opts, key string) string {
	v, err := opts.String(key)
	if err != nil {
		return ""
	}
	return v
}

// stringListOpt reads a repeatable docopt option, which the parser
// accumulates as a []string rather than exposing through a typed
// accessor.
func stringListOpt(opts docopt.Opts, key string) []string {
	v, ok := opts[key]
	if !ok || v == nil {
		return nil
	}
	if list, ok := v.([]string); ok {
		return list
	}
	return nil
}

func envFallback(flag, envVar string) string {
	if flag != "" {
		return flag
	}
	return os.Getenv(envVar)
}

// loadIdentity wires together -k/-c/-m/-p into a *signidentity.Identity,
// completing the certificate from the profile when -k supplies only a
// bare private key.
func loadIdentity(opts docopt.Opts) (*signidentity.Identity, *signidentity.Profile, error) {
	keyPath := envFallback(stringOpt(opts, "-k"), "ARKSIGNING_KEY")
	certPath := envFallback(stringOpt(opts, "-c"), "ARKSIGNING_CERT")
	profilePath := envFallback(stringOpt(opts, "-m"), "ARKSIGNING_PROFILE")
	password := envFallback(stringOpt(opts, "-p"), "ARKSIGNING_PASSWORD")

	if keyPath == "" {
		return nil, nil, signerr.New(signerr.InvalidInput, "main.loadIdentity", fmt.Errorf("-k is required (or set ARKSIGNING_KEY)"))
	}
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, nil, signerr.New(signerr.IoFailure, "main.loadIdentity", err)
	}
	id, err := signidentity.Load(keyData, password)
	if err != nil {
		return nil, nil, err
	}

	if certPath != "" {
		certData, err := os.ReadFile(certPath)
		if err != nil {
			return nil, nil, signerr.New(signerr.IoFailure, "main.loadIdentity", err)
		}
		cert, err := parseCertificateFile(certData)
		if err != nil {
			return nil, nil, err
		}
		id.Certificate = cert
		id.Chain = []*x509.Certificate{cert}
	}

	var profile *signidentity.Profile
	if profilePath != "" {
		profileData, err := os.ReadFile(profilePath)
		if err != nil {
			return nil, nil, signerr.New(signerr.IoFailure, "main.loadIdentity", err)
		}
		profile, err = signidentity.ParseProfile(profileData)
		if err != nil {
			return nil, nil, err
		}
	}

	if id.Certificate == nil && profile != nil {
		if err := signidentity.CompleteFromProfile(id, profile); err != nil {
			return nil, nil, err
		}
	}
	if id.Certificate == nil {
		return nil, nil, signerr.New(signerr.InvalidIdentity, "main.loadIdentity", fmt.Errorf("no certificate available from -c or -m"))
	}
	return id, profile, nil
}

func parseCertificateFile(data []byte) (*x509.Certificate, error) {
	if block, _ := pem.Decode(data); block != nil {
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, signerr.New(signerr.InvalidIdentity, "main.parseCertificateFile", err)
		}
		return cert, nil
	}
	cert, err := x509.ParseCertificate(data)
	if err != nil {
		return nil, signerr.New(signerr.InvalidIdentity, "main.parseCertificateFile", err)
	}
	return cert, nil
}

func buildSignOptions(opts docopt.Opts, identity *signidentity.Identity, profile *signidentity.Profile) (bundle.Options, error) {
	entPath := stringOpt(opts, "-e")
	var entitlements []byte
	if entPath != "" {
		data, err := os.ReadFile(entPath)
		if err != nil {
			return bundle.Options{}, signerr.New(signerr.IoFailure, "main.buildSignOptions", err)
		}
		entitlements = data
	}

	dylibs := stringListOpt(opts, "-l")
	weak, _ := opts.Bool("-w")
	force, _ := opts.Bool("-f")
	noEmbed, _ := opts.Bool("-E")

	var profileData []byte
	if !noEmbed {
		profilePath := envFallback(stringOpt(opts, "-m"), "ARKSIGNING_PROFILE")
		if profilePath != "" {
			data, err := os.ReadFile(profilePath)
			if err != nil {
				return bundle.Options{}, signerr.New(signerr.IoFailure, "main.buildSignOptions", err)
			}
			profileData = data
		}
	}

	return bundle.Options{
		Identity:       identity,
		Profile:        profile,
		Entitlements:   entitlements,
		NewBundleID:    stringOpt(opts, "-b"),
		DylibsToInject: dylibs,
		WeakInject:     weak,
		ProfileData:    profileData,
		NoEmbedProfile: noEmbed,
		Force:          force,
		Progress: func(path, stage string) {
			if stage == "signed" {
				fmt.Printf("signed %s\n", path)
			}
		},
	}, nil
}

func runSingle(opts docopt.Opts) error {
	inputPath := stringOpt(opts, "<app>")
	identity, profile, err := loadIdentity(opts)
	if err != nil {
		return err
	}
	signOpts, err := buildSignOptions(opts, identity, profile)
	if err != nil {
		return err
	}

	isIPA := strings.EqualFold(filepath.Ext(inputPath), ".ipa")
	appPath := inputPath
	var extractedDir string
	if isIPA {
		extractedDir, err = bundle.ExtractIPA(inputPath)
		if err != nil {
			return err
		}
		defer os.RemoveAll(extractedDir)
		appPath, err = bundle.FindAppBundle(extractedDir)
		if err != nil {
			return err
		}
	}

	if err := bundle.SignApp(appPath, signOpts); err != nil {
		return err
	}

	if !isIPA {
		fmt.Printf("done %s -> %s\n", inputPath, appPath)
		return nil
	}

	outputPath := stringOpt(opts, "-o")
	if outputPath == "" {
		outputPath = strings.TrimSuffix(inputPath, filepath.Ext(inputPath)) + "-signed.ipa"
	}
	if err := bundle.RepackageIPA(extractedDir, outputPath); err != nil {
		return err
	}
	fmt.Printf("done %s -> %s\n", inputPath, outputPath)
	return nil
}

func runBatch(opts docopt.Opts) error {
	inputFolder := stringOpt(opts, "--inputfolder")
	outputFolder := stringOpt(opts, "--outputfolder")
	if inputFolder == "" || outputFolder == "" {
		return signerr.New(signerr.InvalidInput, "main.runBatch", fmt.Errorf("--inputfolder and --outputfolder are required in batch mode"))
	}
	if err := os.MkdirAll(outputFolder, 0755); err != nil {
		return signerr.New(signerr.IoFailure, "main.runBatch", err)
	}

	identity, profile, err := loadIdentity(opts)
	if err != nil {
		return err
	}
	signOpts, err := buildSignOptions(opts, identity, profile)
	if err != nil {
		return err
	}

	parallelism := 4
	if n := stringOpt(opts, "--parallel"); n != "" {
		if v, err := strconv.Atoi(n); err == nil && v > 0 {
			parallelism = v
		}
	}

	entries, err := os.ReadDir(inputFolder)
	if err != nil {
		return signerr.New(signerr.IoFailure, "main.runBatch", err)
	}

	var tasks []batch.Task
	for _, e := range entries {
		name := e.Name()
		inputPath := filepath.Join(inputFolder, name)
		isApp := strings.EqualFold(filepath.Ext(name), ".app") && e.IsDir()
		isZip := !e.IsDir() && bundle.IsZipArchive(inputPath)
		if !isZip && !isApp {
			continue
		}
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		outputName := stem + "_signed.ipa"
		if isApp {
			outputName = stem + "_signed.app"
		}
		tasks = append(tasks, batch.Task{
			InputPath:  inputPath,
			OutputPath: filepath.Join(outputFolder, outputName),
			IsZip:      isZip,
		})
	}

	results := batch.Run(tasks, parallelism, func(t batch.Task) error {
		return signBatchTask(t, signOpts)
	}, func(ev batch.Event) {
		switch ev.Stage {
		case batch.StageDone:
			fmt.Printf("done %s -> %s\n", ev.Task.InputPath, ev.Task.OutputPath)
		case batch.StageFailed:
			fmt.Fprintf(os.Stderr, "failed %s: %v\n", ev.Task.InputPath, ev.Err)
		}
	})

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return signerr.New(signerr.MachOMalformed, "main.runBatch", fmt.Errorf("%d of %d tasks failed", failed, len(tasks)))
	}
	return nil
}

func signBatchTask(t batch.Task, opts bundle.Options) error {
	appPath := t.InputPath
	if t.IsZip {
		extractedDir, err := bundle.ExtractIPA(t.InputPath)
		if err != nil {
			return err
		}
		defer os.RemoveAll(extractedDir)
		appPath, err = bundle.FindAppBundle(extractedDir)
		if err != nil {
			return err
		}
		if err := bundle.SignApp(appPath, opts); err != nil {
			return err
		}
		return bundle.RepackageIPA(extractedDir, t.OutputPath)
	}

	if err := bundle.CopyAppBundle(t.InputPath, t.OutputPath); err != nil {
		return err
	}
	return bundle.SignApp(t.OutputPath, opts)
}
