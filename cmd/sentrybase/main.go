/*
Copyright 2013 The Sentrybase Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command sentrybase demonstrates wiring the library together: parse
// a policy file, open a hierarchical database, and run either a
// baseline generation or an integrity check against the live
// filesystem. It is not a command-line tool in its own right (no flag
// parsing framework is introduced); it exists to show a driver how
// the packages compose rather than standing on its own as a finished
// product.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"go4.org/jsonconfig"

	"sentrybase.org/pkg/cryptoapi"
	"sentrybase.org/pkg/db"
	"sentrybase.org/pkg/errbucket"
	"sentrybase.org/pkg/genre"
	"sentrybase.org/pkg/hostfs"
	"sentrybase.org/pkg/osutil"
	"sentrybase.org/pkg/pgpsign"
	"sentrybase.org/pkg/pipeline"
	"sentrybase.org/pkg/policy"
	"sentrybase.org/pkg/propcalc"
	"sentrybase.org/pkg/report"
	"sentrybase.org/pkg/sorted"

	"sentrybase.org/pkg/datasource"
	_ "sentrybase.org/pkg/sorted/leveldb"
)

var (
	flagVerbose   = flag.Bool("verbose", false, "log per-rule progress")
	flagPolicy    = flag.String("policy", "", "path to a policy file (the new policy, in -mode update); defaults to the per-user config location")
	flagOldPolicy = flag.String("oldpolicy", "", "path to the policy the database was last built against (-mode update only)")
	flagDBFile    = flag.String("db", "", "leveldb storage file for the hierarchical database; defaults to the per-user var location")
	flagMode      = flag.String("mode", "check", `one of "baseline", "check", or "update"`)
	flagSecure    = flag.Bool("secure", false, "treat every discrepancy as fatal (-mode update only)")
	flagStrict    = flag.Bool("strict", false, "compare only properties valid on both sides (-mode check only)")
	flagLooseDir  = flag.Bool("loosedir", false, "ignore directory properties that churn when children change")

	flagPubKeyFile     = flag.String("pubkeyfile", "", "armored OpenPGP public key to verify signed policy/report envelopes against (unset skips verification)")
	flagSignKeyFile    = flag.String("signkeyfile", "", "armored OpenPGP secret key to sign the persisted report with (unset writes an unsigned report envelope)")
	flagSignPassphrase = flag.String("signpassphrase", "", "passphrase for -signkeyfile, if its private key is encrypted")
	flagSignKeyID      = flag.String("signkeyid", "", "key id to select within -signkeyfile, if it holds more than one private key")
	flagReportFile     = flag.String("report", "", "path to persist the run's report as a signed envelope (unset prints a summary to stdout only)")
)

func vlogf(format string, args ...interface{}) {
	if *flagVerbose {
		log.Printf(format, args...)
	}
}

func main() {
	flag.Parse()
	if *flagPolicy == "" {
		*flagPolicy = osutil.DefaultPolicyPath()
	}
	if *flagDBFile == "" {
		*flagDBFile = osutil.DefaultDatabasePath()
	}
	if err := run(); err != nil {
		log.Fatalf("sentrybase: %v", err)
	}
}

func run() error {
	bundle := genre.FS()

	_, errs := errbucket.NewRecorder()
	errs.Push(func(e *errbucket.Error) bool {
		vlogf("policy: %s: %s", e.Kind, e.Message)
		return false
	})

	verifier, err := loadVerifier()
	if err != nil {
		return err
	}

	specList, err := loadPolicy(*flagPolicy, bundle, errs, verifier)
	if err != nil {
		return err
	}

	signer, handle, err := loadSigner()
	if err != nil {
		return err
	}

	kv, err := openStorage(*flagDBFile)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	database, err := db.Open(kv, bundle)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	fs := hostfs.OS{}
	calc := propcalc.New(fs, bundle, propcalc.WithErrorBucket(errs))

	switch *flagMode {
	case "baseline":
		return runBaseline(specList, bundle, fs, calc, database, errs)
	case "check":
		return runCheck(specList, bundle, fs, calc, database, errs, signer, handle)
	case "update":
		if *flagOldPolicy == "" {
			return fmt.Errorf("-mode update requires -oldpolicy")
		}
		oldSpecList, err := loadPolicy(*flagOldPolicy, bundle, errs, verifier)
		if err != nil {
			return err
		}
		return runUpdate(oldSpecList, specList, bundle, fs, calc, database, errs, signer, handle)
	default:
		return fmt.Errorf("unknown -mode %q", *flagMode)
	}
}

// loadVerifier builds the verifier used to check a signed policy or
// report envelope, from -pubkeyfile. A nil return (with nil error)
// means envelopes are read without signature verification.
func loadVerifier() (cryptoapi.Verifier, error) {
	if *flagPubKeyFile == "" {
		return nil, nil
	}
	f, err := os.Open(*flagPubKeyFile)
	if err != nil {
		return nil, fmt.Errorf("opening -pubkeyfile: %w", err)
	}
	defer f.Close()
	pub, err := pgpsign.LoadArmoredPublicKey(f)
	if err != nil {
		return nil, fmt.Errorf("loading -pubkeyfile: %w", err)
	}
	return pgpsign.NewVerifier(pub), nil
}

// loadSigner builds the signer (and key handle) used to sign a
// persisted report, from -signkeyfile. A nil signer means the report
// is persisted as an unsigned envelope.
func loadSigner() (cryptoapi.Signer, cryptoapi.KeyHandle, error) {
	if *flagSignKeyFile == "" {
		return nil, nil, nil
	}
	f, err := os.Open(*flagSignKeyFile)
	if err != nil {
		return nil, nil, fmt.Errorf("opening -signkeyfile: %w", err)
	}
	defer f.Close()
	kp, err := pgpsign.KeyPairFromArmoredSecretKey(f, *flagSignKeyID, *flagSignPassphrase)
	if err != nil {
		return nil, nil, fmt.Errorf("loading -signkeyfile: %w", err)
	}
	return pgpsign.Signer{}, kp, nil
}

// loadPolicy reads one policy file through its signed envelope (per
// pkg/policy's ReadEnvelope) and parses the recovered
// source text into its "fs" section's spec list, the shape every mode
// needs (twice, for -mode update).
func loadPolicy(path string, bundle *genre.Bundle, errs *errbucket.Bucket, verifier cryptoapi.Verifier) (*policy.SpecList, error) {
	resolved, err := osutil.FindInclude(path)
	if err != nil {
		return nil, fmt.Errorf("resolving policy file %s: %w", path, err)
	}
	f, err := os.Open(resolved)
	if err != nil {
		return nil, fmt.Errorf("opening policy file: %w", err)
	}
	defer f.Close()
	src, err := policy.ReadEnvelope(f, verifier)
	if err != nil {
		return nil, fmt.Errorf("reading policy envelope %s: %w", path, err)
	}
	parser := policy.NewParser(policy.Options{
		Bundles:      map[string]*genre.Bundle{"fs": bundle},
		HostIdentity: hostIdentity(),
		Notify:       func(msg string) { vlogf("#echo: %s", msg) },
		ErrBucket:    errs,
		Mode:         policy.Execute,
	})
	result, err := parser.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parsing policy %s: %w", path, err)
	}
	specList, ok := result.Specs["fs"]
	if !ok {
		return nil, fmt.Errorf("policy file %s has no #section fs", path)
	}
	if err := specList.Validate(); err != nil {
		return nil, fmt.Errorf("validating policy %s: %w", path, err)
	}
	return specList, nil
}

// persistReport prints rpt's summary and, when -report names a file,
// additionally persists it as a signed envelope (per
// pkg/report.WriteEnvelope).
func persistReport(rpt *report.Report, signer cryptoapi.Signer, handle cryptoapi.KeyHandle) error {
	fmt.Print(rpt.Summary())
	if *flagReportFile == "" {
		return nil
	}
	f, err := os.Create(*flagReportFile)
	if err != nil {
		return fmt.Errorf("creating -report file: %w", err)
	}
	defer f.Close()
	if err := report.WriteEnvelope(f, rpt, signer, handle); err != nil {
		return fmt.Errorf("writing report envelope: %w", err)
	}
	return nil
}

// openStorage configures the goleveldb-backed KeyValue the same way
// pkg/sorted/leveldb configures it for its own callers: a
// jsonconfig.Obj validated against unconsumed keys, routed through
// sorted.NewKeyValue's type registry.
func openStorage(file string) (sorted.KeyValue, error) {
	return sorted.NewKeyValue(jsonconfig.Obj{
		"type": "leveldb",
		"file": file,
	})
}

func hostIdentity() string {
	h, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return h
}

func runBaseline(specList *policy.SpecList, bundle *genre.Bundle, fs hostfs.FS, calc *propcalc.Calculator, database *db.Database, errs *errbucket.Bucket) error {
	baseliner := pipeline.NewBaseliner(calc, errs, 0)
	newIter := func() datasource.Iterator {
		return datasource.NewFSIterator(fs, bundle, 0)
	}
	if err := baseliner.Generate(context.Background(), specList, newIter, database); err != nil {
		return fmt.Errorf("generating baseline: %w", err)
	}
	vlogf("baseline generation complete")
	return nil
}

func runCheck(specList *policy.SpecList, bundle *genre.Bundle, fs hostfs.FS, calc *propcalc.Calculator, database *db.Database, errs *errbucket.Bucket, signer cryptoapi.Signer, handle cryptoapi.KeyHandle) error {
	var flags pipeline.Flags
	if *flagStrict {
		flags |= pipeline.CompareValidPropsOnly
	}
	checker := pipeline.NewChecker(pipeline.CheckOptions{
		Bundle:         bundle,
		Calc:           calc,
		Flags:          flags,
		LooseDirectory: *flagLooseDir,
	}, errs)
	fsIter := datasource.NewFSIterator(fs, bundle, 0)
	rpt := checker.Run(specList, database, fsIter)
	if err := persistReport(rpt, signer, handle); err != nil {
		return err
	}
	if rpt.HasFatalErrors() {
		return fmt.Errorf("integrity check reported fatal errors")
	}
	return nil
}

func runUpdate(oldSpecList, newSpecList *policy.SpecList, bundle *genre.Bundle, fs hostfs.FS, calc *propcalc.Calculator, database *db.Database, errs *errbucket.Bucket, signer cryptoapi.Signer, handle cryptoapi.KeyHandle) error {
	updater := pipeline.NewPolicyUpdater(pipeline.PolicyUpdateOptions{
		Bundle:         bundle,
		Calc:           calc,
		Secure:         *flagSecure,
		LooseDirectory: *flagLooseDir,
	}, errs)
	fsIter := datasource.NewFSIterator(fs, bundle, 0)
	rpt, err := updater.Run(oldSpecList, newSpecList, database, fsIter)
	if rpt != nil {
		if perr := persistReport(rpt, signer, handle); perr != nil {
			return perr
		}
	}
	if err != nil {
		return fmt.Errorf("policy update: %w", err)
	}
	return nil
}
