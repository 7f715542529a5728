/*
rompatch applies and creates ROM patches in the IPS, UPS and BPS formats.

Usage:

	rompatch patch <rom> <patch> [flags]
	rompatch create <original> <modified> [-format=ips|ups|bps]

The patch subcommand applies <patch> to <rom> and writes the result next to
<patch>, named after <patch>'s base name and <rom>'s extension. The create subcommand
diffs <original> against <modified> and writes a patch file next to
<modified>, named after <modified>'s base name and the chosen format's
extension.

Patch Flags:

-validate-checksum
    verify the patch's source/target checksums, when the format carries any
-add-header
    synthesize and prefix a console header before applying, if eligible
-remove-header
    strip a console header before applying, restoring it afterward, if eligible
-fix-checksum
    recompute the per-system header checksum after applying
-output-suffix
    append " (patched)" to the output ROM's display name

Create Flags:

-format
    the patch format to create: "ips", "ups" or "bps" (default "ips")
*/
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/retropatch/rompatcher/lib/romkit"
)

func usage() {
	// TODO: print the package doc comment to os.Stderr.
}

func main() {
	if err := main1(); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

func main1() error {
	flag.Usage = usage
	if len(os.Args) < 2 {
		return errors.New("rompatch: missing subcommand; want \"patch\" or \"create\"")
	}

	switch os.Args[1] {
	case "patch":
		return runPatch(os.Args[2:])
	case "create":
		return runCreate(os.Args[2:])
	default:
		return fmt.Errorf("rompatch: unknown subcommand %q; want \"patch\" or \"create\"", os.Args[1])
	}
}

func runPatch(args []string) error {
	fs := flag.NewFlagSet("patch", flag.ExitOnError)
	validateFlag := fs.Bool("validate-checksum", false, "verify the patch's source/target checksums")
	addHeaderFlag := fs.Bool("add-header", false, "synthesize a console header before applying, if eligible")
	removeHeaderFlag := fs.Bool("remove-header", false, "strip a console header before applying, if eligible")
	fixChecksumFlag := fs.Bool("fix-checksum", false, "recompute the per-system header checksum after applying")
	outputSuffixFlag := fs.Bool("output-suffix", false, "append \" (patched)\" to the output ROM's display name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return errors.New("rompatch patch: want exactly two arguments: <rom> <patch>")
	}
	romPath, patchPath := fs.Arg(0), fs.Arg(1)

	rom, err := os.ReadFile(romPath)
	if err != nil {
		return err
	}
	patch, err := os.ReadFile(patchPath)
	if err != nil {
		return err
	}

	opts := romkit.Options{
		RemoveHeader:     *removeHeaderFlag,
		AddHeader:        *addHeaderFlag,
		ValidateChecksum: *validateFlag,
		FixChecksum:      *fixChecksumFlag,
		OutputSuffix:     *outputSuffixFlag,
		FileExt:          strings.TrimPrefix(filepath.Ext(romPath), "."),
	}
	result, err := romkit.ApplyPatch(rom, filepath.Base(romPath), patch, opts)
	if err != nil {
		return err
	}

	out := outputROMName(patchPath, romPath)
	if err := os.WriteFile(out, result.ROM, 0644); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "%s -> %s\n", result.Name, out)
	return nil
}

func runCreate(args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	formatFlag := fs.String("format", "ips", "the patch format to create: \"ips\", \"ups\" or \"bps\"")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return errors.New("rompatch create: want exactly two arguments: <original> <modified>")
	}
	originalPath, modifiedPath := fs.Arg(0), fs.Arg(1)

	original, err := os.ReadFile(originalPath)
	if err != nil {
		return err
	}
	modified, err := os.ReadFile(modifiedPath)
	if err != nil {
		return err
	}

	format, err := parseFormat(*formatFlag)
	if err != nil {
		return err
	}
	patch, err := romkit.Create(original, modified, format)
	if err != nil {
		return err
	}

	out := outputPatchName(modifiedPath, *formatFlag)
	if err := os.WriteFile(out, patch, 0644); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "%s\n", out)
	return nil
}

func parseFormat(s string) (romkit.Format, error) {
	switch strings.ToLower(s) {
	case "ips":
		return romkit.FormatIPS, nil
	case "ups":
		return romkit.FormatUPS, nil
	case "bps":
		return romkit.FormatBPS, nil
	default:
		return 0, fmt.Errorf("rompatch: unknown format %q; want \"ips\", \"ups\" or \"bps\"", s)
	}
}

// outputROMName names the patched ROM <patchBaseName>.<romExt>, next to the
// patch file.
func outputROMName(patchPath, romPath string) string {
	dir := filepath.Dir(patchPath)
	base := strings.TrimSuffix(filepath.Base(patchPath), filepath.Ext(patchPath))
	return filepath.Join(dir, base+filepath.Ext(romPath))
}

// outputPatchName names the emitted patch <modifiedBaseName>.<format>, next
// to the modified file.
func outputPatchName(modifiedPath, format string) string {
	dir := filepath.Dir(modifiedPath)
	base := strings.TrimSuffix(filepath.Base(modifiedPath), filepath.Ext(modifiedPath))
	return filepath.Join(dir, base+"."+strings.ToLower(format))
}
