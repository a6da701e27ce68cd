// Command tdbcli is the minimal command-line front end onto the
// storage manager (spec §6): define_array, load, export, subarray,
// clear_array, delete_array, retile, and update, each scoped to a
// --workspace directory. It follows cmd/bio-pamtool's
// cmdline.Command-per-subcommand shape, generalized from PAM/BAM
// tooling to array lifecycle and query operations.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/grailbio/base/cmdutil"
	"v.io/x/lib/cmdline"
	"v.io/x/lib/vlog"
)

// report writes err to env.Stderr and exits with code 1 for a malformed
// invocation or 2 for a failure inside the engine itself, the exit-code
// contract spec §6 assigns to every subcommand.
func report(env *cmdline.Env, err error) {
	if err == nil {
		return
	}
	ce, ok := err.(*cliError)
	if !ok {
		fmt.Fprintln(env.Stderr, err)
		os.Exit(1)
	}
	if ce.engine {
		vlog.Errorf("tdbcli: %v", ce.err)
		os.Exit(2)
	}
	fmt.Fprintln(env.Stderr, ce.err)
	os.Exit(1)
}

func newCmdDefineArray() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "define_array",
		Short:    "Define a new array's schema",
		ArgsName: "array-name",
	}
	workspace := cmd.Flags.String("workspace", "", "Workspace directory")
	dims := cmd.Flags.String("dims", "", "Comma-separated dimension names")
	dimTypes := cmd.Flags.String("dim-types", "", "Comma-separated dimension datatypes")
	domains := cmd.Flags.String("domains", "", "lo0,lo1,...:hi0,hi1,... dimension domains")
	tileExtents := cmd.Flags.String("tile-extents", "", "Comma-separated tile extents (empty for an irregular/sparse array)")
	attrs := cmd.Flags.String("attrs", "", "Comma-separated attribute names")
	attrTypes := cmd.Flags.String("attr-types", "", "Comma-separated attribute datatypes")
	varAttrs := cmd.Flags.String("var-attrs", "", "Comma-separated names of variable-length attributes")
	cellOrder := cmd.Flags.String("cell-order", "row-major", "row-major, column-major, or hilbert")
	tileOrder := cmd.Flags.String("tile-order", "", "row-major, column-major, or hilbert (regular/dense arrays only)")
	capacity := cmd.Flags.Uint64("capacity", 0, "Cells per tile")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return userErrorf("define_array takes one array-name argument, got %v", argv)
		}
		f := defineArrayFlags{
			array: argv[0], dims: *dims, dimTypes: *dimTypes, domains: *domains,
			tileExtents: *tileExtents, attrs: *attrs, attrTypes: *attrTypes, varAttrs: *varAttrs,
			cellOrder: *cellOrder, tileOrder: *tileOrder, capacity: *capacity,
		}
		report(env, defineArray(context.Background(), *workspace, f))
		return nil
	})
	return cmd
}

func newCmdClearArray() *cmdline.Command {
	cmd := &cmdline.Command{Name: "clear_array", Short: "Delete all fragments of an array", ArgsName: "array-name"}
	workspace := cmd.Flags.String("workspace", "", "Workspace directory")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return userErrorf("clear_array takes one array-name argument, got %v", argv)
		}
		report(env, clearArray(context.Background(), *workspace, argv[0]))
		return nil
	})
	return cmd
}

func newCmdDeleteArray() *cmdline.Command {
	cmd := &cmdline.Command{Name: "delete_array", Short: "Delete an array and its directory", ArgsName: "array-name"}
	workspace := cmd.Flags.String("workspace", "", "Workspace directory")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return userErrorf("delete_array takes one array-name argument, got %v", argv)
		}
		report(env, deleteArray(context.Background(), *workspace, argv[0]))
		return nil
	})
	return cmd
}

func newCmdLoad(name, short string) *cmdline.Command {
	cmd := &cmdline.Command{Name: name, Short: short, ArgsName: "array-name csv-path"}
	workspace := cmd.Flags.String("workspace", "", "Workspace directory")
	delimiter := cmd.Flags.String("delimiter", "", "CSV field delimiter (default ',')")
	capacity := cmd.Flags.Uint64("capacity", 0, "Cells per tile for the new fragment")
	sparse := cmd.Flags.Bool("sparse", false, "Force a sparse (coordinate-carrying) fragment even for a dense array")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 2 {
			return userErrorf("%s takes array-name and csv-path arguments, got %v", name, argv)
		}
		f := loadFlags{array: argv[0], inputPath: argv[1], delimiter: *delimiter, capacity: *capacity, sparse: *sparse}
		report(env, load(context.Background(), *workspace, f))
		return nil
	})
	return cmd
}

func newCmdExport() *cmdline.Command {
	cmd := &cmdline.Command{Name: "export", Short: "Export an array to CSV", ArgsName: "array-name"}
	workspace := cmd.Flags.String("workspace", "", "Workspace directory")
	output := cmd.Flags.String("output", "-", "Output file path, or - for stdout")
	delimiter := cmd.Flags.String("delimiter", "", "CSV field delimiter (default ',')")
	dims := cmd.Flags.String("dims", "", "Comma-separated dimension names to project (default: all)")
	attrs := cmd.Flags.String("attrs", "", "Comma-separated attribute names to project (default: all)")
	rangeFlag := cmd.Flags.String("range", "", "lo0,lo1,...:hi0,hi1,... restriction (default: whole domain)")
	reverse := cmd.Flags.Bool("reverse", false, "Emit cells in reverse global order")
	dense := cmd.Flags.Bool("dense", false, "Fill every cell of the range with null sentinels where no fragment wrote a value")
	precision := cmd.Flags.Int("precision", 6, "Floating-point decimal digits")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return userErrorf("export takes one array-name argument, got %v", argv)
		}
		f := exportFlags{
			array: argv[0], outputPath: *output, delimiter: *delimiter,
			dims: *dims, attrs: *attrs, rangeStr: *rangeFlag,
			reverse: *reverse, dense: *dense, precision: *precision,
		}
		report(env, exportArray(context.Background(), *workspace, f))
		return nil
	})
	return cmd
}

func newCmdSubarray() *cmdline.Command {
	cmd := &cmdline.Command{Name: "subarray", Short: "Project a range and attribute subset into a new array", ArgsName: "src-array dest-array"}
	workspace := cmd.Flags.String("workspace", "", "Workspace directory")
	rangeFlag := cmd.Flags.String("range", "", "lo0,lo1,...:hi0,hi1,... restriction (required)")
	attrs := cmd.Flags.String("attrs", "", "Comma-separated attribute names to keep (default: all)")
	capacity := cmd.Flags.Uint64("capacity", 0, "Cells per tile for the destination array's fragment")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 2 {
			return userErrorf("subarray takes src-array and dest-array arguments, got %v", argv)
		}
		if *rangeFlag == "" {
			return userErrorf("subarray requires --range")
		}
		f := subarrayFlags{srcArray: argv[0], destArray: argv[1], rangeStr: *rangeFlag, attrs: *attrs, capacity: *capacity}
		report(env, subarray(context.Background(), *workspace, f))
		return nil
	})
	return cmd
}

func newCmdRetile() *cmdline.Command {
	cmd := &cmdline.Command{Name: "retile", Short: "Consolidate an array's fragments under a new capacity", ArgsName: "array-name"}
	workspace := cmd.Flags.String("workspace", "", "Workspace directory")
	capacity := cmd.Flags.Uint64("capacity", 0, "New cells-per-tile capacity (required)")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return userErrorf("retile takes one array-name argument, got %v", argv)
		}
		if *capacity == 0 {
			return userErrorf("retile requires --capacity")
		}
		report(env, retile(context.Background(), *workspace, argv[0], *capacity))
		return nil
	})
	return cmd
}

// Run parses the command line and dispatches to one of the eight
// subcommands, mirroring cmd/bio-pamtool/cmd.Run's top-level wiring.
func Run() {
	cmdline.HideGlobalFlagsExcept()
	cmdline.Main(&cmdline.Command{
		Name:     "tdbcli",
		Short:    "Command-line front end onto the array storage engine",
		LookPath: false,
		Children: []*cmdline.Command{
			newCmdDefineArray(),
			newCmdLoad("load", "Ingest CSV rows into an array as a new fragment"),
			newCmdExport(),
			newCmdSubarray(),
			newCmdClearArray(),
			newCmdDeleteArray(),
			newCmdRetile(),
			newCmdLoad("update", "Alias for load: ingest CSV rows as a new fragment"),
		},
	})
}

func main() {
	Run()
}
