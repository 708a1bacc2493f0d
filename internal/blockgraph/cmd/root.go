package cmd

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/pprof"
	"strings"

	"github.com/charmbracelet/fang"
	charmlog "github.com/charmbracelet/log"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"blockgraph/internal/analysis"
	"blockgraph/internal/arch"
	"blockgraph/internal/blockgraph/config"
	blog "blockgraph/internal/blockgraph/log"
	"blockgraph/internal/blockgraph/styles"
	"blockgraph/internal/logging"
	"blockgraph/internal/render"
	"blockgraph/internal/ui/colorize"
)

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "blockgraph [file]",
		Short: "Recover the control flow graph of raw machine code",
		Long: `Blockgraph disassembles a binary from its entry point, groups the
reachable instructions into basic blocks and writes the resulting control
flow graph as Graphviz DOT (or lattice DOT, JSON or a text listing).`,
		Example: `
# Write code.bin.dot from a flat 32-bit x86 image loaded at 0x1000
blockgraph code.bin

# Use the ELF entry point and segments, print the listing
blockgraph --loader auto -p ./a.out

# JSON graph of an arm64 blob loaded at 0x400000
blockgraph --arch arm64 --base 0x400000 -f json -o graph.json blob.bin
  `,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE:         runGraph,
	}

	pf := root.PersistentFlags()
	pf.BoolP("debug", "d", false, "Debug")
	pf.String("arch", "", "Decoder: "+archNames()+" (default x86, or the ELF machine)")
	pf.String("loader", string(config.LoaderFlat), "How the file is mapped: flat, elf or auto")
	pf.String("base", fmt.Sprintf("%#x", config.DefaultBase), "Load address for flat images")
	pf.String("entry", "", "Disassembly start: address or ELF symbol (default base or ELF entry)")
	pf.Int("max-steps", 0, "Cap on decode attempts (0 means 10000000)")
	pf.Bool("omit-dangling", false, "Drop edges to addresses that did not decode")

	f := root.Flags()
	f.StringP("out", "o", "", "Output path (default <file>.<ext>)")
	f.StringP("format", "f", string(render.FormatDOT), "Output format: dot, lattice, json or text")
	f.BoolP("print", "p", false, "Print the block listing to stdout")
	f.BoolP("summary", "s", false, "Print a markdown summary of the graph")
	f.String("cpuprofile", "", "Write CPU profile to file")
	f.String("memprofile", "", "Write memory profile to file")

	root.AddCommand(newViewCmd(), newSchemaCmd())
	return root
}

func archNames() string {
	return strings.Join(arch.Names(), ", ")
}

// configFromFlags builds the run configuration: defaults, then BLOCKGRAPH_*
// variables, then any flag given on the command line.
func configFromFlags(cmd *cobra.Command, input string) (config.Config, error) {
	c := config.Default()
	c.Input = input
	if err := c.ApplyEnv(os.LookupEnv); err != nil {
		return c, err
	}

	flags := cmd.Flags()
	if flags.Changed("arch") {
		c.Arch, _ = flags.GetString("arch")
	}
	if flags.Changed("loader") {
		v, _ := flags.GetString("loader")
		c.Loader = config.Loader(v)
	}
	if flags.Changed("base") {
		v, _ := flags.GetString("base")
		base, err := config.ParseAddr(v)
		if err != nil {
			return c, fmt.Errorf("--base: %w", err)
		}
		c.Base = base
	}
	if flags.Changed("entry") {
		v, _ := flags.GetString("entry")
		if err := c.SetEntry(v); err != nil {
			return c, fmt.Errorf("--entry: %w", err)
		}
	}
	if flags.Changed("max-steps") {
		c.MaxSteps, _ = flags.GetInt("max-steps")
	}
	if flags.Changed("omit-dangling") {
		c.OmitDangling, _ = flags.GetBool("omit-dangling")
	}
	if flags.Changed("debug") {
		c.Debug, _ = flags.GetBool("debug")
	}
	if flags.Changed("out") {
		c.Output, _ = flags.GetString("out")
	}
	if flags.Changed("format") {
		c.Format, _ = flags.GetString("format")
	}
	if flags.Changed("print") {
		c.Print, _ = flags.GetBool("print")
	}
	if flags.Changed("summary") {
		c.Summary, _ = flags.GetBool("summary")
	}
	if flags.Changed("cpuprofile") {
		c.CPUProfile, _ = flags.GetString("cpuprofile")
	}
	if flags.Changed("memprofile") {
		c.MemProfile, _ = flags.GetString("memprofile")
	}

	return c, c.Validate()
}

// newLogger returns the pipeline logger; --debug forces the debug level.
func newLogger(debug bool) *logging.LoggerCloser {
	lg := logging.NewLogger()
	if debug {
		lg.SetLevel(charmlog.DebugLevel)
	}
	return lg
}

func runGraph(cmd *cobra.Command, args []string) error {
	c, err := configFromFlags(cmd, args[0])
	if err != nil {
		return err
	}

	// Setup CPU profiling if requested
	if c.CPUProfile != "" {
		f, err := os.Create(c.CPUProfile)
		if err != nil {
			return fmt.Errorf("could not create CPU profile: %w", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			return fmt.Errorf("could not start CPU profile: %w", err)
		}
		defer pprof.StopCPUProfile()
	}

	// Setup memory profiling if requested
	if c.MemProfile != "" {
		defer func() {
			f, err := os.Create(c.MemProfile)
			if err != nil {
				fmt.Fprintf(os.Stderr, "could not create memory profile: %v\n", err)
				return
			}
			defer f.Close()
			if err := pprof.WriteHeapProfile(f); err != nil {
				fmt.Fprintf(os.Stderr, "could not write memory profile: %v\n", err)
			}
		}()
	}

	blog.Setup("", c.Debug)
	lg := newLogger(c.Debug)
	defer lg.Close()

	res, err := analysis.RunFile(c, lg.Logger)
	if err != nil {
		return err
	}

	opts := res.RenderOptions()
	var buf bytes.Buffer
	if err := render.Render(&buf, res.Graph, render.Format(c.Format), opts); err != nil {
		return fmt.Errorf("render %s: %w", c.Format, err)
	}
	out := c.OutputPath()
	if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	slog.Debug("Wrote graph", "path", out, "bytes", buf.Len())

	w := cmd.OutOrStdout()
	tty := term.IsTerminal(os.Stdout.Fd())
	if c.Print {
		listing := opts
		listing.Color = tty && colorize.Enabled()
		fmt.Fprint(w, render.Text(res.Graph, listing))
	}
	if c.Summary {
		md := render.Summary(res.Graph, opts)
		if tty {
			width := 80
			if tw, _, err := term.GetSize(os.Stdout.Fd()); err == nil && tw > 0 {
				width = tw
			}
			if rendered, err := styles.RenderMarkdown(md, width); err == nil {
				md = rendered
			}
		}
		fmt.Fprint(w, md)
	}
	return nil
}

// Execute runs the root command, through fang when stdout is a terminal.
func Execute() {
	if !term.IsTerminal(os.Stdout.Fd()) {
		// Use cobra directly to avoid fang's markdown rendering when piped
		if err := rootCmd.Execute(); err != nil {
			os.Exit(1)
		}
		return
	}
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}
