// Command-line interface to ndv.
// Serves array files over HTTP and inspects them locally: serve, about, meta, stats, slice.

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"strings"
	"syscall"

	"github.com/ndvserve/ndv/chunk"
	"github.com/ndvserve/ndv/ndv"
	"github.com/ndvserve/ndv/server"
	"github.com/ndvserve/ndv/storage"
	"github.com/ndvserve/ndv/storage/npy"
)

var (
	// Display usage if true.
	showHelp = flag.Bool("help", false, "")

	// Run in verbose mode if true.
	runVerbose = flag.Bool("verbose", false, "")

	// Directory or blob URL holding array files.  Overrides any config setting.
	rootDir = flag.String("root", "", "")

	// Address for http communication.  Overrides any config setting.
	httpAddress = flag.String("http", "", "")

	// Profile CPU usage using standard gotest system.
	cpuprofile = flag.String("cpuprofile", "", "")

	// Profile memory usage using standard gotest system.
	memprofile = flag.String("memprofile", "", "")

	// Number of logical CPUs to use for ndv.
	useCPU = flag.Int("numcpu", 0, "")
)

const helpMessage = `
ndv serves slices, metadata and statistics of n-dimensional arrays in HDF5, npy
and zarr files.

Usage: ndv [options] <command>

      -root       =string   Directory or blob URL (file://, s3://, gs://, mem://) of files.
      -http       =string   Address for HTTP communication.
      -cpuprofile =string   Write CPU profile to this file.
      -memprofile =string   Write memory profile to this file on ctrl-C.
      -numcpu     =number   Number of logical CPUs to use for ndv.
      -verbose    (flag)    Run in verbose mode.
  -h, -help       (flag)    Show help message

Commands:

	about
	help
	serve [config.toml]
	meta  <format> <path> [uri] [ixstr]
	stats <format> <path> [uri] [ixstr]
	slice <format> <path> <uri> <ixstr> <out.npy>

<format> is one of the storage engines: hdf, npy or zarr.  <path> is relative to
the root, which defaults to the current directory.
`

var usage = func() {
	fmt.Print(helpMessage)
}

// Command is a command-line command with its arguments.
type Command []string

// Name returns the command name.
func (cmd Command) Name() string {
	if len(cmd) == 0 {
		return ""
	}
	return cmd[0]
}

// Argument returns the i-th argument where 0 is the command name, or an empty
// string if there is no such argument.
func (cmd Command) Argument(i int) string {
	if i < 0 || i >= len(cmd) {
		return ""
	}
	return cmd[i]
}

func main() {
	flag.BoolVar(showHelp, "h", false, "Show help message")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() >= 1 && strings.ToLower(flag.Args()[0]) == "help" {
		*showHelp = true
	}

	if *runVerbose {
		ndv.Verbose = true
		ndv.SetLogMode(ndv.DebugMode)
	}
	if *showHelp || flag.NArg() == 0 {
		flag.Usage()
		os.Exit(0)
	}

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	if *useCPU != 0 {
		runtime.GOMAXPROCS(*useCPU)
	}

	// Capture ctrl+c and other interrupts.  Then handle graceful shutdown.
	stopSig := make(chan os.Signal, 1)
	go func() {
		for sig := range stopSig {
			log.Printf("Stop signal captured: %q.  Shutting down...\n", sig)
			if *memprofile != "" {
				log.Printf("Storing memory profiling to %s...\n", *memprofile)
				f, err := os.Create(*memprofile)
				if err != nil {
					log.Fatal(err)
				}
				pprof.WriteHeapProfile(f)
				f.Close()
			}
			if *cpuprofile != "" {
				log.Printf("Stopping CPU profiling to %s...\n", *cpuprofile)
				pprof.StopCPUProfile()
			}
			server.Shutdown()
		}
	}()
	signal.Notify(stopSig, os.Interrupt, syscall.SIGTERM)

	if err := DoCommand(Command(flag.Args())); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		ndv.Shutdown()
		os.Exit(1)
	}
	ndv.Shutdown()
}

// DoCommand serves as a switchboard for commands.
func DoCommand(cmd Command) error {
	switch cmd.Name() {
	case "":
		return fmt.Errorf("Blank command!")
	case "serve":
		return DoServe(cmd)
	case "about":
		fmt.Printf("ndv server %s (git %s)\n", server.Version, server.GitVersion())
		fmt.Printf("Storage engines: %s\n", storage.EnginesAvailable())
	case "meta":
		return DoMeta(cmd)
	case "stats":
		return DoStats(cmd)
	case "slice":
		return DoSlice(cmd)
	default:
		return fmt.Errorf("unknown command %q; try 'ndv help'", cmd.Name())
	}
	return nil
}

// DoServe loads any configuration then serves the root until interrupted.
func DoServe(cmd Command) error {
	if err := server.LoadConfig(cmd.Argument(1)); err != nil {
		return err
	}
	if err := server.SetRoot(*rootDir); err != nil {
		return err
	}
	server.SetHTTPAddress(*httpAddress)
	server.LogConfig().SetLogger()

	if err := server.Initialize(context.Background()); err != nil {
		return err
	}
	return server.Serve()
}

// openLocal opens the store at the root and returns the object given by the
// command's format, path and uri arguments.
func openLocal(ctx context.Context, cmd Command) (*storage.Store, storage.File, storage.Node, error) {
	format, path := cmd.Argument(1), cmd.Argument(2)
	if format == "" || path == "" {
		return nil, nil, nil, fmt.Errorf("%s command must be followed by <format> <path>", cmd.Name())
	}
	root := *rootDir
	if root == "" {
		dir, err := os.Getwd()
		if err != nil {
			return nil, nil, nil, err
		}
		root = dir
	}
	store, err := storage.OpenStore(ctx, root)
	if err != nil {
		return nil, nil, nil, err
	}
	f, err := store.OpenFile(ctx, format, path)
	if err != nil {
		store.Close()
		return nil, nil, nil, err
	}
	node, err := f.Get(ctx, cmd.Argument(3))
	if err != nil {
		f.Close()
		store.Close()
		return nil, nil, nil, err
	}
	return store, f, node, nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// DoMeta prints the metadata of an object.
func DoMeta(cmd Command) error {
	ctx := context.Background()
	store, f, node, err := openLocal(ctx, cmd)
	if err != nil {
		return err
	}
	defer store.Close()
	defer f.Close()
	meta, err := chunk.Describe(node, cmd.Argument(4), chunk.Options{})
	if err != nil {
		return err
	}
	return printJSON(meta)
}

// DoStats prints NaN-ignoring statistics of a dataset.
func DoStats(cmd Command) error {
	ctx := context.Background()
	store, f, node, err := openLocal(ctx, cmd)
	if err != nil {
		return err
	}
	defer store.Close()
	defer f.Close()
	ds, err := chunk.AsDataset(node)
	if err != nil {
		return err
	}
	arr, _, err := chunk.Extract(ctx, ds, cmd.Argument(4))
	if err != nil {
		return err
	}
	stats, err := chunk.ComputeStats(arr)
	if err != nil {
		return err
	}
	return printJSON(stats)
}

// DoSlice writes a slice of a dataset to a npy file.
func DoSlice(cmd Command) error {
	outPath := cmd.Argument(5)
	if outPath == "" {
		return fmt.Errorf("slice command must be followed by <format> <path> <uri> <ixstr> <out.npy>")
	}
	ctx := context.Background()
	store, f, node, err := openLocal(ctx, cmd)
	if err != nil {
		return err
	}
	defer store.Close()
	defer f.Close()
	ds, err := chunk.AsDataset(node)
	if err != nil {
		return err
	}
	arr, _, err := chunk.Extract(ctx, ds, cmd.Argument(4))
	if err != nil {
		return err
	}
	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	if err := npy.Encode(out, arr); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	fmt.Printf("Wrote %s %v array to %s\n", arr.DType, arr.Shape, outPath)
	return nil
}
