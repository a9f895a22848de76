package flags

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

// Parse parses the flags shared by translate/mktun/rmtun and returns the
// chosen subcommand name (the first non-flag argument), mirroring the
// teacher's "one positional argument after the flags" CLI shape.
func Parse(opts *Options) (subcommand string, err error) {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <translate|mktun|rmtun>\n", os.Args[0])
		pflag.PrintDefaults()
	}

	pflag.StringVar(&opts.ConfigPath, "config", "", "Path to the YAML configuration file")
	pflag.IntVar(&opts.FDRead, "fd-read", -1, "Inherited read file descriptor (io_mode = fd-pair)")
	pflag.IntVar(&opts.FDWrite, "fd-write", -1, "Inherited write file descriptor (io_mode = fd-pair)")
	pflag.BoolVarP(&opts.ShowVersion, "version", "v", false, "Print the version number and exit")

	pflag.Parse()

	if opts.ShowVersion {
		return "", nil
	}

	if pflag.NArg() != 1 {
		return "", fmt.Errorf("must pass exactly one subcommand (translate, mktun, rmtun), got %d", pflag.NArg())
	}
	return pflag.Arg(0), nil
}
