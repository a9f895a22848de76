// Package flags parses Tundra's command-line surface with pflag, the way
// the teacher's userspace binary parses its own flags.
package flags

// Options holds the flags common to every subcommand (translate, mktun,
// rmtun), per SPEC_FULL.md §6's CLI surface.
type Options struct {
	ConfigPath string

	// FDRead / FDWrite are only consulted when the loaded configuration's
	// io_mode is fd-pair; they override nothing in the config file, they
	// supply the descriptors it only names the shape of.
	FDRead  int
	FDWrite int

	ShowVersion bool
}

func NewOptions() *Options {
	return &Options{FDRead: -1, FDWrite: -1}
}
