package main

import (
	"fmt"
	"io"
	"os"

	"github.com/woozymasta/ngenmap/internal/geodesy"
	"github.com/woozymasta/ngenmap/internal/geodesy/projlib"
	"github.com/woozymasta/ngenmap/internal/logger"
	"github.com/woozymasta/ngenmap/internal/reproject"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Logger logger.Logger `group:"Logger options"`

	Args struct {
		Input      string `positional-arg-name:"INPUT"      description:"GeoJSON file to read features from and reproject"`
		Output     string `positional-arg-name:"OUTPUT"     description:"GeoJSON file to write the reprojected features to"`
		Projection string `positional-arg-name:"PROJECTION" description:"Target projection (EPSG code, authority:code, WKT or PROJ string)"`
	} `positional-args:"yes" required:"yes"`

	Indent bool `short:"i" long:"indent" env:"REPROJECT_INDENT" description:"Indent the output document"`
}

func main() {
	os.Exit(run(os.Args[1:], projlib.New(), os.Stdout))
}

// run executes the command and returns the process exit code.
func run(args []string, resolver geodesy.Resolver, stdout io.Writer) int {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	parser.Usage = "[OPTIONS] INPUT OUTPUT PROJECTION"
	if _, err := parser.ParseArgs(args); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			return 0
		}
		return 1
	}

	opts.Logger.Setup()

	report, err := reproject.Run(resolver, reproject.Options{
		Input:      opts.Args.Input,
		Output:     opts.Args.Output,
		Projection: opts.Args.Projection,
		Indent:     opts.Indent,
	})
	if err != nil {
		log.Error().
			Err(err).
			Str("input", opts.Args.Input).
			Str("projection", opts.Args.Projection).
			Msg("Reprojection failed")
		return 1
	}

	if len(report.Skipped) > 0 {
		log.Warn().
			Int("skipped", len(report.Skipped)).
			Msg("Some features have unsupported geometries and were dropped")
	}

	fmt.Fprintf(stdout, "Reprojected FeatureCollection written to %q.\n", report.Output)
	return 0
}
