// Command evacquery runs one evacuation query against the flood service and
// writes the resulting map to stdout.
//
// Usage:
//
//	go run ./cmd/evacquery \
//	  -place "Rennes, France" \
//	  -origin "48.11588, -1.66927" \
//	  -destination "48.11963, -1.65031" \
//	  -water 1.5 -format svg > map.svg
//
// The exit status is 0 when a path was found, 3 when the destination is
// unreachable, 2 for invalid input and 1 for any other failure.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/evacmap/evacmap/internal/controller"
	"github.com/evacmap/evacmap/internal/evacuation"
	"github.com/evacmap/evacmap/internal/evacuation/floodservice"
	"github.com/evacmap/evacmap/internal/render"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
	exitNoPath  = 3
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("evacquery", flag.ContinueOnError)
	fs.SetOutput(stderr)

	place := fs.String("place", "", "place whose street network is routed over")
	origin := fs.String("origin", "", `origin as "lat, lng"`)
	destination := fs.String("destination", "", `destination as "lat, lng"`)
	network := fs.String("network", "", "network type: drive, walk, bike or all")
	water := fs.Float64("water", 0, "water level in m")
	rain := fs.Float64("rain", 0, "rainfall in mm")
	discharge := fs.Float64("discharge", 0, "river discharge in m³/s")
	format := fs.String("format", "geojson", "output format: geojson, svg or json")
	baseURL := fs.String("url", floodservice.DefaultBaseURL, "flood service base URL")
	timeout := fs.Duration("timeout", floodservice.DefaultTimeout, "query timeout")
	verbose := fs.Bool("v", false, "log to stderr")

	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *format != "geojson" && *format != "svg" && *format != "json" {
		fmt.Fprintf(stderr, "unknown format %q\n", *format)
		return exitUsage
	}

	log := zerolog.Nop()
	if *verbose {
		log = zerolog.New(zerolog.ConsoleWriter{Out: stderr}).With().Timestamp().Logger()
	}

	params := evacuation.DefaultParameters()
	ctrl := controller.New(controller.Config{
		Provider: floodservice.NewClient(floodservice.ClientConfig{
			BaseURL:    *baseURL,
			Timeout:    *timeout,
			Parameters: params,
			Logger:     log,
		}),
		Parameters: params,
		Logger:     log,
	})
	defer ctrl.Close()

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	state, err := ctrl.Submit(ctx, controller.Form{
		Place:       *place,
		Origin:      *origin,
		Destination: *destination,
		NetworkType: *network,
		Environment: map[evacuation.ParameterKey]float64{
			evacuation.ParamWaterLevel:     *water,
			evacuation.ParamRainLevel:      *rain,
			evacuation.ParamRiverDischarge: *discharge,
		},
	})
	var verr *controller.ValidationError
	if errors.As(err, &verr) {
		for _, f := range verr.Fields {
			fmt.Fprintf(stderr, "%s: %s\n", f.Field, f.Message)
		}
		return exitUsage
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailure
	}

	renderer, err := render.New(render.DefaultConfig())
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailure
	}
	if err := write(stdout, renderer, *format, state); err != nil {
		fmt.Fprintf(stderr, "writing %s: %v\n", *format, err)
		return exitFailure
	}

	if state.NoPathFound {
		fmt.Fprintln(stderr, "no evacuation path found: destination unreachable or flooded")
		return exitNoPath
	}
	log.Info().
		Int("path_points", len(state.Path)).
		Float64("distance_m", state.DistanceMeters).
		Msg("evacuation path found")
	return exitOK
}

func write(w io.Writer, r *render.Renderer, format string, state controller.DisplayState) error {
	switch format {
	case "svg":
		return r.SVG(w, state)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(state)
	default:
		data, err := r.GeoJSON(state).MarshalJSON()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	}
}
