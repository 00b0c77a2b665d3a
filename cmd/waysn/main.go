// Copyright © 2024 Mutker Telag <witty.text5011@fastmail.com>
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// waysn sends a single command to a running waysnd and prints the reply.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"codeberg.org/mutker/waysn/internal/config"
	"codeberg.org/mutker/waysn/internal/errors"
	"codeberg.org/mutker/waysn/internal/ipc"
	"github.com/spf13/pflag"
)

const (
	minKelvin     = 1000
	maxKelvin     = 10000
	defaultKelvin = 6600
	minGamma      = 0.5
	maxGamma      = 3.0
	defaultGamma  = 1.0
)

const usage = `Usage: waysn [--json|--yaml] <command> [options]

Commands:
  set [KELVIN] [-g GAMMA] [-o OUTPUT...]  Set the temperature (default 6600K)
  get [OUTPUT...]                         Print the temperature of each output
  kill                                    Stop the daemon
`

type invocation struct {
	cmd    ipc.Command
	format ipc.Format
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	inv, err := parseArgs(args, stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "waysn: %v\n", err)
		return 2
	}

	path, err := config.SocketPathFromEnv()
	if err != nil {
		fmt.Fprintf(stderr, "waysn: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), ipc.DefaultTimeout)
	defer cancel()

	resp, err := ipc.Send(ctx, path, inv.cmd)
	if err != nil {
		fmt.Fprintf(stderr, "waysn: is waysnd running? %v\n", err)
		return 1
	}

	if err := ipc.Render(stdout, resp, inv.format); err != nil {
		fmt.Fprintf(stderr, "waysn: %v\n", err)
		return 1
	}
	if _, failed := resp.(ipc.Err); failed {
		return 1
	}

	return 0
}

// formatFlags registers --json and --yaml on fs.
func formatFlags(fs *pflag.FlagSet) (jsonOut, yamlOut *bool) {
	jsonOut = fs.BoolP("json", "j", false, "Print the reply as JSON")
	yamlOut = fs.Bool("yaml", false, "Print the reply as YAML")
	return jsonOut, yamlOut
}

func parseArgs(args []string, stderr io.Writer) (*invocation, error) {
	errFactory := errors.New()

	root := pflag.NewFlagSet("waysn", pflag.ContinueOnError)
	root.SetOutput(stderr)
	root.SetInterspersed(false)
	root.Usage = func() { fmt.Fprint(stderr, usage) }
	rootJSON, rootYAML := formatFlags(root)

	if err := root.Parse(args); err != nil {
		return nil, err
	}
	if root.NArg() == 0 {
		root.Usage()
		return nil, errFactory.WithMessage(errors.ErrInvalidArgument, "missing command")
	}

	name, rest := root.Arg(0), root.Args()[1:]
	fs := pflag.NewFlagSet("waysn "+name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	subJSON, subYAML := formatFlags(fs)

	inv := &invocation{}

	switch name {
	case "set":
		gamma := fs.Float32P("gamma", "g", defaultGamma, "Gamma correction, 0.5 to 3.0")
		outputs := fs.StringSliceP("outputs", "o", nil, "Outputs to change (default all)")
		if err := fs.Parse(rest); err != nil {
			return nil, err
		}

		kelvin := uint64(defaultKelvin)
		switch fs.NArg() {
		case 0:
		case 1:
			var err error
			kelvin, err = strconv.ParseUint(fs.Arg(0), 10, 32)
			if err != nil {
				return nil, errFactory.WithMessage(errors.ErrInvalidArgument, "temperature must be a number")
			}
		default:
			return nil, errFactory.WithMessage(errors.ErrInvalidArgument, "set takes at most one temperature")
		}
		if kelvin < minKelvin || kelvin > maxKelvin {
			return nil, errFactory.WithMessage(errors.ErrInvalidArgument,
				fmt.Sprintf("temperature must be between %d and %d", minKelvin, maxKelvin))
		}
		if *gamma < minGamma || *gamma > maxGamma {
			return nil, errFactory.WithMessage(errors.ErrInvalidArgument,
				fmt.Sprintf("gamma must be between %.1f and %.1f", minGamma, maxGamma))
		}

		inv.cmd = ipc.SetTemperature{Kelvin: uint32(kelvin), Gamma: *gamma, Outputs: *outputs}

	case "get":
		if err := fs.Parse(rest); err != nil {
			return nil, err
		}
		var outputs []string
		if fs.NArg() > 0 {
			outputs = fs.Args()
		}
		inv.cmd = ipc.GetTemperature{Outputs: outputs}

	case "kill":
		if err := fs.Parse(rest); err != nil {
			return nil, err
		}
		if fs.NArg() > 0 {
			return nil, errFactory.WithMessage(errors.ErrInvalidArgument, "kill takes no arguments")
		}
		inv.cmd = ipc.Kill{}

	default:
		root.Usage()
		return nil, errFactory.WithMessage(errors.ErrInvalidArgument, fmt.Sprintf("unknown command %q", name))
	}

	switch {
	case *rootJSON || *subJSON:
		if *rootYAML || *subYAML {
			return nil, errFactory.WithMessage(errors.ErrInvalidArgument, "--json and --yaml are exclusive")
		}
		inv.format = ipc.FormatJSON
	case *rootYAML || *subYAML:
		inv.format = ipc.FormatYAML
	}

	return inv, nil
}
