package ipc

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"codeberg.org/mutker/waysn/internal/errors"
	"gopkg.in/yaml.v3"
)

// Format selects how a response is printed.
type Format int

const (
	FormatText Format = iota
	FormatJSON
	FormatYAML
)

// document is the structured rendering of a response.
type document struct {
	Kind Kind     `json:"kind" yaml:"kind"`
	Body Response `json:"body" yaml:"body"`
}

// Render writes resp to w in the requested format.
func Render(w io.Writer, resp Response, format Format) error {
	var err error

	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		err = enc.Encode(document{Kind: resp.Kind(), Body: resp})
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		err = enc.Encode(document{Kind: resp.Kind(), Body: resp})
		if err == nil {
			err = enc.Close()
		}
	default:
		err = renderText(w, resp)
	}

	if err != nil {
		return errors.New().Wrap(errors.ErrEncodeFailed, err)
	}

	return nil
}

func renderText(w io.Writer, resp Response) error {
	switch r := resp.(type) {
	case Ok:
		_, err := fmt.Fprintln(w, "Ok")
		return err
	case Err:
		_, err := fmt.Fprintf(w, "Error: %s\n", r.Message)
		return err
	case Temperature:
		names := make([]string, 0, len(r.Temperatures))
		for name := range r.Temperatures {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			if _, err := fmt.Fprintf(w, "%s: %dK\n", name, r.Temperatures[name].Kelvin); err != nil {
				return err
			}
		}
		return nil
	default:
		_, err := fmt.Fprintf(w, "%v\n", resp)
		return err
	}
}
