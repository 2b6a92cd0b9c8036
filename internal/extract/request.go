package extract

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrInvalidRequest is returned before any network traffic when a request
// cannot be submitted.
var ErrInvalidRequest = errors.New("invalid extraction request")

// Capability is a category of content the extraction service is asked for.
type Capability string

const (
	Text    Capability = "text"
	Tables  Capability = "tables"
	Figures Capability = "figures"
)

// AllCapabilities lists every capability in canonical order.
var AllCapabilities = []Capability{Text, Tables, Figures}

// Rendition is an output file type the service should render for elements.
type Rendition string

const (
	TablesAsCSV  Rendition = "tables_csv"
	TablesAsPNG  Rendition = "tables_png"
	FiguresAsPNG Rendition = "figures_png"
)

var allRenditions = []Rendition{TablesAsCSV, TablesAsPNG, FiguresAsPNG}

// ParseCapability accepts "text", "TABLES", " Figures " and so on.
func ParseCapability(s string) (Capability, error) {
	c := Capability(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(AllCapabilities, c) {
		return "", fmt.Errorf("%w: unknown capability %q", ErrInvalidRequest, s)
	}
	return c, nil
}

// ParseCapabilities parses a list of capability names. Comma separated
// values inside one element are split.
func ParseCapabilities(values []string) ([]Capability, error) {
	var caps []Capability
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			c, err := ParseCapability(part)
			if err != nil {
				return nil, err
			}
			caps = append(caps, c)
		}
	}
	return caps, nil
}

// Request is one submission: PDF bytes plus what to extract and render.
// Build it with NewRequest; the zero value is invalid.
type Request struct {
	pdf          []byte
	capabilities []Capability
	renditions   []Rendition
}

// NewRequest validates and freezes a submission. When no renditions are
// given they are derived from the capabilities: tables get CSV and PNG,
// figures get PNG.
func NewRequest(pdf []byte, capabilities []Capability, renditions ...Rendition) (Request, error) {
	req := Request{
		pdf:          slices.Clone(pdf),
		capabilities: canonical(capabilities, AllCapabilities),
		renditions:   canonical(renditions, allRenditions),
	}
	if err := req.Validate(); err != nil {
		return Request{}, err
	}
	if len(renditions) == 0 {
		req.renditions = defaultRenditions(req.capabilities)
	}
	return req, nil
}

// Validate reports why the request cannot be submitted, wrapping
// ErrInvalidRequest.
func (r Request) Validate() error {
	if len(r.pdf) == 0 {
		return fmt.Errorf("%w: pdf content is empty", ErrInvalidRequest)
	}
	if len(r.capabilities) == 0 {
		return fmt.Errorf("%w: at least one capability is required", ErrInvalidRequest)
	}
	for _, c := range r.capabilities {
		if !slices.Contains(AllCapabilities, c) {
			return fmt.Errorf("%w: unknown capability %q", ErrInvalidRequest, c)
		}
	}
	for _, rd := range r.renditions {
		if !slices.Contains(allRenditions, rd) {
			return fmt.Errorf("%w: unknown rendition %q", ErrInvalidRequest, rd)
		}
	}
	return nil
}

// PDF returns a copy of the submitted bytes.
func (r Request) PDF() []byte { return slices.Clone(r.pdf) }

func (r Request) Capabilities() []Capability { return slices.Clone(r.capabilities) }

func (r Request) Renditions() []Rendition { return slices.Clone(r.renditions) }

func (r Request) Has(c Capability) bool { return slices.Contains(r.capabilities, c) }

func (r Request) Renders(rd Rendition) bool { return slices.Contains(r.renditions, rd) }

func defaultRenditions(caps []Capability) []Rendition {
	var out []Rendition
	if slices.Contains(caps, Tables) {
		out = append(out, TablesAsCSV, TablesAsPNG)
	}
	if slices.Contains(caps, Figures) {
		out = append(out, FiguresAsPNG)
	}
	return out
}

// canonical dedups values and orders known ones as in order; unknown values
// are kept at the end so Validate can report them.
func canonical[T comparable](values []T, order []T) []T {
	var out []T
	for _, o := range order {
		if slices.Contains(values, o) {
			out = append(out, o)
		}
	}
	for _, v := range values {
		if !slices.Contains(order, v) && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}
