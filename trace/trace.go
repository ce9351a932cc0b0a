// Copyright 2023 Gustavo C. Viegas. All rights reserved.

// Package trace loads recordings of GPU commands from
// YAML or JSON files and replays them on a device.
package trace

import (
	"fmt"
	"io"
	"strings"

	"github.com/gogpu/gputypes"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/gviegas/barrier/handle"
	"github.com/gviegas/barrier/state"
)

// ErrTrace means that a trace is not valid.
var ErrTrace = errors.New("trace: invalid trace")

// Trace is a set of resources and a list of commands that
// access them.
type Trace struct {
	// Queue that every command is recorded for.
	// Default is "graphics".
	Queue string `mapstructure:"queue"`
	// Number of times the commands are submitted.
	// Default is 1.
	Frames   int       `mapstructure:"frames"`
	Buffers  []Buffer  `mapstructure:"buffers"`
	Textures []Texture `mapstructure:"textures"`
	Views    []View    `mapstructure:"views"`
	Commands []Command `mapstructure:"commands"`
}

// Buffer describes a buffer of a trace.
type Buffer struct {
	Name                  string   `mapstructure:"name"`
	Size                  uint64   `mapstructure:"size"`
	Usage                 []string `mapstructure:"usage"`
	AccelerationStructure bool     `mapstructure:"acceleration_structure"`
}

// Texture describes a texture of a trace.
type Texture struct {
	Name   string `mapstructure:"name"`
	Width  uint32 `mapstructure:"width"`
	Height uint32 `mapstructure:"height"`
	// Array layers, or depth of 3D textures.
	Layers    uint32   `mapstructure:"layers"`
	Mips      uint32   `mapstructure:"mips"`
	Format    string   `mapstructure:"format"`
	Dimension string   `mapstructure:"dimension"`
	Usage     []string `mapstructure:"usage"`
}

// View describes a view of a trace.
// Zero counts select every level (or layer) from the base
// onwards.
type View struct {
	Name      string `mapstructure:"name"`
	Resource  string `mapstructure:"resource"`
	Type      string `mapstructure:"type"`
	BaseMip   int    `mapstructure:"base_mip"`
	Mips      int    `mapstructure:"mips"`
	BaseLayer int    `mapstructure:"base_layer"`
	Layers    int    `mapstructure:"layers"`
	Load      string `mapstructure:"load"`
	Store     string `mapstructure:"store"`
}

// Command is a single command of a trace.
// Which fields are used depends on Op:
//
//	dispatch           Kind, Bind
//	dispatch-indirect  Kind, Bind, Args
//	render-pass        Kind, Bind, RTVs, DSV
//	copy-buffer        Dst, Src
//	readback           Src
//	update-texture     Dst, Mip, Slice
//	copy-texture       Dst, Src
//	present            Src
//	transfer           Src, Queue (destination)
//	release            Src, Queue (destination)
//	acquire            Src, Queue (source)
//
// Dst, Src and Args name either a view or a resource; a
// resource name refers to the whole resource.
type Command struct {
	Op    string   `mapstructure:"op"`
	Kind  string   `mapstructure:"kind"`
	Bind  []string `mapstructure:"bind"`
	RTVs  []string `mapstructure:"rtvs"`
	DSV   string   `mapstructure:"dsv"`
	Dst   string   `mapstructure:"dst"`
	Src   string   `mapstructure:"src"`
	Args  string   `mapstructure:"args"`
	Mip   int      `mapstructure:"mip"`
	Slice int      `mapstructure:"slice"`
	Queue string   `mapstructure:"queue"`
}

// Load loads a trace from a file.
// The file format is taken from its extension.
func Load(path string) (*Trace, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "trace: reading %s", path)
	}
	return decode(v)
}

// Read reads a trace in the given format ("yaml" or
// "json") from r.
func Read(r io.Reader, format string) (*Trace, error) {
	v := viper.New()
	v.SetConfigType(format)
	if err := v.ReadConfig(r); err != nil {
		return nil, errors.Wrap(err, "trace: reading")
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Trace, error) {
	v.SetDefault("queue", "graphics")
	v.SetDefault("frames", 1)
	var tr Trace
	if err := v.Unmarshal(&tr); err != nil {
		return nil, errors.Wrap(err, "trace: decoding")
	}
	if err := tr.Validate(); err != nil {
		return nil, err
	}
	return &tr, nil
}

// Validate checks that names are unique and that every
// name a trace refers to exists.
func (tr *Trace) Validate() error {
	if tr.Frames <= 0 {
		return errors.Wrapf(ErrTrace, "%d frames", tr.Frames)
	}
	if _, err := parseQueue(tr.Queue); err != nil {
		return err
	}
	kinds := make(map[string]string)
	add := func(kind, name string) error {
		if name == "" {
			return errors.Wrapf(ErrTrace, "unnamed %s", kind)
		}
		if k, ok := kinds[name]; ok {
			return errors.Wrapf(ErrTrace, "%s %q already names a %s", kind, name, k)
		}
		kinds[name] = kind
		return nil
	}
	for _, b := range tr.Buffers {
		if err := add("buffer", b.Name); err != nil {
			return err
		}
	}
	for _, t := range tr.Textures {
		if err := add("texture", t.Name); err != nil {
			return err
		}
	}
	for _, x := range tr.Views {
		if k := kinds[x.Resource]; k != "buffer" && k != "texture" {
			return errors.Wrapf(ErrTrace, "view %q of unknown resource %q", x.Name, x.Resource)
		}
		if err := add("view", x.Name); err != nil {
			return err
		}
	}
	for i, c := range tr.Commands {
		refs := append([]string{c.Dst, c.Src, c.Args, c.DSV}, c.Bind...)
		refs = append(refs, c.RTVs...)
		for _, r := range refs {
			if r != "" && kinds[r] == "" {
				return errors.Wrapf(ErrTrace, "command %d (%s) refers to unknown %q", i, c.Op, r)
			}
		}
	}
	return nil
}

// norm makes a name comparable to the names of the
// library's enumerations: "depth24plus-stencil8" and
// "Depth24PlusStencil8" are the same.
func norm(s string) string {
	s = strings.ToLower(s)
	return strings.NewReplacer("-", "", "_", "", " ", "").Replace(s)
}

type enum interface {
	~uint8 | ~uint16 | ~uint32
	fmt.Stringer
}

// names maps the normalized names of the values in
// [first, last] to the values.
func names[T enum](first, last T) map[string]T {
	m := make(map[string]T)
	for x := first; x <= last; x++ {
		if n := norm(x.String()); n != "unknown" {
			m[n] = x
		}
	}
	return m
}

var (
	formats    = names(gputypes.TextureFormatR8Unorm, gputypes.TextureFormatASTC12x12UnormSrgb)
	dimensions = names(gputypes.TextureDimension1D, gputypes.TextureDimension3D)
	loadOps    = names(gputypes.LoadOpUndefined, gputypes.LoadOpClear)
	storeOps   = names(gputypes.StoreOpUndefined, gputypes.StoreOpDiscard)
	viewTypes  = names(handle.BufferSRV, handle.TextureDSV)
	queues     = names(state.QGraphics, state.QExternal)

	bufferUsages = map[string]gputypes.BufferUsage{
		"mapread":      gputypes.BufferUsageMapRead,
		"mapwrite":     gputypes.BufferUsageMapWrite,
		"copysrc":      gputypes.BufferUsageCopySrc,
		"copydst":      gputypes.BufferUsageCopyDst,
		"index":        gputypes.BufferUsageIndex,
		"vertex":       gputypes.BufferUsageVertex,
		"uniform":      gputypes.BufferUsageUniform,
		"storage":      gputypes.BufferUsageStorage,
		"indirect":     gputypes.BufferUsageIndirect,
		"queryresolve": gputypes.BufferUsageQueryResolve,
	}
	textureUsages = map[string]gputypes.TextureUsage{
		"copysrc":          gputypes.TextureUsageCopySrc,
		"copydst":          gputypes.TextureUsageCopyDst,
		"texturebinding":   gputypes.TextureUsageTextureBinding,
		"storagebinding":   gputypes.TextureUsageStorageBinding,
		"renderattachment": gputypes.TextureUsageRenderAttachment,
	}
)

func lookup[T any](m map[string]T, kind, name string) (T, error) {
	x, ok := m[norm(name)]
	if !ok {
		return x, errors.Wrapf(ErrTrace, "unknown %s %q", kind, name)
	}
	return x, nil
}

func parseQueue(s string) (state.Queue, error) { return lookup(queues, "queue", s) }

func parseFlags[T ~uint64](m map[string]T, kind string, ss []string) (T, error) {
	var f T
	for _, s := range ss {
		x, err := lookup(m, kind, s)
		if err != nil {
			return 0, err
		}
		f |= x
	}
	return f, nil
}
