// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package trace

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/gviegas/barrier/state"
)

type styles struct {
	on                                  bool
	frame, draw, release, acquire, none lipgloss.Style
}

func newStyles(w io.Writer, color bool) *styles {
	if !color {
		return &styles{}
	}
	r := lipgloss.NewRenderer(w)
	return &styles{
		on:      true,
		frame:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("#7B68EE")),
		draw:    r.NewStyle().Foreground(lipgloss.Color("#00D4FF")),
		release: r.NewStyle().Foreground(lipgloss.Color("#FFA500")),
		acquire: r.NewStyle().Foreground(lipgloss.Color("#7FFF00")),
		none:    r.NewStyle().Foreground(lipgloss.Color("#666666")),
	}
}

func (s *styles) render(x lipgloss.Style, str string) string {
	if !s.on {
		return str
	}
	return x.Render(str)
}

func (s *styles) kind(k state.Kind) lipgloss.Style {
	switch k {
	case state.QueueRelease:
		return s.release
	case state.QueueAcquire:
		return s.acquire
	}
	return lipgloss.NewStyle()
}

// Dump writes the barriers of every frame of run to w,
// one line per barrier, grouped by draw call.
// If color is set, the output is styled for w's terminal.
func Dump(w io.Writer, run *Run, color bool) error {
	st := newStyles(w, color)
	for f, res := range run.Frames {
		if _, err := fmt.Fprintln(w, st.render(st.frame, fmt.Sprintf("frame %d", f))); err != nil {
			return err
		}
		for _, info := range res.Infos {
			bs := res.Barriers(info)
			head := fmt.Sprintf("  draw %d (%s)", info.DrawCall, res.Commands[info.DrawCall])
			if len(bs.Buffers)+len(bs.Textures) == 0 {
				if _, err := fmt.Fprintln(w, st.render(st.draw, head)+st.render(st.none, ": no barriers")); err != nil {
					return err
				}
				continue
			}
			if _, err := fmt.Fprintln(w, st.render(st.draw, head)); err != nil {
				return err
			}
			for _, b := range bs.Buffers {
				line := fmt.Sprintf("    %-10s buffer %s: %v -> %v", b.Kind, run.Name(b.Handle), b.Before, b.After)
				if _, err := fmt.Fprintln(w, st.render(st.kind(b.Kind), line)); err != nil {
					return err
				}
			}
			for _, b := range bs.Textures {
				line := fmt.Sprintf("    %-10s texture %s mips %d+%d arr %d+%d: %v -> %v",
					b.Kind, run.Name(b.Handle), b.StartMip, b.MipSize, b.StartArr, b.ArrSize, b.Before, b.After)
				if _, err := fmt.Fprintln(w, st.render(st.kind(b.Kind), line)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
