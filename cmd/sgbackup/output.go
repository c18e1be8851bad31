package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"sgbackup/internal/app"
	"sgbackup/internal/sgb"
)

// printer writes command results to stdout, colored on a terminal.
type printer struct {
	out     io.Writer
	ok      *color.Color
	skipped *color.Color
	failed  *color.Color
	dim     *color.Color
}

func newPrinter(out io.Writer, useColor bool) *printer {
	p := &printer{
		out:     out,
		ok:      color.New(color.FgGreen),
		skipped: color.New(color.FgYellow),
		failed:  color.New(color.FgRed, color.Bold),
		dim:     color.New(color.FgHiBlack),
	}
	for _, c := range []*color.Color{p.ok, p.skipped, p.failed, p.dim} {
		if useColor {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (p *printer) statusColor(s sgb.Status) *color.Color {
	switch s {
	case sgb.StatusOK:
		return p.ok
	case sgb.StatusSkipped:
		return p.skipped
	default:
		return p.failed
	}
}

// result prints "[verb] game ... STATUS" and the reason or error, if any.
func (p *printer) result(verb string, r sgb.Result) {
	fmt.Fprintf(p.out, "[%s] %s ... %s", verb, r.GameID, p.statusColor(r.Status).Sprint(r.Status))
	switch {
	case r.Err != nil:
		fmt.Fprintf(p.out, " %s", p.dim.Sprintf("(%v)", r.Err))
	case r.Reason != "":
		fmt.Fprintf(p.out, " %s", p.dim.Sprintf("(%s)", r.Reason))
	}
	fmt.Fprintln(p.out)
}

func (p *printer) batch(verb string, b sgb.BatchResult) {
	for _, r := range b.Results {
		p.result(verb, r)
	}
	fmt.Fprintf(p.out, "%d ok, %d skipped, %d failed\n", b.OK, b.Skipped, b.Failed)
}

func (p *printer) report(r *sgb.Report) {
	for _, e := range r.Entries {
		c := p.ok
		switch e.Status {
		case sgb.CheckFailed:
			c = p.failed
		case sgb.CheckMissing, sgb.CheckOrphaned:
			c = p.skipped
		}
		fmt.Fprintf(p.out, "[check] %s/%s ... %s", r.GameID, e.Filename, c.Sprint(e.Status))
		if e.Action != sgb.ActionNone {
			fmt.Fprintf(p.out, " %s", p.dim.Sprintf("(%s)", e.Action))
		}
		if e.Err != nil {
			fmt.Fprintf(p.out, " %s", p.dim.Sprintf("(%v)", e.Err))
		}
		fmt.Fprintln(p.out)
	}
}

func (p *printer) backups(infos []app.BackupInfo) {
	if len(infos) == 0 {
		fmt.Fprintln(p.out, "No backups.")
		return
	}
	for _, b := range infos {
		digest := "-"
		if b.Digest != "" {
			digest = b.Algorithm + ":" + shorten(b.Digest, 16)
		}
		fmt.Fprintf(p.out, "%-6s  %-40s  %s\n", b.Kind, b.Filename, p.dim.Sprint(digest))
	}
}

func (p *printer) game(g *sgb.Game) {
	fmt.Fprintf(p.out, "ID:            %s\n", g.ID)
	fmt.Fprintf(p.out, "Name:          %s\n", g.Name)
	fmt.Fprintf(p.out, "Savegame name: %s\n", g.SavegameName)
	fmt.Fprintf(p.out, "Savegame root: %s\n", g.SavegameRoot)
	fmt.Fprintf(p.out, "Savegame dir:  %s\n", g.SavegameDir)
	fmt.Fprintf(p.out, "Source:        %s\n", g.SourcePath())
	fmt.Fprintf(p.out, "Finalized:     %v\n", g.IsFinalized)
	if g.SteamAppID != 0 {
		fmt.Fprintf(p.out, "Steam app id:  %d\n", g.SteamAppID)
	}
	for name, value := range g.Variables {
		fmt.Fprintf(p.out, "Variable:      %s=%s\n", name, value)
	}
}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
