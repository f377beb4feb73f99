package controller

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	m "mixedstack.dev/pkg/mixedstack/internal/model"
)

const unknownSymbolLabel = "<unknown>"

// SimpleUI implements UI by writing tables or YAML to the command's stdout.
type SimpleUI struct {
	cmd    *cobra.Command
	format OutputFormat
}

// NewSimpleUI creates a new SimpleUI.
func NewSimpleUI(cmd *cobra.Command, format OutputFormat) *SimpleUI {
	return &SimpleUI{cmd: cmd, format: format}
}

type resolutionView struct {
	Address string `yaml:"address"`
	Symbol  string `yaml:"symbol,omitempty"`
	Found   bool   `yaml:"found"`
}

// DisplayResolutions prints one row per queried address.
func (s *SimpleUI) DisplayResolutions(ctx context.Context, pid int, resolutions []m.Resolution) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	views := make([]resolutionView, 0, len(resolutions))
	for _, r := range resolutions {
		views = append(views, resolutionView{Address: FormatAddress(r.Address), Symbol: r.Name, Found: r.Found})
	}

	if s.format == FormatYAML {
		return s.writeYAML(map[string]any{"pid": pid, "resolutions": views})
	}

	found := 0
	rows := make([][]string, 0, len(views))

	for _, v := range views {
		symbol := v.Symbol
		if v.Found {
			found++
		} else {
			symbol = unknownSymbolLabel
		}

		rows = append(rows, []string{v.Address, symbol})
	}

	return s.writeTable(
		[]string{"Address", "Symbol"},
		rows,
		[]string{fmt.Sprintf("PID %d", pid), fmt.Sprintf("%d/%d resolved", found, len(views))},
	)
}

type candidateView struct {
	Path     string `yaml:"path"`
	Domain   int    `yaml:"domain"`
	Sequence int64  `yaml:"sequence"`
	Status   string `yaml:"status"`
	Reason   string `yaml:"reason,omitempty"`
}

// DisplayCandidates prints the map files found for a process.
func (s *SimpleUI) DisplayCandidates(ctx context.Context, pid int, candidates []m.Candidate) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	views := make([]candidateView, 0, len(candidates))
	for _, c := range candidates {
		views = append(views, candidateView{
			Path:     string(c.Path),
			Domain:   int(c.Domain),
			Sequence: c.Sequence,
			Status:   string(c.Status),
			Reason:   c.Reason,
		})
	}

	if s.format == FormatYAML {
		return s.writeYAML(map[string]any{"pid": pid, "files": views})
	}

	if len(views) == 0 {
		s.printf("No map files found for process %d\n", pid)
		return nil
	}

	rows := make([][]string, 0, len(views))

	for _, v := range views {
		status := v.Status
		if v.Reason != "" {
			status = fmt.Sprintf("%s (%s)", v.Status, v.Reason)
		}

		rows = append(rows, []string{v.Path, fmt.Sprintf("%d", v.Domain), fmt.Sprintf("%d", v.Sequence), status})
	}

	return s.writeTable(
		[]string{"File", "Domain", "Sequence", "Status"},
		rows,
		[]string{fmt.Sprintf("Total Files %d", len(views)), "", "", ""},
	)
}

type rangeView struct {
	Index  string `yaml:"index"`
	Start  string `yaml:"start"`
	End    string `yaml:"end"`
	Name   string `yaml:"name"`
	Source string `yaml:"source,omitempty"`
}

type snapshotView struct {
	PID     int         `yaml:"pid"`
	Session string      `yaml:"session"`
	Enabled bool        `yaml:"enabled"`
	Layout  string      `yaml:"layout"`
	Files   []string    `yaml:"files"`
	Ranges  []rangeView `yaml:"ranges"`
}

// DisplaySnapshot prints every indexed range of a process.
func (s *SimpleUI) DisplaySnapshot(ctx context.Context, snapshot m.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	view := buildSnapshotView(snapshot)

	if s.format == FormatYAML {
		return s.writeYAML(view)
	}

	rows := make([][]string, 0, len(view.Ranges))
	for _, r := range view.Ranges {
		rows = append(rows, []string{r.Index, r.Start, r.End, r.Name, r.Source})
	}

	return s.writeTable(
		[]string{"Index", "Start", "End", "Name", "Source"},
		rows,
		[]string{fmt.Sprintf("Files %d", len(view.Files)), "", "", fmt.Sprintf("Ranges %d", len(view.Ranges)), ""},
	)
}

func buildSnapshotView(snapshot m.Snapshot) snapshotView {
	view := snapshotView{
		PID:     snapshot.PID,
		Session: snapshot.Session,
		Enabled: snapshot.Enabled,
		Layout:  snapshot.Layout,
	}

	ids := make([]m.DomainID, 0, len(snapshot.Domains))
	for id := range snapshot.Domains {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		view.Files = append(view.Files, string(snapshot.Domains[id].Path))

		for _, r := range snapshot.DomainRanges[id] {
			view.Ranges = append(view.Ranges, newRangeView(fmt.Sprintf("domain %d", id), r))
		}
	}

	for _, r := range snapshot.LegacyRanges {
		view.Ranges = append(view.Ranges, newRangeView("legacy", r))
	}

	return view
}

func newRangeView(index string, r m.Range) rangeView {
	return rangeView{
		Index:  index,
		Start:  FormatAddress(r.Start),
		End:    FormatAddress(r.End),
		Name:   r.Name,
		Source: string(r.SourceFile),
	}
}

// DisplayStats prints resolver counters.
func (s *SimpleUI) DisplayStats(ctx context.Context, stats []m.Stat) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if s.format == FormatYAML {
		out := make(map[string]float64, len(stats))
		for _, stat := range stats {
			key := stat.Name
			if stat.Labels != "" {
				key += "{" + stat.Labels + "}"
			}

			out[key] = stat.Value
		}

		return s.writeYAML(map[string]any{"stats": out})
	}

	rows := make([][]string, 0, len(stats))
	for _, stat := range stats {
		rows = append(rows, []string{stat.Name, stat.Labels, fmt.Sprintf("%g", stat.Value)})
	}

	return s.writeTable([]string{"Metric", "Labels", "Value"}, rows, nil)
}

func (s *SimpleUI) writeTable(header []string, rows [][]string, footer []string) error {
	var tableBuffer bytes.Buffer

	table := tablewriter.NewWriter(&tableBuffer)
	table.SetHeader(header)
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.AppendBulk(rows)

	if footer != nil {
		table.SetFooter(footer)
	}

	table.Render()

	s.printf("\n%s", tableBuffer.String())

	return nil
}

func (s *SimpleUI) writeYAML(v any) error {
	out, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode yaml: %w", err)
	}

	s.printf("%s", out)

	return nil
}

func (s *SimpleUI) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.cmd.OutOrStdout(), format, args...)
}
