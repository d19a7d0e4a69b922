// Package catalog declares the warehouse's output tables.
//
// Targets are grouped the way they are scheduled:
//
//	facts       fact_ventas_linea, fact_pago
//	quotes      fact_cotizacion, fact_cotizacion_linea
//	dimensions  one target per granular view (dim_producto, dim_cliente, ...)
//	snapshot    fact_inventario_snapshot_diario
//	calendar    dim_fecha
//
// Source tables are named without schema; the engine resolves them against
// schema_destino followed by source_schemas.
package catalog

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ajitpratap0/orodw/pkg/calendar"
	"github.com/ajitpratap0/orodw/pkg/config"
	"github.com/ajitpratap0/orodw/pkg/frame"
	"github.com/ajitpratap0/orodw/pkg/query"
)

// Group names.
const (
	GroupFacts      = "facts"
	GroupQuotes     = "quotes"
	GroupDimensions = "dimensions"
	GroupSnapshot   = "snapshot"
	GroupCalendar   = "calendar"
)

// Groups lists every group in run order.
var Groups = []string{GroupDimensions, GroupCalendar, GroupFacts, GroupQuotes, GroupSnapshot}

// Job is one unit of work for the engine. Exactly one of Target and Generate
// is set.
type Job struct {
	Group string
	// Target is extracted from the source with a built query.
	Target *query.Target
	// Generate produces the frame without touching the source.
	Generate func(ctx context.Context) (*frame.Frame, error)
	// Transform reshapes the extracted frame before sanitizing.
	Transform func(f *frame.Frame, tpl *query.Template) (*frame.Frame, error)
	// Drop lists columns removed before export.
	Drop []string

	name string
}

// Name returns the output table name.
func (j Job) Name() string {
	if j.Target != nil {
		return j.Target.Name
	}
	return j.name
}

// Options parameterise the catalog for one run.
type Options struct {
	Settings *config.Settings
	// SnapshotDate stamps the inventory snapshot; zero means today.
	SnapshotDate time.Time
}

// Jobs returns every job in run order.
func Jobs(opts Options) []Job {
	s := opts.Settings
	if s == nil {
		s = config.NewSettings()
	}
	var jobs []Job
	for _, d := range Dimensions() {
		jobs = append(jobs, Job{Group: GroupDimensions, Target: d, Drop: s.DropColumns[d.Name]})
	}
	jobs = append(jobs, CalendarJob(s))
	for _, t := range Facts() {
		jobs = append(jobs, Job{Group: GroupFacts, Target: t, Drop: s.DropColumns[t.Name]})
	}
	for _, t := range Quotes() {
		jobs = append(jobs, Job{Group: GroupQuotes, Target: t, Drop: s.DropColumns[t.Name]})
	}
	jobs = append(jobs, SnapshotJob(opts.SnapshotDate, s.DropColumns[SnapshotTable]))
	return jobs
}

// Select filters jobs by group and target name. Empty filters keep everything;
// an unknown name is an error.
func Select(jobs []Job, groups, targets []string) ([]Job, error) {
	knownGroups := make(map[string]bool)
	knownTargets := make(map[string]bool)
	for _, j := range jobs {
		knownGroups[j.Group] = true
		knownTargets[j.Name()] = true
	}
	wantGroup := make(map[string]bool, len(groups))
	for _, g := range groups {
		if !knownGroups[g] {
			return nil, fmt.Errorf("unknown group: %s", g)
		}
		wantGroup[g] = true
	}
	wantTarget := make(map[string]bool, len(targets))
	for _, t := range targets {
		if !knownTargets[t] {
			return nil, fmt.Errorf("unknown target: %s", t)
		}
		wantTarget[t] = true
	}

	var out []Job
	for _, j := range jobs {
		if len(wantGroup) > 0 && !wantGroup[j.Group] {
			continue
		}
		if len(wantTarget) > 0 && !wantTarget[j.Name()] {
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

// CalendarJob generates dim_fecha from the configured range or input file.
func CalendarJob(s *config.Settings) Job {
	return Job{
		Group: GroupCalendar,
		name:  calendar.Table,
		Generate: func(context.Context) (*frame.Frame, error) {
			if s.Calendar.File != "" {
				fh, err := os.Open(s.Calendar.File)
				if err != nil {
					return nil, err
				}
				defer fh.Close()
				return calendar.FromCSV(fh)
			}
			from, to, err := s.CalendarRange()
			if err != nil {
				return nil, err
			}
			return calendar.Generate(from, to), nil
		},
	}
}
