// Package orodw extracts an OroCommerce database into warehouse-ready
// artifacts.
//
// Each run walks a catalog of named targets (facts, quotes, dimensions, a
// daily inventory snapshot and a generated calendar). For every target the
// engine probes the source schema, builds a SELECT that tolerates missing
// optional columns, fetches rows, sanitizes them and writes Parquet and
// optionally CSV. Targets with incremental extraction enabled read a
// persisted watermark, fetch only rows changed since then and advance the
// watermark only after a successful export.
//
// # Layout
//
//	cmd/orodw             CLI: run, granular, targets, watermark, version
//	internal/engine       per-target state machine and run report
//	pkg/catalog           target definitions and job selection
//	pkg/query             SELECT builder, placeholders and predicates
//	pkg/schema            information_schema probing
//	pkg/source            PostgreSQL and MySQL executors
//	pkg/frame             in-memory tabular result
//	pkg/sanitize          value normalization before export
//	pkg/export            Parquet and CSV writers plus object-store publish
//	pkg/watermark         watermark persistence
//	pkg/sqlrunner         granular SQL script runner
//	pkg/calendar          date dimension generation
//
// # Quick Start
//
//	orodw run -c config/settings.yaml
//	orodw run --group facts --target fact_pago
//	orodw targets --sql
//	orodw watermark list
package orodw
