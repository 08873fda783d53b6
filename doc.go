// Package alchemsub decorrelates time series from alchemical free energy
// simulations before they are fed to free energy estimators.
//
// Estimators such as MBAR and TI assume uncorrelated samples. Raw
// simulation output is strongly autocorrelated and starts with an
// equilibration transient. alchemsub removes both, independently for every
// lambda state, so each kept sample carries roughly one independent
// observation.
//
// # Architecture
//
// The module is organised bottom-up:
//
//   - pkg/table: observation tables keyed by (time, lambda state...)
//   - pkg/timeseries: statistical inefficiency, subsample indices and
//     equilibration detection
//   - pkg/subsampling: slicing, observable selection and the two
//     correlated subsampling modes
//   - pkg/formats and pkg/compression: csv, json, arrow, parquet and avro
//     tables behind gzip, zstd, s2, snappy or lz4 streams
//   - internal/pipeline: read, subsample and write jobs
//   - cmd/alchemsub: the command line interface
//
// # Quick Start
//
// Subsample a u_nk table to its statistical inefficiency:
//
//	alchemsub statinef -i u_nk.parquet -o u_nk_sub.parquet --how right
//
// Drop the equilibration transient of a dHdl table as well:
//
//	alchemsub equil -i dhdl.csv.gz -o dhdl_equil.csv.gz --diagnostics diag.json
//
// From Go:
//
//	s := subsampling.New(subsampling.WithLogger(logger))
//	res, err := s.EquilibriumDetection(ctx, t, subsampling.DefaultOptions())
package alchemsub
