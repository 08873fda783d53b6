// Package config provides configuration management for alchemsub jobs.
//
// A job reads one table, subsamples it and writes the result. Config holds
// every knob of that job in one structure organised into sections:
//
//   - Input: path, format, compression and key columns of the table
//   - Output: destination, format, compression and the diagnostics file
//   - Subsample: mode, observable selection and slicing window
//   - Logging: zap logger settings
//   - Observability: metrics textfile and tracing
//
// # Usage
//
// ## Loading a file
//
//	cfg, err := config.Load("job.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
//
// ## Environment Variable Substitution
//
//	# job.yaml
//	input:
//	  path: ${DATA_DIR}/u_nk.parquet
//	subsample:
//	  mode: equilibrium_detection
//	  how: right
//
// ## Overrides
//
// The CLI layers flags and ALCHEMSUB_* environment variables on top of the
// file through viper; see NewViper and ApplyOverrides. Precedence is flags,
// then environment, then the config file, then Default.
package config
