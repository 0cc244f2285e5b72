// Package config defines configuration for the gulp CLI.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (GULP_ prefix), optionally from a .env file
//   - YAML configuration file
//
// Flags override the environment, which overrides the file. Sizes accept
// human readable values such as "8MiB" or "64MB".
//
// # Example
//
//	store: blob
//	bucket_url: "s3://{bucket}?region=eu-west-1"
//	workers: 16
//	chunk_size: 16MiB
//	retry:
//	  attempts: 5
//	  backoff: 100ms
//	  max_backoff: 5s
//	log:
//	  level: debug
//	  file: /var/log/gulp.log
package config
