// Package config loads boltcache settings from YAML and flags.
//
// Every section registers its own flags through RegisterFlagsAndApplyDefaults,
// which also fills in the defaults. [LoadArgs] layers sources in order:
// defaults, then the file named by -config.file (optionally run through
// envsubst with -config.expand-env), then the remaining flags.
//
// Credentials may be written as secretref:env:NAME or secretref:file:PATH
// and are resolved by [Config.ResolveSecrets].
package config
