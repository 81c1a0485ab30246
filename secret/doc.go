// Package secret resolves credentials that configuration refers to instead
// of embedding.
//
// A value may name a secret with secretref:<scheme>:<key>, either as the
// whole value (secretref:file:/run/secrets/redis_password) or inside it
// (Bearer secretref:env:ADMIN_TOKEN). ${VAR} references are expanded
// beforehand by [ExpandEnv], which fails on unset variables rather than
// producing an empty credential.
package secret
