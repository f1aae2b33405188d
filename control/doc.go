// Package control
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Configuration, logging, metrics and debug introspection for hioload-pkt.
//
// Provides:
//   - viper-backed configuration loading with HIOLOAD_ env overrides
//   - zap logger construction from the log section
//   - Prometheus metrics implementing the pool, response, channel and
//     server observer contracts
//   - reload hooks fed by config file watching
//   - named debug probes and platform probes
package control
