// Package logx configures ghwatch's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - console output readable (short timestamp + short caller)
//   - file output JSON-structured
//   - an optional chat sink (min-level + rate limiting) for operator alerts
package logx
