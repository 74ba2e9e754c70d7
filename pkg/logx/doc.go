// Package logx configures hackboard's structured logging.
//
// A small value-type wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional alert sink (warn/error lines forwarded to operators,
//     min-level + rate limiting)
package logx
