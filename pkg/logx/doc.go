// Package logx configures schedbot's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - console output readable (short timestamp + short caller)
//   - file output JSON-structured
//   - an optional alert sink (min-level + rate limiting) that forwards
//     warnings to an operator chat through the active transport
package logx
