// Package logx configures relaybot's structured logging.
//
// A small value-type wrapper (logx.Logger) sits on top of zerolog:
//   - console output stays readable (short timestamp, short caller)
//   - file output is JSON
//   - warnings can be mirrored to an operator chat (min-level, rate limited)
package logx
