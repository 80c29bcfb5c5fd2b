// Package logx configures tickerwatch's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Optional alert sink: records at or above a minimum level are reported
//     (rate limited) to a Reporter, which the app wires to the error alert queue
package logx
