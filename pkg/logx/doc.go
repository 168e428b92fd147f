// Package logx configures pixos's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Optional screen sink (ring of recent lines for the crash overlay,
//     min-level + rate limiting)
package logx
