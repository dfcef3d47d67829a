// Package logx is tickd's structured logger, a thin layer over zerolog.
//
// Console output is human readable with a short caller; the optional log
// file gets JSON lines. Service.Apply swaps both at runtime, so a config
// reload changes level and outputs without recreating loggers.
package logx
