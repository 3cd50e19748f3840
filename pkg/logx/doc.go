// Package logx is loopin's structured logger, a thin layer over zerolog.
//
// A Logger obtained from a Service follows every Service.Apply, so config
// reloads can change the level or sinks without handing out new loggers.
// Console output is human-readable and goes to stderr; the optional file
// sink is JSON.
package logx
