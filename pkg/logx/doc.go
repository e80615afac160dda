// Package logx is the structured logger used across maintwatch.
//
// Logger wraps zerolog with a field-function API so call sites read as
// log.Info("msg", logx.String("k", v)). Loggers built from a Service follow
// its runtime level and sink changes, which is how config hot reload reaches
// every component without re-plumbing loggers.
package logx
