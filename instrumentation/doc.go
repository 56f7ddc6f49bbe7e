// Package instrumentation provides OpenTelemetry metrics and tracing
// for the mindflow MCP authorization server.
//
// Providers default to no-op implementations, so instrumentation adds
// no overhead until a real exporter is configured. All handler and
// flow code records through this package unconditionally and stays
// oblivious to whether anything is listening.
package instrumentation
