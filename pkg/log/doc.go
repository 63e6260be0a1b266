/*
Package log provides structured logging for Drover built on zerolog.

A single global logger is initialized once at startup and components derive
child loggers carrying a component, task_id, or worker_id field. Output is
human-readable console format by default and JSON when configured for
machine consumption.
*/
package log
