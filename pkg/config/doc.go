/*
Package config defines Drover's configuration surface.

A single Config struct covers every tunable: supervisor capacity and
backpressure thresholds, retry schedule, snapshot TTL and history caps,
registry eviction timing, arbitration gates, and scorer weights. Defaults
match the documented behavior; Load layers a YAML file over them and
validates the result before the orchestrator starts.
*/
package config
