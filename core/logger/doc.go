// Package logger records job-control events as newline delimited JSON and
// summarizes recorded logs.
package logger
