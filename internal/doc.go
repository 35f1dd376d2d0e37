// Package internal contains the packages behind the domplate CLI. The
// merge engine itself is public under pkg/.
//
// # Package Organization
//
//   - build: renders template files with data files, caches decoded data
//   - config: configuration loading and validation
//   - datasource: decoding of json, jsonc, yaml, cbor, html and markdown data
//   - dom: helpers over golang.org/x/net/html nodes
//   - errors: structured errors, failure collection and the HTML overlay
//   - logging: the structured logger used everywhere
//   - queue: the task queue and worker pool that schedule element work
//   - scope: data scopes, variables and the selector memo
//   - server: preview server with live reload
//   - version: build information
//   - watcher: file system monitoring with debouncing
//
// # Inter-Package Communication
//
// cmd builds a build.Builder from config and hands it to server or to the
// watch loop. Every other package receives a logging.Logger and reports
// recoverable problems through an errors.Collector.
package internal
