// Package internal contains the implementation packages of the quicktex CLI.
//
// # Package Organization
//
//   - script: evaluator contract and the external command evaluator
//   - renderer: tectonic invocation and artifact renaming
//   - watcher: fsnotify and polling change sources
//   - build: the build loop, results and in-process metrics
//   - metrics: Prometheus recorder and exposition handler
//   - server: optional status server with a WebSocket build stream
//   - config: viper-backed configuration and pre-flight checks
//   - errors: structured errors and evaluator diagnostics
//   - logging: slog-backed structured logger
//   - version: build identity
//   - testutils: shared test fixtures, including a fake engine
//
// # Data Flow
//
//	watcher.Source ──Change──▶ build.Loop ──▶ script.Evaluator ──Document──▶ renderer.Renderer ──▶ <out>/<name>.pdf
//	                               │
//	                               └──Result──▶ server.Hub (WebSocket), metrics.Recorder
//
// The loop builds one script at a time. Sources hand changes over an
// unbuffered channel, so detection never runs ahead of the build.
package internal
