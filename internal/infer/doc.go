// Package infer is the orchestration core between the transport layer and a
// pluggable model backend. It is structured into small files by concern:
//
//   - infer.go: core Infer type, constructor, entry points (GenerateStream,
//     Tokenize, ApplyChatTemplate, Health).
//   - types.go: stream events, tokens, validated request and response types.
//   - contracts.go: Backend, Validator and chat-template contracts consumed
//     by the core.
//   - admission.go: the bounded, non-blocking admission gate and its permits.
//   - stream.go: the stream driver state machine (continuation splicing,
//     energy interleaving, terminal End guarantee).
//   - aggregate.go: Generate, draining a stream into one InferResponse.
//   - best_of.go: parallel best-of-N generation and winner selection.
//   - health.go: latched backend health.
//   - errors.go: the closed error taxonomy and its classification.
//   - metrics.go: the request failure counter.
//
// External packages should treat this package as the orchestration layer and
// use the public methods only. A request holds exactly one admission permit
// from acquisition until its event stream is consumed and closed;
// continuations of length-stopped generations reuse that permit and stay
// invisible to the caller apart from a single Intermediate event per splice
// point.
package infer
