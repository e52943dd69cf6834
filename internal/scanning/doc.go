// Package scanning provides the TCP connect scanning engine for portaudit.
//
// The engine probes every port of a contiguous range on one target with
// bounded parallelism and collects the ports that accept a connection. It
// tolerates refusals, timeouts and other per-connection failures without
// disturbing the rest of the scan, and it can be cancelled at any point
// while still returning every port confirmed so far.
//
// # Overview
//
// A scan is driven by Engine.Scan. The engine submits one probe job per port
// to a fixed-size worker pool (package workers), consumes completions as they
// arrive, and records each open port in an Aggregator. The scan ends with
// exactly one ScanStatus:
//
//   - StatusCompleted: every port in the range was probed
//   - StatusInterrupted: the caller's context was cancelled
//   - StatusEngineFailure: the scan could not start, or local resource
//     exhaustion crossed Config.MaxResourceErrors
//
// # Main Components
//
// ## Probing
//
//   - Prober: one TCP connect attempt with a per-probe timeout
//   - ProbeOutcome: Open, Closed, Timeout or Error
//   - DialFunc: injectable dialer, net.Dialer.DialContext by default
//
// ## Aggregation
//
//   - Aggregator: concurrent set of open ports, Record and Snapshot
//   - ScanResult: sorted ports plus timing for one scan
//
// ## Admission
//
//   - FixedResourceManager: limits how many scans run at once
//
// # Usage Examples
//
// Basic scan:
//
//	engine := scanning.NewEngine(scanning.DefaultConfig())
//	result, status := engine.Scan(ctx, "192.168.1.10", scanning.DefaultPortRange())
//	if status == scanning.StatusCompleted {
//		fmt.Println(result.Ports)
//	}
//
// Streaming open ports as they are found:
//
//	engine := scanning.NewEngine(cfg, scanning.WithOnOpen(func(port uint16) {
//		fmt.Printf("Found open port: %d\n", port)
//	}))
//
// # Concurrency
//
// At most Config.Concurrency probes are in flight. Job submission blocks while
// every worker is busy. On cancellation Scan returns immediately; probes
// still dialing observe the stopped pool context and finish within one probe
// timeout without being waited for.
package scanning
