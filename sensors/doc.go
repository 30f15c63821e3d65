// Package sensors drives multi-channel sensor instruments: DP9800
// temperature readers on a serial line and readings scraped or queried
// from remote HTTP sources.
//
// The DP9800 answers a read request with one NUL-terminated ASCII
// record carrying nine temperature fields, a system flag byte and an
// XOR block check character. Monitor implements the request/response
// protocol over any Transport; DP9800 wraps a Monitor into a registered
// polling device variant and Sim provides a noise-backed variant for
// running without hardware.
//
// Remote polls any Fetcher for batches of readings. A failed fetch is a
// skipped cycle, not a dead device: the error is reported wrapped in
// device.ErrDataUnavailable and polling continues. The EM27 and DECADES
// variants are Fetcher implementations over HTTP.
package sensors
