package metrics

import "strings"

// Built-in metric names.
const (
	Iterations        = "iterations"
	AbortedIterations = "aborted_iterations"
	HTTPReqs          = "http_reqs"
	DataSent          = "data_sent"
	DataReceived      = "data_received"
	HTTPReqDuration   = "http_req_duration"
	HTTPReqService    = "http_req_service"
	PoolWait          = "pool_wait"
	HTTPReqFailed     = "http_req_failed"
	Checks            = "checks"
	Errors            = "errors"
)

// Tag keys used for sub-metrics.
const (
	TagScenario = "scenario"
	TagCheck    = "check"
)

var builtins = []struct {
	name string
	kind Kind
}{
	{Iterations, KindCounter},
	{AbortedIterations, KindCounter},
	{HTTPReqs, KindCounter},
	{DataSent, KindCounter},
	{DataReceived, KindCounter},
	{HTTPReqDuration, KindTrend},
	{HTTPReqService, KindTrend},
	{PoolWait, KindTrend},
	{HTTPReqFailed, KindRate},
	{Checks, KindRate},
	{Errors, KindRate},
}

// Tagged returns the sub-metric name for base filtered by key:value,
// e.g. http_req_duration{scenario:vote-cats}.
func Tagged(base, key, value string) string {
	return base + "{" + key + ":" + value + "}"
}

// SplitName is the inverse of Tagged. For untagged names key and value are empty.
func SplitName(name string) (base, key, value string) {
	open := strings.IndexByte(name, '{')
	if open < 0 || !strings.HasSuffix(name, "}") {
		return name, "", ""
	}
	base = name[:open]
	tag := name[open+1 : len(name)-1]
	key, value, ok := strings.Cut(tag, ":")
	if !ok {
		return name, "", ""
	}
	return base, key, value
}
