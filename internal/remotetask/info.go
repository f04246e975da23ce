package remotetask

import (
	"encoding/json"
	"time"
)

// OutputBufferInfo describes the worker-reported buffer state carried on
// TaskInfo.
type OutputBufferInfo struct {
	Type               string `json:"type" msgpack:"type"`
	State              string `json:"state" msgpack:"state"`
	TotalBufferedBytes int64  `json:"totalBufferedBytes" msgpack:"totalBufferedBytes"`
	TotalRowsSent      int64  `json:"totalRowsSent" msgpack:"totalRowsSent"`
	TotalPagesSent     int64  `json:"totalPagesSent" msgpack:"totalPagesSent"`
}

// TaskStats is the cumulative stats bag carried on TaskInfo.
type TaskStats struct {
	CreateTime           time.Time `json:"createTime" msgpack:"createTime"`
	TotalDrivers         int       `json:"totalDrivers" msgpack:"totalDrivers"`
	CompletedDrivers     int       `json:"completedDrivers" msgpack:"completedDrivers"`
	TotalScheduledTimeMs int64     `json:"totalScheduledTimeMs" msgpack:"totalScheduledTimeMs"`
	TotalCpuTimeMs       int64     `json:"totalCpuTimeMs" msgpack:"totalCpuTimeMs"`
	TotalBlockedTimeMs   int64     `json:"totalBlockedTimeMs" msgpack:"totalBlockedTimeMs"`
	ProcessedInputBytes  int64     `json:"processedInputBytes" msgpack:"processedInputBytes"`
	ProcessedInputRows   int64     `json:"processedInputRows" msgpack:"processedInputRows"`
	OutputBytes          int64     `json:"outputBytes" msgpack:"outputBytes"`
	OutputRows           int64     `json:"outputRows" msgpack:"outputRows"`
}

// TaskInfo is the heavyweight per-poll record: a superset of TaskStatus
// plus heartbeat, buffer info, acknowledged no-more-splits markers,
// cumulative stats, and the needsPlan flag.
type TaskInfo struct {
	TaskStatus TaskStatus `json:"taskStatus" msgpack:"taskStatus"`

	LastHeartbeat    time.Time        `json:"lastHeartbeat" msgpack:"lastHeartbeat"`
	OutputBufferInfo OutputBufferInfo `json:"outputBufferInfo" msgpack:"outputBufferInfo"`
	// NoMoreSplits mirrors, per plan node, whether the worker has
	// acknowledged the no-more-splits marker for that source.
	NoMoreSplits map[string]bool `json:"noMoreSplits" msgpack:"noMoreSplits"`
	Stats        TaskStats       `json:"stats" msgpack:"stats"`
	// NeedsPlan indicates the worker has not yet received the query
	// fragment and expects it on the next TaskUpdateRequest.
	NeedsPlan bool `json:"needsPlan" msgpack:"needsPlan"`

	JsonRepresentation json.RawMessage `json:"jsonRepresentation,omitempty" msgpack:"jsonRepresentation,omitempty"`
}
