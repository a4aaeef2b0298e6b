package types

import "time"

// Stage names the step of a cycle an error came from.
type Stage string

const (
	StageNone    Stage = ""
	StageConnect Stage = "connect"
	StageSample  Stage = "sample"
	StageSend    Stage = "send"
)

// CycleReport is the retained summary the scheduler publishes after each cycle.
type CycleReport struct {
	Seq        uint64         `json:"seq"`
	Started    time.Time      `json:"started"`
	Reading    Reading        `json:"reading"`      // this cycle's sample, may be invalid
	LastValid  Reading        `json:"last_valid"`   // most recent valid sample
	Sent       bool           `json:"sent"`
	Connected  bool           `json:"connected"`
	Indicators IndicatorState `json:"indicators"`
	Stage      Stage          `json:"stage,omitempty"`
	Error      string         `json:"error,omitempty"` // errcode short code
	Sleep      time.Duration  `json:"sleep_ns"`
}
