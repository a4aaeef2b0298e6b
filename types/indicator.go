package types

// ------------------------
// LED indicators
// ------------------------

type LEDInfo struct {
	Pin       string `json:"pin"`
	ActiveLow bool   `json:"active_low,omitempty"`
}

type LEDValue struct {
	On bool `json:"on"`
}

// IndicatorState is recomputed every cycle; nothing carries over except what
// the scheduler explicitly keeps (the last valid reading).
type IndicatorState struct {
	Error bool `json:"error"`
	Alert bool `json:"alert"`
}
