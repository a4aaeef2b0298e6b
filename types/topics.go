package types

// Bus topic tokens. Topics are built with bus.T(...).
const (
	TopicEnv       = "env"
	TopicReading   = "reading"
	TopicCycle     = "cycle"
	TopicIndicator = "indicator"
	TopicUplink    = "uplink"
	TopicStatus    = "status"
	TopicInfo      = "info"
)
