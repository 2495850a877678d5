package proto

// Stream codes emitted by the streaming server in front of each data line.
const (
	StreamAcc         = "E4_Acc"
	StreamBvp         = "E4_Bvp"
	StreamGsr         = "E4_Gsr"
	StreamIbi         = "E4_Ibi"
	StreamHr          = "E4_Hr"
	StreamTemperature = "E4_Temperature"
	StreamBattery     = "E4_Battery"
	StreamTag         = "E4_Tag"
)

// DefaultArity is the payload size of any stream code missing from the arity table.
const DefaultArity = 1

// Tags carry only a timestamp; the accelerometer reports x, y and z.
var defaultArity = map[string]int{
	StreamAcc: 3,
	StreamTag: 0,
}

// Arity returns the number of payload values a data line of the given stream carries.
func Arity(code string) int {
	if n, ok := defaultArity[code]; ok {
		return n
	}
	return DefaultArity
}

// Sample is one decoded data observation.
type Sample struct {
	Stream    string    `json:"stream"`
	Timestamp float64   `json:"timestamp"` // seconds since the unix epoch, as sent by the server
	Values    []float64 `json:"values"`
}

// Value returns the first payload component, or 0 for timestamp-only samples.
func (s Sample) Value() float64 {
	if len(s.Values) == 0 {
		return 0
	}
	return s.Values[0]
}

func (s Sample) IsVector() bool {
	return len(s.Values) > 1
}

func (s Sample) IsTag() bool {
	return s.Stream == StreamTag
}
