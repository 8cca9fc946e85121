package domain

type StatKind string

const (
	CallsTotal         StatKind = "callsTotal"
	CallsByDate        StatKind = "callsByDate"
	CallsSeoByDate     StatKind = "callsByDateSeoOnly"
	CallsSeoByKeywords StatKind = "callsByKeywords"
)

// StatKinds lists every supported statistics endpoint.
var StatKinds = []StatKind{CallsTotal, CallsByDate, CallsSeoByDate, CallsSeoByKeywords}

// StatPoint is one entry of a by-date or by-keyword series.
type StatPoint struct {
	Date    string `json:"date,omitempty"`
	Keyword string `json:"keyword,omitempty"`
	Calls   int64  `json:"calls"`
}

// StatsResult is either a statistics payload (Status true) or the reason the
// fetch failed. Callers must check Status.
type StatsResult struct {
	Status     bool        `json:"status"`
	Message    string      `json:"message,omitempty"`
	Kind       StatKind    `json:"kind"`
	CallsTotal any         `json:"callsTotal,omitempty"`
	Points     []StatPoint `json:"points,omitempty"`
}

// AudioResult reports the outcome of a call recording download.
type AudioResult struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
}
