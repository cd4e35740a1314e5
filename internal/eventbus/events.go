package eventbus

import "time"

const (
	TypeSubscriberAdded   = "subscriber.added"
	TypeSubscriberRemoved = "subscriber.removed"
	TypeBroadcastStarted  = "broadcast.started"
	TypeBroadcastFinished = "broadcast.finished"
	TypeScheduleDecision  = "schedule.decision"
	TypeConfigApplied     = "config.applied"
)

type SubscriberChange struct {
	IDs  []int64 `json:"ids"`
	Size int     `json:"size"`
}

type BroadcastStarted struct {
	Trigger string `json:"trigger"`
	Total   int    `json:"total"`
}

type BroadcastFinished struct {
	Trigger    string        `json:"trigger"`
	Total      int           `json:"total"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Removed    int           `json:"removed"`
	Skipped    int           `json:"skipped"`
	Took       time.Duration `json:"took"`
	Err        string        `json:"err,omitempty"`
}

type ScheduleDecision struct {
	Job    string    `json:"job"`
	Due    time.Time `json:"due"`
	Result string    `json:"result"`
}
