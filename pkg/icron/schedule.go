package icron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

type TriggerInfo struct {
	Expression string    `json:"expression"`
	Next       time.Time `json:"next"`
	Last       time.Time `json:"last,omitempty"`

	TimeSinceLast time.Duration `json:"time_since_last,omitempty"`
	TimeUntilNext time.Duration `json:"time_until_next"`
}

// GetTriggerInfo reports the previous and next firing of a standard five
// field cron expression around refTime. Last stays zero when the expression
// did not fire within the past year.
func GetTriggerInfo(cronExpr string, refTime time.Time) (*TriggerInfo, error) {
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}

	info := &TriggerInfo{
		Expression: cronExpr,
		Next:       schedule.Next(refTime),
		Last:       lastBefore(schedule, refTime),
	}
	info.TimeUntilNext = info.Next.Sub(refTime)
	if !info.Last.IsZero() {
		info.TimeSinceLast = refTime.Sub(info.Last)
	}
	return info, nil
}

// lastBefore walks back an hour at a time until a firing lands at or before
// refTime, then walks forward to the latest such firing.
func lastBefore(schedule cron.Schedule, refTime time.Time) time.Time {
	var prev time.Time
	for i := 1; i <= 366*24; i++ {
		candidate := schedule.Next(refTime.Add(-time.Duration(i) * time.Hour))
		if candidate.After(refTime) {
			continue
		}
		prev = candidate
		break
	}
	if prev.IsZero() {
		return prev
	}
	for {
		next := schedule.Next(prev)
		if next.After(refTime) {
			return prev
		}
		prev = next
	}
}
