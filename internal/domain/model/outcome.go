package model

import "time"

type Outcome string

const (
	OutcomeSuccess        Outcome = "SUCCESS"
	OutcomeLoginFailed    Outcome = "LOGIN_FAILED"
	OutcomeActivityFailed Outcome = "ACTIVITY_FAILED"
)

// AccountResult is the terminal report of one account pipeline.
type AccountResult struct {
	Label        string
	Outcome      Outcome
	TasksClaimed int
	Balance      string
	Detail       string
	Elapsed      time.Duration
}

func (r AccountResult) Succeeded() bool { return r.Outcome == OutcomeSuccess }
