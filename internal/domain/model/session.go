package model

import "strings"

const unknownIP = "unknown"

type Session struct {
	Label          string
	AccIdx         int
	Proxy          string
	EgressIP       string
	LoginStatus    string
	ActivityStatus string
	TaskStatus     string
	TasksClaimed   int
	Balance        string
}

func NewSession(label string, index int) *Session {
	return &Session{
		Label:          label,
		AccIdx:         index,
		EgressIP:       unknownIP,
		LoginStatus:    "WAITING",
		ActivityStatus: "WAITING",
		TaskStatus:     "WAITING",
	}
}

func (s *Session) DisplayLabel() string {
	if s == nil {
		return "System"
	}
	if strings.TrimSpace(s.Label) != "" {
		return s.Label
	}
	return "unknown"
}

func (s *Session) IP() string {
	if s == nil || strings.TrimSpace(s.EgressIP) == "" {
		return unknownIP
	}
	return s.EgressIP
}
