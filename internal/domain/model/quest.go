package model

type QuestProgress struct {
	Claimed bool   `json:"claimed"`
	Status  string `json:"status,omitempty"`
}

type Quest struct {
	ID       string        `json:"_id"`
	Title    string        `json:"title"`
	Progress QuestProgress `json:"progress"`
}

func (q Quest) Claimed() bool { return q.Progress.Claimed }
