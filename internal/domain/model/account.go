package model

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// AccountCredential is one line of the account list: the opaque auth payload
// plus a label used for the token cache and log lines.
type AccountCredential struct {
	Label       string
	AuthPayload string
}

type telegramUser struct {
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	ID        int64  `json:"id"`
}

// NewAccountCredential derives the label from the `user` parameter of a
// web-app init string, falling back to Account_<n>.
func NewAccountCredential(payload string, index int) AccountCredential {
	payload = strings.TrimSpace(payload)
	return AccountCredential{
		Label:       labelFromPayload(payload, index),
		AuthPayload: payload,
	}
}

func labelFromPayload(payload string, index int) string {
	fallback := fmt.Sprintf("Account_%d", index+1)
	values, err := url.ParseQuery(payload)
	if err != nil {
		return fallback
	}
	raw := values.Get("user")
	if raw == "" {
		return fallback
	}
	var user telegramUser
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return fallback
	}
	switch {
	case strings.TrimSpace(user.Username) != "":
		return user.Username
	case user.ID != 0:
		return fmt.Sprintf("%d", user.ID)
	default:
		return fallback
	}
}
