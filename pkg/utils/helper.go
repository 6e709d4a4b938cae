package utils

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/google/go-querystring/query"
)

func EncodeURLParams(params interface{}) (string, error) {
	v, err := query.Values(params)
	if err != nil {
		return "", fmt.Errorf("failed to encode url param: %w", err)
	}
	return v.Encode(), nil
}

func BeautifyJSON(data []byte) string {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return string(data)
	}
	pretty, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return string(data)
	}
	return string(pretty)
}

// RandomDuration returns a uniformly distributed duration in [min, max].
func RandomDuration(min, max time.Duration) time.Duration {
	if max < min {
		max = min
	}
	if min < 0 {
		min = 0
	}
	if min == max {
		return min
	}
	delta := int64(max-min) + 1
	val, err := rand.Int(rand.Reader, big.NewInt(delta))
	if err != nil {
		return min
	}
	return min + time.Duration(val.Int64())
}

func Seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
