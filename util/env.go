package util

import (
	"os"
	"strconv"
	"strings"
	"time"
)

func GetenvString(key string, fallback string) string {
	v, present := os.LookupEnv(key)
	if !present || len(v) == 0 {
		return fallback
	}
	return v
}

func GetenvInt(key string, fallback int) int {
	v, present := os.LookupEnv(key)
	if !present {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return n
}

func GetenvUint64(key string, fallback uint64) uint64 {
	v, present := os.LookupEnv(key)
	if !present {
		return fallback
	}
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func GetenvFloat(key string, fallback float64) float64 {
	v, present := os.LookupEnv(key)
	if !present {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return fallback
	}
	return f
}

func GetenvBool(key string, fallback bool) bool {
	v, present := os.LookupEnv(key)
	if !present {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return b
}

// GetenvDurationMs reads a millisecond count.
func GetenvDurationMs(key string, fallback time.Duration) time.Duration {
	v, present := os.LookupEnv(key)
	if !present {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return fallback
	}
	return time.Duration(n) * time.Millisecond
}

// GetenvUrls splits a comma separated list, dropping blanks.
func GetenvUrls(key string) []string {
	v, present := os.LookupEnv(key)
	if !present {
		return nil
	}
	parts := strings.Split(v, ",")
	list := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if len(p) == 0 {
			continue
		}
		list = append(list, p)
	}
	return list
}
