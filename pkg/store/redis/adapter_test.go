package redis

import (
	"strings"
	"testing"
	"time"
)

func TestNewAdapter_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"empty url", Config{}, "URL is required"},
		{"bad scheme", Config{URL: "invalid://url"}, "parse URL"},
		{"unreachable", Config{URL: "redis://localhost:9999/0", DialTimeout: 500 * time.Millisecond}, "ping localhost:9999"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAdapter(tt.cfg, nil)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("NewAdapter() error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}
