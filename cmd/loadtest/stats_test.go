package main

import (
	"bytes"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestPercentile(t *testing.T) {
	sorted := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	tests := []struct {
		p    float64
		want time.Duration
	}{
		{50, 5},
		{90, 9},
		{99, 10},
		{0, 1},
	}
	for _, tt := range tests {
		if got := percentile(sorted, tt.p); got != tt.want {
			t.Errorf("percentile(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}
	if got := percentile(nil, 50); got != 0 {
		t.Errorf("percentile(nil) = %v, want 0", got)
	}
}

func TestStatsPrint(t *testing.T) {
	s := NewStats(3)
	s.Record(0, 10*time.Millisecond, http.StatusOK, nil)
	s.Record(0, 20*time.Millisecond, http.StatusOK, nil)
	s.Record(1, 30*time.Millisecond, http.StatusOK, nil)
	s.Record(1, 0, http.StatusBadRequest, nil)
	s.Record(2, 0, 0, errors.New("refused"))
	s.Exhausted()

	var buf bytes.Buffer
	if ok := s.Print(&buf, time.Second); !ok {
		t.Fatal("Print reported no completed requests")
	}
	out := buf.String()
	for _, want := range []string{"Page requests:   5", "Transport errs:  1", "Walks exhausted: 1", "  400: 1", "  200: 3"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestStatsPrint_NothingCompleted(t *testing.T) {
	var buf bytes.Buffer
	if NewStats(1).Print(&buf, time.Second) {
		t.Error("Print reported success with no requests")
	}
}
