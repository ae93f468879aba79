package application

import (
	"context"
	"errors"
	"testing"

	"github.com/jobrunner/fieldtally/internal/domain"
)

func TestNextProgress(t *testing.T) {
	tests := []struct {
		counter, total int64
		want           int
	}{
		{0, 100, 0},
		{1, 3, 33},
		{2, 3, 66},
		{50, 100, 50},
		{100, 100, 100},
		{150, 100, 100},
		{5, 0, 0},
		{-1, 10, 0},
	}

	for _, tt := range tests {
		if got := NextProgress(tt.counter, tt.total); got != tt.want {
			t.Errorf("NextProgress(%d, %d) = %d, want %d", tt.counter, tt.total, got, tt.want)
		}
	}
}

func TestCrossesMultiple(t *testing.T) {
	tests := []struct {
		start, n, every int64
		want            bool
	}{
		{0, 1, 10, true},
		{1, 9, 10, false},
		{9, 1, 10, false},
		{10, 1, 10, true},
		{5, 10, 10, true},
		{11, 5, 10, false},
	}

	for _, tt := range tests {
		if got := crossesMultiple(tt.start, tt.n, tt.every); got != tt.want {
			t.Errorf("crossesMultiple(%d, %d, %d) = %v, want %v", tt.start, tt.n, tt.every, got, tt.want)
		}
	}
}

func TestProgressTrackerDefaults(t *testing.T) {
	fb := &recordingFeedback{}
	p := newProgressTracker(context.Background(), fb, 30_000, 0, 0)

	for i := 0; i < 30_000; i++ {
		if err := p.advance(1); err != nil {
			t.Fatalf("advance() error = %v", err)
		}
	}

	want := []int{0, 33, 66}
	if len(fb.progress) != len(want) {
		t.Fatalf("progress = %v, want %v", fb.progress, want)
	}
	for i := range want {
		if fb.progress[i] != want[i] {
			t.Errorf("progress[%d] = %d, want %d", i, fb.progress[i], want[i])
		}
	}
	if len(fb.messages) != 1 {
		t.Errorf("messages = %v, want one at pair 0", fb.messages)
	}
}

func TestProgressTrackerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newProgressTracker(ctx, &recordingFeedback{}, 10, 5, 100)
	err := p.advance(1)
	if !errors.Is(err, domain.ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err should wrap context.Canceled")
	}
}

func TestProgressTrackerPollsOnlyAtBoundaries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := newProgressTracker(ctx, &recordingFeedback{}, 10, 5, 100)

	if err := p.advance(1); err != nil {
		t.Fatalf("advance() error = %v", err)
	}
	cancel()
	for i := 0; i < 3; i++ {
		if err := p.advance(1); err != nil {
			t.Fatalf("advance() before boundary error = %v", err)
		}
	}
	if err := p.advance(1); err != nil {
		t.Fatalf("advance() error = %v", err)
	}
	if err := p.advance(1); !errors.Is(err, domain.ErrCancelled) {
		t.Errorf("err at boundary = %v, want ErrCancelled", err)
	}
}
