package session

import (
	"context"
	"testing"
)

func TestRegistry_CancelAllCancelsTracked(t *testing.T) {
	r := NewRegistry()

	ctx1, release1 := r.Track(context.Background())
	defer release1()
	ctx2, release2 := r.Track(context.Background())
	defer release2()

	if r.Active() != 2 {
		t.Fatalf("expected 2 active sessions, got %d", r.Active())
	}

	r.CancelAll()

	for i, ctx := range []context.Context{ctx1, ctx2} {
		select {
		case <-ctx.Done():
		default:
			t.Errorf("session %d not canceled", i)
		}
	}
	if !r.Canceled() {
		t.Error("expected registry to report canceled")
	}
}

func TestRegistry_TrackAfterCancel(t *testing.T) {
	r := NewRegistry()
	r.CancelAll()

	ctx, release := r.Track(context.Background())
	defer release()

	if ctx.Err() == nil {
		t.Error("expected new session to be canceled immediately")
	}

	r.Reset()
	ctx, release2 := r.Track(context.Background())
	defer release2()
	if ctx.Err() != nil {
		t.Error("expected session after Reset to be live")
	}
}

func TestRegistry_ReleaseRemoves(t *testing.T) {
	r := NewRegistry()
	_, release := r.Track(context.Background())
	release()

	if r.Active() != 0 {
		t.Errorf("expected 0 active sessions, got %d", r.Active())
	}
}
