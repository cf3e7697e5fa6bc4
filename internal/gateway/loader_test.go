package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Damil001/pinata-image-api-sub000/internal/media"
)

const otherHash = "QmbWqxBEKC3P8tqsKc98xmWNzrzDtRLMiMPL8wBuTGsMnR"

func waitStatus(t *testing.T, l *Loader, want Status) State {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st := l.State(); st.Status == want {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("loader never reached status %q (last: %q)", want, l.State().Status)
	return State{}
}

func TestLoaderEmptyHashStaysIdle(t *testing.T) {
	l := NewLoader(New(nil, time.Second))
	l.resolve = func(context.Context, string, media.Kind) (string, error) {
		t.Error("resolve must not be called for an empty hash")
		return "", nil
	}

	l.Set(context.Background(), "", media.KindImage, "")

	if st := l.State(); st.Status != StatusIdle {
		t.Errorf("got status %q, want idle", st.Status)
	}
}

func TestLoaderThumbnailSkipsProbing(t *testing.T) {
	l := NewLoader(New(nil, time.Second))
	l.resolve = func(context.Context, string, media.Kind) (string, error) {
		t.Error("resolve must not be called when a thumbnail URL is supplied")
		return "", nil
	}

	l.Set(context.Background(), testHash, media.KindPDF, "https://gw.example/thumb")

	st := l.State()
	if st.Status != StatusLoaded || st.URL != "https://gw.example/thumb" {
		t.Errorf("got %+v, want loaded with thumbnail URL", st)
	}
}

func TestLoaderStaleProbeDiscarded(t *testing.T) {
	release := make(chan struct{})
	l := NewLoader(New(nil, time.Second))
	l.resolve = func(_ context.Context, hash string, _ media.Kind) (string, error) {
		if hash == testHash {
			<-release // first target resolves late
			return "https://stale.example/" + hash, nil
		}
		return "https://fresh.example/" + hash, nil
	}

	l.Set(context.Background(), testHash, media.KindImage, "")
	l.Set(context.Background(), otherHash, media.KindImage, "")

	st := waitStatus(t, l, StatusLoaded)
	if st.URL != "https://fresh.example/"+otherHash {
		t.Fatalf("got %q, want fresh URL", st.URL)
	}

	// Let the stale probe finish; it must not overwrite newer state.
	close(release)
	time.Sleep(50 * time.Millisecond)
	if st := l.State(); st.URL != "https://fresh.example/"+otherHash {
		t.Errorf("stale probe overwrote state: %q", st.URL)
	}
}

func TestLoaderRetryFromFailed(t *testing.T) {
	var calls int
	l := NewLoader(New(nil, time.Second))
	l.resolve = func(_ context.Context, hash string, _ media.Kind) (string, error) {
		calls++
		if calls == 1 {
			return "", ErrExhausted
		}
		return "https://gw.example/" + hash, nil
	}

	l.Set(context.Background(), testHash, media.KindImage, "")
	waitStatus(t, l, StatusFailed)

	l.Retry(context.Background())
	st := waitStatus(t, l, StatusLoaded)
	if st.URL != "https://gw.example/"+testHash {
		t.Errorf("got %q after retry", st.URL)
	}
}

func TestLoaderRetryIgnoredUnlessFailed(t *testing.T) {
	l := NewLoader(New(nil, time.Second))
	l.resolve = func(context.Context, string, media.Kind) (string, error) {
		return "", errors.New("unused")
	}

	// Idle: retry is a no-op.
	l.Retry(context.Background())
	if st := l.State(); st.Status != StatusIdle {
		t.Errorf("retry from idle changed status to %q", st.Status)
	}
}
