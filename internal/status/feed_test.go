package status

import (
	"fmt"
	"testing"
	"time"
)

func recvUpdate(t *testing.T, ch <-chan Update) Update {
	t.Helper()
	select {
	case u, ok := <-ch:
		if !ok {
			t.Fatal("update channel closed")
		}
		return u
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for update")
	}
	return Update{}
}

func TestFeed_PublishReachesAllSubscribers(t *testing.T) {
	t.Parallel()
	feed := NewFeed()
	t.Cleanup(feed.Close)

	first, cancelFirst := feed.Subscribe()
	t.Cleanup(cancelFirst)
	second, cancelSecond := feed.Subscribe()
	t.Cleanup(cancelSecond)

	feed.Publish(SeverityActive, "listening on side A")

	for _, ch := range []<-chan Update{first, second} {
		u := recvUpdate(t, ch)
		if u.Severity != SeverityActive || u.Message != "listening on side A" {
			t.Fatalf("unexpected update: %+v", u)
		}
		if u.At.IsZero() {
			t.Fatal("update missing timestamp")
		}
	}
}

func TestFeed_ReplaysLatestOnSubscribe(t *testing.T) {
	t.Parallel()
	feed := NewFeed()
	t.Cleanup(feed.Close)

	feed.Publish(SeverityInfo, "engine starting")
	feed.Publish(SeverityActive, "listening on side A")

	ch, cancel := feed.Subscribe()
	t.Cleanup(cancel)

	u := recvUpdate(t, ch)
	if u.Message != "listening on side A" {
		t.Fatalf("replayed %q, want the latest update", u.Message)
	}
}

func TestFeed_SlowSubscriberLosesUpdates(t *testing.T) {
	t.Parallel()
	feed := NewFeed()
	t.Cleanup(feed.Close)

	ch, cancel := feed.Subscribe()
	t.Cleanup(cancel)

	total := subscriberBuffer + 10
	for i := range total {
		feed.Publish(SeverityInfo, fmt.Sprintf("update %d", i))
	}

	var got []Update
drain:
	for {
		select {
		case u := <-ch:
			got = append(got, u)
		default:
			break drain
		}
	}
	if len(got) != subscriberBuffer {
		t.Fatalf("buffered %d updates, want %d", len(got), subscriberBuffer)
	}
	if first := got[0].Message; first != "update 0" {
		t.Fatalf("first buffered update = %q, want %q", first, "update 0")
	}
	if last := got[len(got)-1].Message; last != fmt.Sprintf("update %d", subscriberBuffer-1) {
		t.Fatalf("last buffered update = %q; overflow should drop the newest", last)
	}
}

func TestFeed_CancelClosesChannel(t *testing.T) {
	t.Parallel()
	feed := NewFeed()
	t.Cleanup(feed.Close)

	ch, cancel := feed.Subscribe()
	cancel()

	if _, ok := <-ch; ok {
		t.Fatal("channel still open after cancel")
	}
	if n := feed.Subscribers(); n != 0 {
		t.Fatalf("Subscribers = %d after cancel, want 0", n)
	}

	cancel() // second call must be harmless
	feed.Publish(SeverityInfo, "nobody listening")
}

func TestFeed_CloseClosesAllSubscribers(t *testing.T) {
	t.Parallel()
	feed := NewFeed()

	first, cancelFirst := feed.Subscribe()
	t.Cleanup(cancelFirst)
	second, cancelSecond := feed.Subscribe()
	t.Cleanup(cancelSecond)

	feed.Close()

	for _, ch := range []<-chan Update{first, second} {
		if _, ok := <-ch; ok {
			t.Fatal("channel still open after Close")
		}
	}

	feed.Publish(SeverityInfo, "after close")

	ch, cancel := feed.Subscribe()
	defer cancel()
	if _, ok := <-ch; ok {
		t.Fatal("Subscribe after Close returned an open channel")
	}
}

func TestFeed_Publishf(t *testing.T) {
	t.Parallel()
	feed := NewFeed()
	t.Cleanup(feed.Close)

	ch, cancel := feed.Subscribe()
	t.Cleanup(cancel)

	feed.Publishf(SeverityProcessing, "spoke chunk %d/%d", 2, 3)

	u := recvUpdate(t, ch)
	if u.Message != "spoke chunk 2/3" {
		t.Fatalf("message = %q", u.Message)
	}
	if u.Severity != SeverityProcessing {
		t.Fatalf("severity = %q", u.Severity)
	}
}
