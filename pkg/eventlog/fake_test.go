package eventlog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFakePublishConsumeOrder(t *testing.T) {
	f := NewFake()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, f.Publish(ctx, Record{Topic: "chat-events", Key: "c1", Value: []byte("1")}))
	require.NoError(t, f.Publish(ctx, Record{Topic: "chat-events", Key: "c1", Value: []byte("2")}))
	require.NoError(t, f.Publish(ctx, Record{Topic: "chat-events", Key: "c1", Value: []byte("3")}))

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})

	go func() {
		_ = f.Consume(ctx, []string{"chat-events"}, func(_ context.Context, rec Record) error {
			mu.Lock()
			got = append(got, string(rec.Value))
			if len(got) == 3 {
				close(done)
			}
			mu.Unlock()
			return nil
		})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for consume")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"1", "2", "3"}, got)
}

func TestFakeRequeueOnHandlerError(t *testing.T) {
	f := NewFake()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, f.Publish(ctx, Record{Topic: "t", Value: []byte("x")}))

	var attempts int
	done := make(chan struct{})
	go func() {
		_ = f.Consume(ctx, []string{"t"}, func(_ context.Context, rec Record) error {
			attempts++
			if attempts < 2 {
				return assertError{}
			}
			close(done)
			return nil
		})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for redelivery")
	}
	require.Equal(t, 2, attempts)
}

type assertError struct{}

func (assertError) Error() string { return "boom" }
