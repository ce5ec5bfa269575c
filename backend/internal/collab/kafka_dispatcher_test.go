package collab

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockProducer(t *testing.T) *mocks.SyncProducer {
	cfg := sarama.NewConfig()
	// SyncProducer 必须开启 Return.Successes
	cfg.Producer.Return.Successes = true
	return mocks.NewSyncProducer(t, cfg)
}

func TestKafkaDispatcher_SendsEvent(t *testing.T) {
	producer := newMockProducer(t)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var evt DocOpEvent
		if err := json.Unmarshal(val, &evt); err != nil {
			return err
		}
		if evt.DocID != "doc-1" || evt.Revision != 3 {
			return errors.New("unexpected event payload")
		}
		return nil
	})

	d := NewKafkaDispatcher(producer, "doc-ops", NewSemaphoreControl(2), KafkaDispatcherOptions{
		QueueSize: 4,
		Workers:   1,
	})
	require.NoError(t, d.Enqueue(context.Background(), DocOpEvent{EventType: EventOpApplied, DocID: "doc-1", Revision: 3}))
	d.Close()
	require.NoError(t, producer.Close())
}

func TestKafkaDispatcher_RetriesThenDrops(t *testing.T) {
	producer := newMockProducer(t)
	sendErr := errors.New("broker unavailable")
	producer.ExpectSendMessageAndFail(sendErr)
	producer.ExpectSendMessageAndFail(sendErr)
	producer.ExpectSendMessageAndFail(sendErr)

	var dropped atomic.Int32
	d := NewKafkaDispatcher(producer, "doc-ops", nil, KafkaDispatcherOptions{
		QueueSize:   1,
		Workers:     1,
		MaxRetry:    2,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  2 * time.Millisecond,
		OnDrop: func(evt DocOpEvent, err error) {
			assert.ErrorIs(t, err, sendErr)
			dropped.Add(1)
		},
	})
	require.NoError(t, d.Enqueue(context.Background(), DocOpEvent{DocID: "doc-1"}))
	d.Close()

	assert.Equal(t, int32(1), dropped.Load())
	require.NoError(t, producer.Close())
}

func TestKafkaDispatcher_RetrySucceeds(t *testing.T) {
	producer := newMockProducer(t)
	producer.ExpectSendMessageAndFail(errors.New("transient"))
	producer.ExpectSendMessageAndSucceed()

	d := NewKafkaDispatcher(producer, "doc-ops", nil, KafkaDispatcherOptions{
		QueueSize:   1,
		Workers:     1,
		MaxRetry:    3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  time.Millisecond,
		OnDrop: func(evt DocOpEvent, err error) {
			t.Errorf("event dropped: %v", err)
		},
	})
	require.NoError(t, d.Enqueue(context.Background(), DocOpEvent{DocID: "doc-1"}))
	d.Close()
	require.NoError(t, producer.Close())
}

func TestKafkaDispatcher_EnqueueHonorsContext(t *testing.T) {
	// 没有 producer 时事件被直接吞掉；worker 卡在信号量上，让队列保持满
	sem := NewSemaphoreControl(1)
	require.NoError(t, sem.Acquire(context.Background()))

	d := NewKafkaDispatcher(nil, "", sem, KafkaDispatcherOptions{QueueSize: 1, Workers: 1})
	require.NoError(t, d.Enqueue(context.Background(), DocOpEvent{DocID: "a"})) // worker 取走后阻塞
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, d.Enqueue(context.Background(), DocOpEvent{DocID: "b"})) // 占满队列

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := d.Enqueue(ctx, DocOpEvent{DocID: "c"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, sem.Release())
	d.Close()
}

func TestKafkaDispatcher_EnqueueAfterClose(t *testing.T) {
	d := NewKafkaDispatcher(nil, "", NewSemaphoreControl(1), KafkaDispatcherOptions{QueueSize: 1, Workers: 1})
	d.Close()
	d.Close()

	err := d.Enqueue(context.Background(), DocOpEvent{DocID: "a"})
	assert.ErrorIs(t, err, ErrDispatcherClosed)

	// 关闭后到达的编辑照常生效，只是事件不再投递
	svc := NewInMemoryService(ServiceOptions{Events: d})
	_, err = svc.OpenDocument(context.Background(), "doc", "")
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		op, err := svc.Insert(context.Background(), "doc", 1, "x", 0)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), op.Revision)
	})
}

func TestKafkaDispatcher_CloseWakesBlockedEnqueue(t *testing.T) {
	sem := NewSemaphoreControl(1)
	require.NoError(t, sem.Acquire(context.Background()))

	d := NewKafkaDispatcher(nil, "", sem, KafkaDispatcherOptions{QueueSize: 1, Workers: 1})
	require.NoError(t, d.Enqueue(context.Background(), DocOpEvent{DocID: "a"}))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, d.Enqueue(context.Background(), DocOpEvent{DocID: "b"}))

	errCh := make(chan error, 1)
	go func() { errCh <- d.Enqueue(context.Background(), DocOpEvent{DocID: "c"}) }()
	time.Sleep(10 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		d.Close()
		close(done)
	}()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrDispatcherClosed)
	case <-time.After(time.Second):
		t.Fatal("blocked Enqueue was not released by Close")
	}

	require.NoError(t, sem.Release())
	<-done
}

func TestKafkaDispatcher_Backoff(t *testing.T) {
	d := &KafkaDispatcher{baseBackoff: 50 * time.Millisecond, maxBackoff: time.Second}
	assert.Equal(t, 50*time.Millisecond, d.backoff(0))
	assert.Equal(t, 200*time.Millisecond, d.backoff(2))
	assert.Equal(t, time.Second, d.backoff(10))
}
