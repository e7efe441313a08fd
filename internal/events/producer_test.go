package events

import (
	"bytes"
	"context"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("producer", Ordered, func() {
	Context("write", func() {
		It("writes successfully", func() {
			w := newTestWriter()
			kp := NewEventProducer(w)

			err := kp.Write(context.TODO(), JobMessageKind, bytes.NewReader([]byte("msg1")))
			Expect(err).To(BeNil())

			err = kp.Write(context.TODO(), DeploymentMessageKind, bytes.NewReader([]byte("msg2")))
			Expect(err).To(BeNil())

			Eventually(w.Len, "2s", "10ms").Should(Equal(2))
			Expect(w.Message(0).Context.GetType()).To(Equal(JobMessageKind))
			Expect(w.Message(1).Context.GetType()).To(Equal(DeploymentMessageKind))

			kp.Close()
		})

		It("keeps consuming after draining the buffer", func() {
			w := newTestWriter()
			kp := NewEventProducer(w, WithOutputTopic("custom.topic"))

			err := kp.Write(context.TODO(), JobMessageKind, bytes.NewReader([]byte("first")))
			Expect(err).To(BeNil())
			Eventually(w.Len, "2s", "10ms").Should(Equal(1))

			<-time.After(50 * time.Millisecond)

			err = kp.Write(context.TODO(), JobMessageKind, bytes.NewReader([]byte("second")))
			Expect(err).To(BeNil())
			Eventually(w.Len, "2s", "10ms").Should(Equal(2))
			Expect(w.Topic(1)).To(Equal("custom.topic"))

			kp.Close()
		})

		It("delivers every message under concurrent writers", func() {
			w := newTestWriter()
			kp := NewEventProducer(w)

			const writers, perWriter = 8, 25
			var wg sync.WaitGroup
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for j := 0; j < perWriter; j++ {
						Expect(kp.Write(context.TODO(), JobMessageKind, bytes.NewReader([]byte("msg")))).To(Succeed())
					}
				}()
			}
			wg.Wait()

			Eventually(w.Len, "5s", "10ms").Should(Equal(writers * perWriter))
			kp.Close()
		})
	})
})

type testwriter struct {
	mu       sync.Mutex
	messages []cloudevents.Event
	topics   []string
}

func newTestWriter() *testwriter {
	return &testwriter{}
}

func (t *testwriter) Write(ctx context.Context, topic string, e cloudevents.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, e)
	t.topics = append(t.topics, topic)
	return nil
}

func (t *testwriter) Close(_ context.Context) error {
	return nil
}

func (t *testwriter) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}

func (t *testwriter) Message(i int) cloudevents.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.messages[i]
}

func (t *testwriter) Topic(i int) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.topics[i]
}
