package ingest_test

import (
	"context"
	"io"
	"log/slog"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	amqp "github.com/rabbitmq/amqp091-go"
	"gorm.io/gorm"

	"stratolab.dev/sondetrack/internal/ingest"
	"stratolab.dev/sondetrack/internal/store"
	"stratolab.dev/sondetrack/pkg/mq"
)

// fakeAcknowledger records ack/nack decisions made by the consumer.
type fakeAcknowledger struct {
	acks    int
	nacks   int
	requeue bool
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error { f.acks++; return nil }

func (f *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	f.nacks++
	f.requeue = requeue
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error { return nil }

// fakeClient satisfies the queue client interface without a broker.
type fakeClient struct {
	deliveries chan amqp.Delivery
	closed     bool
}

func (f *fakeClient) Push(ctx context.Context, data []byte) error       { return nil }
func (f *fakeClient) UnsafePush(ctx context.Context, data []byte) error { return nil }

func (f *fakeClient) Consume() (<-chan amqp.Delivery, error) { return f.deliveries, nil }

func (f *fakeClient) Close() error {
	f.closed = true
	close(f.deliveries)
	return nil
}

var _ mq.ClientInterface = (*fakeClient)(nil)

var _ = Describe("DecodeEnvelope", func() {
	It("decodes a receiver message", func() {
		env, err := ingest.DecodeEnvelope([]byte(
			`{"recv_ts":"2026-03-14T09:00:00Z","payload":"11951,C963BF,...","rssi_dbm":-72}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(env.ReceivedAt).To(Equal(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)))
		Expect(env.Payload).To(Equal("11951,C963BF,..."))
		Expect(env.RSSI).To(HaveValue(Equal(-72)))
	})

	It("leaves RSSI nil when the receiver omitted it", func() {
		env, err := ingest.DecodeEnvelope([]byte(
			`{"recv_ts":"2026-03-14T09:00:00Z","payload":"x"}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(env.RSSI).To(BeNil())
	})

	It("rejects an envelope without a receipt time", func() {
		_, err := ingest.DecodeEnvelope([]byte(`{"payload":"x"}`))
		Expect(err).To(MatchError(ContainSubstring("recv_ts")))
	})

	It("rejects malformed JSON", func() {
		_, err := ingest.DecodeEnvelope([]byte(`{`))
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Consumer", func() {
	var (
		ctx      context.Context
		db       *gorm.DB
		st       *store.Store
		consumer *ingest.Consumer
	)

	testLogger := slog.New(slog.NewTextHandler(io.Discard, nil))

	BeforeEach(func() {
		ctx = context.Background()
		db = newTestDB()
		st = store.New(db)

		var err error
		consumer, err = ingest.NewConsumer(&ingest.ConsumerConfig{
			Logger: testLogger,
			Store:  st,
			Client: &fakeClient{deliveries: make(chan amqp.Delivery, 1)},
		})
		Expect(err).NotTo(HaveOccurred())
	})

	deliver := func(body string) *fakeAcknowledger {
		ack := &fakeAcknowledger{}
		consumer.HandleDelivery(ctx, amqp.Delivery{
			Acknowledger: ack,
			Body:         []byte(body),
		})
		return ack
	}

	It("stores a valid envelope and acks it", func() {
		ack := deliver(`{"recv_ts":"2026-03-14T09:00:00Z","payload":"line one\nline two","rssi_dbm":-68}`)
		Expect(ack.acks).To(Equal(1))
		Expect(ack.nacks).To(BeZero())

		packets, err := st.UnconsumedPackets(ctx, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(packets).To(HaveLen(1))
		Expect(packets[0].Payload).To(Equal("line one\nline two"))
		Expect(packets[0].RSSI).To(HaveValue(Equal(-68)))
		Expect(packets[0].ReceivedAt).To(Equal(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)))
	})

	It("acks and drops a malformed envelope", func() {
		ack := deliver(`not json`)
		Expect(ack.acks).To(Equal(1))
		Expect(ack.nacks).To(BeZero())

		packets, err := st.UnconsumedPackets(ctx, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(packets).To(BeEmpty())
	})

	It("nacks for redelivery when storage fails", func() {
		sqlDB, err := db.DB()
		Expect(err).NotTo(HaveOccurred())
		Expect(sqlDB.Close()).To(Succeed())

		ack := deliver(`{"recv_ts":"2026-03-14T09:00:00Z","payload":"x"}`)
		Expect(ack.acks).To(BeZero())
		Expect(ack.nacks).To(Equal(1))
		Expect(ack.requeue).To(BeTrue())
	})

	Describe("configuration", func() {
		It("requires a broker URL when no client is injected", func() {
			_, err := ingest.NewConsumer(&ingest.ConsumerConfig{
				Logger: testLogger,
				Store:  st,
			})
			Expect(err).To(MatchError(ContainSubstring("rabbitmq URL")))
		})

		It("requires a queue name when no client is injected", func() {
			_, err := ingest.NewConsumer(&ingest.ConsumerConfig{
				Logger:      testLogger,
				Store:       st,
				RabbitMQURL: "amqp://localhost:5672",
			})
			Expect(err).To(MatchError(ContainSubstring("queue name")))
		})
	})
})
