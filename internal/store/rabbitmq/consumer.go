package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler processes one message body. A returned error triggers a retry unless
// it wraps ErrPermanent.
type Handler func(ctx context.Context, body []byte) error

// ConsumerOptions tunes a Consumer.
type ConsumerOptions struct {
	Concurrency int
	MaxRetries  int
	RetryDelay  time.Duration
}

// Consumer drains a queue with a bounded worker pool.
type Consumer struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
	opts  ConsumerOptions

	pubMu sync.Mutex
}

var ErrDeliveryClosed = errors.New("delivery channel closed")

// ErrPermanent marks handler errors that no retry can fix. Such deliveries go
// straight to the dead letter queue.
var ErrPermanent = errors.New("permanent failure")

// Permanent wraps err so the consumer dead-letters the delivery without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// shouldDeadLetter reports whether a failed delivery is given up on.
func shouldDeadLetter(err error, attempt, maxRetries int) bool {
	return errors.Is(err, ErrPermanent) || attempt >= maxRetries
}

func NewConsumer(url, queue string, opts ConsumerOptions) (*Consumer, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Second
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := declareTopology(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	//  strict concurrency control
	if err := ch.Qos(opts.Concurrency, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	return &Consumer{conn: conn, ch: ch, queue: queue, opts: opts}, nil
}

func (c *Consumer) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Run consumes until ctx is cancelled or the broker closes the delivery channel.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	msgs, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	log.Printf("[worker] consuming queue=%s concurrency=%d", c.queue, c.opts.Concurrency)

	jobs := make(chan amqp.Delivery, c.opts.Concurrency*2)
	// 已取出的消息在退出前处理完
	workCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	wg.Add(c.opts.Concurrency)
	for i := 0; i < c.opts.Concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				c.process(workCtx, workerID, d, handle)
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Printf("[worker] shutting down")
			close(jobs)
			wg.Wait()
			return nil

		case d, ok := <-msgs:
			if !ok {
				close(jobs)
				wg.Wait()
				return ErrDeliveryClosed
			}
			jobs <- d
		}
	}
}

func (c *Consumer) process(ctx context.Context, workerID int, d amqp.Delivery, handle Handler) {
	start := time.Now()
	err := handle(ctx, d.Body)
	if err == nil {
		if ackErr := d.Ack(false); ackErr != nil {
			log.Printf("[worker] worker=%d ack failed err=%v", workerID, ackErr)
		}
		return
	}

	attempt := retryCount(d.Headers)
	if shouldDeadLetter(err, attempt, c.opts.MaxRetries) {
		log.Printf("[worker] worker=%d dead-lettering after %d retries cost=%s err=%v", workerID, attempt, time.Since(start), err)
		_ = d.Nack(false, false) // -> DLQ
		return
	}

	if pubErr := c.retry(ctx, d, attempt+1); pubErr != nil {
		log.Printf("[worker] worker=%d retry publish failed err=%v", workerID, pubErr)
		_ = d.Nack(false, false)
		return
	}
	log.Printf("[worker] worker=%d scheduled retry=%d err=%v", workerID, attempt+1, err)
	_ = d.Ack(false)
}

func (c *Consumer) retry(ctx context.Context, d amqp.Delivery, attempt int) error {
	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[retryHeader] = int32(attempt)

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	return c.ch.PublishWithContext(cctx,
		"",
		retryQueue(c.queue),
		false,
		false,
		amqp.Publishing{
			ContentType:  d.ContentType,
			DeliveryMode: amqp.Persistent,
			Body:         d.Body,
			Headers:      headers,
			Expiration:   strconv.FormatInt(c.opts.RetryDelay.Milliseconds(), 10),
			Timestamp:    time.Now(),
		},
	)
}
