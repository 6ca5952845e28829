// Package feed pushes newly recorded attendance to live dashboard viewers and
// keeps the "recently seen" buffer replayed to viewers on page load.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"classroll/internal/attendance"
	"classroll/internal/metrics"
)

// EventName is the event-stream event type of each pushed record.
const EventName = "new_attendance"

// ErrSubscriptionClosed is returned by Serve when the broker ends the subscription.
var ErrSubscriptionClosed = errors.New("feed subscription closed")

// Options configures a Feed.
type Options struct {
	Topic     string
	SeenKey   string
	SeenLimit int
	Retry     int
	// Mask lists public fields to leave out of published records.
	Mask     []string
	Location *time.Location
}

// Record is the public view of one attendance. Fields encode in declaration
// order and masked ones are left out. The internal id and phone number have
// no field and are never published.
type Record struct {
	RegNum      string           `json:"reg_num,omitempty"`
	Firstname   string           `json:"firstname,omitempty"`
	Lastname    string           `json:"lastname,omitempty"`
	Department  string           `json:"department,omitempty"`
	Level       attendance.Level `json:"level,omitempty"`
	ArrivalTime string           `json:"arrival_time"`
}

// Feed publishes attendance records and serves them to viewers.
type Feed struct {
	broker Broker
	opts   Options
	mask   map[string]bool
}

// New creates a feed over broker.
func New(broker Broker, opts Options) *Feed {
	if opts.Topic == "" {
		opts.Topic = "attendance-update"
	}
	if opts.SeenKey == "" {
		opts.SeenKey = "seen"
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	mask := make(map[string]bool, len(opts.Mask))
	for _, f := range opts.Mask {
		mask[f] = true
	}
	return &Feed{broker: broker, opts: opts, mask: mask}
}

var _ attendance.Notifier = (*Feed)(nil)

// Record builds the public view of att for st.
func (f *Feed) Record(st attendance.Student, att attendance.Attendance) Record {
	rec := Record{
		RegNum:      st.RegNum,
		Firstname:   st.Firstname,
		Lastname:    st.Lastname,
		Department:  st.Department,
		Level:       st.Level,
		ArrivalTime: att.ArrivalTime.In(f.opts.Location).Format("15 : 04"),
	}
	if f.mask["reg_num"] {
		rec.RegNum = ""
	}
	if f.mask["firstname"] {
		rec.Firstname = ""
	}
	if f.mask["lastname"] {
		rec.Lastname = ""
	}
	if f.mask["department"] {
		rec.Department = ""
	}
	if f.mask["level"] {
		rec.Level = 0
	}
	return rec
}

// Publish broadcasts the record to live viewers and pushes it onto the seen
// buffer. Delivery is fire and forget.
func (f *Feed) Publish(ctx context.Context, st attendance.Student, att attendance.Attendance) error {
	payload, err := json.Marshal(f.Record(st, att))
	if err != nil {
		return err
	}
	pubErr := f.broker.Publish(ctx, f.opts.Topic, payload)
	if pubErr == nil {
		metrics.FeedPublished.Inc()
	}
	return errors.Join(pubErr, f.broker.Push(ctx, f.opts.SeenKey, payload, f.opts.SeenLimit))
}

// Snapshot returns the seen buffer, most recent first.
func (f *Feed) Snapshot(ctx context.Context) ([]Record, error) {
	items, err := f.broker.Range(ctx, f.opts.SeenKey)
	if err != nil {
		return nil, err
	}
	recs := make([]Record, 0, len(items))
	for _, it := range items {
		var rec Record
		if err := json.Unmarshal(it, &rec); err != nil {
			log.Printf("skipping malformed seen record: %v", err)
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Invalidate drops the seen buffer.
func (f *Feed) Invalidate(ctx context.Context) error {
	return f.broker.Unlink(ctx, f.opts.SeenKey)
}

// Listener is a live subscription to the feed topic.
type Listener struct {
	feed *Feed
	sub  Subscription
}

// Listen subscribes to the feed topic. Callers must Close the listener.
func (f *Feed) Listen(ctx context.Context) (*Listener, error) {
	sub, err := f.broker.Subscribe(ctx, f.opts.Topic)
	if err != nil {
		return nil, err
	}
	metrics.FeedSubscribers.Inc()
	return &Listener{feed: f, sub: sub}, nil
}

// Close releases the subscription.
func (l *Listener) Close() error {
	metrics.FeedSubscribers.Dec()
	return l.sub.Close()
}

// Serve writes each published record to w as an event-stream frame until ctx
// ends, a write fails or the broker drops the subscription.
func (l *Listener) Serve(ctx context.Context, w io.Writer) error {
	flusher, _ := w.(http.Flusher)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-l.sub.Messages():
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return ErrSubscriptionClosed
			}
			if msg.Kind != KindMessage {
				continue
			}
			var rec Record
			if err := json.Unmarshal(msg.Payload, &rec); err != nil {
				log.Printf("skipping malformed feed message: %v", err)
				continue
			}
			data, _ := json.Marshal(rec)
			if _, err := w.Write(Frame(EventName, data, l.feed.opts.Retry)); err != nil {
				return err
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

// Healthy reports broker connectivity.
func (f *Feed) Healthy(ctx context.Context) bool { return f.broker.Healthy(ctx) }
