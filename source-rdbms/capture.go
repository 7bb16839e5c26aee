package main

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/logshipper/connectors/go/checkpoint"
	cerrors "github.com/logshipper/connectors/go/connector-errors"
	"github.com/logshipper/connectors/go/encrow"
	log "github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const (
	reconnectInitialDelay = time.Second
	reconnectMaxDelay     = time.Minute

	logSourceField = "log_source"
)

type captureState int

const (
	stateStartup captureState = iota
	stateConnected
	stateFetching
	stateIdle
	stateForwarding
	stateFailed
)

func (s captureState) String() string {
	switch s {
	case stateStartup:
		return "STARTUP"
	case stateConnected:
		return "CONNECTED"
	case stateFetching:
		return "FETCHING"
	case stateIdle:
		return "IDLE"
	case stateForwarding:
		return "FORWARDING"
	case stateFailed:
		return "FAILED"
	}
	return fmt.Sprintf("captureState(%d)", int(s))
}

// checkpointStore is implemented by *checkpoint.Store.
type checkpointStore interface {
	Load() (*checkpoint.Checkpoint, error)
	Persist(checkpoint.Checkpoint) error
}

// eventSink is implemented by *sink.Buffer.
type eventSink interface {
	Submit(ctx context.Context, payload []byte) error
}

// capture polls a table for new rows and forwards them as events, persisting
// its progress after every batch.
type capture struct {
	db         *databaseConfig
	logSource  string
	backoff    time.Duration
	store      checkpointStore
	sink       eventSink
	normalizer *normalizer
	connect    func(context.Context, *databaseConfig) (*session, error)
	sleep      func(context.Context, time.Duration) error

	session *session
	cursor  string
	state   captureState

	shape      *encrow.Shape // Event encoding of the most recent column set.
	shapeNames []string
}

func newCapture(cfg *Config, store checkpointStore, sink eventSink) *capture {
	return &capture{
		db:         &cfg.Database,
		logSource:  cfg.Connector.LogSource,
		backoff:    cfg.Connector.BackoffDuration.AsDuration(),
		store:      store,
		sink:       sink,
		normalizer: newNormalizer(cfg.Database.IPv4Fields, cfg.Database.IPv6Fields),
		connect:    connect,
		sleep:      sleepContext,
	}
}

func (c *capture) setState(state captureState) {
	if c.state != state {
		log.WithFields(log.Fields{"from": c.state.String(), "to": state.String()}).Trace("capture state")
		c.state = state
	}
}

// Run polls until ctx is cancelled or a fatal error occurs. Connection and
// query failures are fatal unless reconnect attempts are configured.
func (c *capture) Run(ctx context.Context) error {
	c.setState(stateStartup)
	defer c.closeSession()

	if err := c.loadCheckpoint(); err != nil {
		return c.fail(err)
	}

	var failures int
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var count, err = c.cycle(ctx)
		if err == nil {
			failures = 0
			if count == 0 {
				c.setState(stateIdle)
				log.WithField("backoff", c.backoff.String()).Info("no new rows, sleeping")
				if err := c.sleep(ctx, c.backoff); err != nil {
					return err
				}
			}
			continue
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.closeSession()
		if failures >= c.db.ReconnectAttempts || !isRecoverable(err) {
			return c.fail(err)
		}
		failures++
		var delay = reconnectDelay(failures)
		log.WithFields(log.Fields{
			"err":     err,
			"attempt": failures,
			"of":      c.db.ReconnectAttempts,
			"delay":   delay.String(),
		}).Warn("capture failed, will reconnect")
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
		reconnectsTotal.Inc()
	}
}

func (c *capture) fail(err error) error {
	c.setState(stateFailed)
	return err
}

// cycle polls once, connecting first if there is no session.
func (c *capture) cycle(ctx context.Context) (int, error) {
	if c.session == nil {
		var s, err = c.connect(ctx, c.db)
		if err != nil {
			return 0, err
		}
		c.session = s
		c.setState(stateConnected)
	}
	c.setState(stateFetching)
	return c.poll(ctx)
}

func (c *capture) loadCheckpoint() error {
	var cp, err = c.store.Load()
	if err != nil {
		return err
	} else if cp == nil {
		c.cursor = string(c.db.InitialValue)
		log.WithFields(log.Fields{"column": c.db.FieldName, "value": c.cursor}).Info("starting from initial cursor value")
		return nil
	} else if cp.CursorColumn != "" && cp.CursorColumn != c.db.FieldName {
		return cerrors.NewPersistenceError(fmt.Errorf("checkpoint tracks column %q but field_name is %q: remove the checkpoint to start over", cp.CursorColumn, c.db.FieldName))
	}
	c.cursor = cp.MarkerValue
	log.WithFields(log.Fields{"column": c.db.FieldName, "value": c.cursor}).Info("resuming from checkpoint")
	return nil
}

// poll fetches rows past the current cursor and forwards them. The checkpoint
// is persisted only once every event of the batch has been handed off, so a
// crash in between re-delivers the batch instead of losing it.
func (c *capture) poll(ctx context.Context) (int, error) {
	var query, err = renderQuery(c.db.Query, c.db.FieldName, c.cursor)
	if err != nil {
		return 0, cerrors.NewConfigError(err)
	}

	var fetchCtx = ctx
	if timeout := c.db.QueryTimeout.AsDuration(); timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	rs, err := fetch(fetchCtx, c.session.conn, query)
	if err != nil {
		return 0, err
	}
	pollsTotal.Inc()
	lastPollTimestamp.SetToCurrentTime()
	if len(rs.Rows) == 0 {
		return 0, nil
	}
	rowsFetchedTotal.Add(float64(len(rs.Rows)))
	c.setState(stateForwarding)

	var names = rs.names()
	var rows = make([]*orderedmap.OrderedMap[string, any], len(rs.Rows))
	for i, values := range rs.Rows {
		rows[i] = c.normalizer.normalizeRow(names, values)
	}
	next, err := c.nextCursor(names, rs.Rows[len(rs.Rows)-1], rows[len(rows)-1])
	if err != nil {
		return 0, err
	}

	if err := c.forward(ctx, rows); err != nil {
		return 0, err
	}
	if cursorLess(next, c.cursor) {
		log.WithFields(log.Fields{
			"previous": c.cursor,
			"next":     next,
		}).Warn("cursor moved backwards: the query should order rows ascending by the cursor column")
	}
	if err := c.store.Persist(checkpoint.Checkpoint{CursorColumn: c.db.FieldName, MarkerValue: next}); err != nil {
		return 0, err
	}
	checkpointsTotal.Inc()
	c.cursor = next

	log.WithFields(log.Fields{
		"count":  len(rows),
		"column": c.db.FieldName,
		"cursor": next,
	}).Info("forwarded rows")
	return len(rows), nil
}

// nextCursor is the cursor column value of the last row of a batch.
func (c *capture) nextCursor(names []string, raw []Value, normalized *orderedmap.OrderedMap[string, any]) (string, error) {
	var field = decodeColumnName(c.db.FieldName)
	var idx = slices.Index(names, field)
	if idx < 0 {
		return "", cerrors.NewQueryError(fmt.Errorf("query result has no cursor column %q (columns: %s)", field, strings.Join(names, ", ")))
	}
	// When a column name repeats, the event carries the last value.
	for i := len(names) - 1; i > idx; i-- {
		if names[i] == field {
			idx = i
			break
		}
	}
	if raw[idx].Kind == kindNull {
		return "", cerrors.NewQueryError(fmt.Errorf("cursor column %q of the last row is null", field))
	}
	var value, _ = normalized.Get(field)
	return cursorText(value), nil
}

// forward encodes rows as events and hands them to the sink in order. A row
// which cannot be encoded is skipped.
func (c *capture) forward(ctx context.Context, rows []*orderedmap.OrderedMap[string, any]) error {
	for _, row := range rows {
		var names = make([]string, 0, row.Len()+1)
		var values = make([]any, 0, row.Len()+1)
		names = append(names, logSourceField)
		values = append(values, c.logSource)
		for pair := row.Oldest(); pair != nil; pair = pair.Next() {
			names = append(names, pair.Key)
			values = append(values, pair.Value)
		}

		if c.shape == nil || !slices.Equal(c.shapeNames, names) {
			c.shape = encrow.NewOrderedShape(names)
			c.shapeNames = names
		}
		var payload, err = c.shape.Encode(nil, values)
		if err != nil {
			rowsSkippedTotal.Inc()
			log.WithField("err", cerrors.NewRowDecodeError(err)).Warn("skipping row which cannot be converted into an event")
			log.WithField("row", fmt.Sprintf("%v", values)).Debug("skipped row")
			continue
		}
		if err := c.sink.Submit(ctx, payload); err != nil {
			return fmt.Errorf("submitting event: %w", err)
		}
		eventsSubmittedTotal.Inc()
	}
	return nil
}

func (c *capture) closeSession() {
	if c.session == nil {
		return
	}
	if err := c.session.Close(); err != nil {
		log.WithField("err", err).Error("unable to close database connection")
	}
	c.session = nil
}

// isRecoverable reports whether a reconnect may cure err.
func isRecoverable(err error) bool {
	return cerrors.IsKind(err, cerrors.KindConnection) || cerrors.IsKind(err, cerrors.KindQuery)
}

// reconnectDelay is the wait before the nth consecutive reconnect attempt.
func reconnectDelay(attempt int) time.Duration {
	var delay = reconnectInitialDelay
	for i := 1; i < attempt && delay < reconnectMaxDelay; i++ {
		delay *= 2
	}
	return min(delay, reconnectMaxDelay)
}

// cursorText renders a normalized cursor value as persisted in a checkpoint.
func cursorText(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return fmt.Sprint(v)
}

// cursorLess compares cursor values numerically when both are numbers, and
// lexically otherwise.
func cursorLess(a, b string) bool {
	var x, errA = strconv.ParseFloat(a, 64)
	var y, errB = strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil && !math.IsNaN(x) && !math.IsNaN(y) {
		return x < y
	}
	return a < b
}

func sleepContext(ctx context.Context, d time.Duration) error {
	var t = time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
