// Package table implements the Table Storage component (spec.md §4.1):
// typed tables over a Cassandra-backed KV store, with async put/get/del,
// batch load on boot, and retryable-vs-fatal error classification.
package table

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gocql/gocql"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/uber-go/tally"

	"github.com/jungbaepark/gcs/common/backoff"
	"github.com/jungbaepark/gcs/gcserrors"
	"github.com/jungbaepark/gcs/id"
)

// Session wraps a gocql session shared by every table, mirroring the
// teacher's storage/cassandra/impl.Store (one session, many tables).
type Session struct {
	cluster *gocql.ClusterConfig
	session *gocql.Session
	conf    CassandraConfig
	scope   tally.Scope
}

// NewSession opens the shared Cassandra session used by every table.
func NewSession(conf CassandraConfig, scope tally.Scope) (*Session, error) {
	conf = conf.withDefaults()
	cluster := gocql.NewCluster(conf.ContactPoints...)
	cluster.Port = conf.Port
	cluster.Keyspace = conf.Keyspace
	cluster.Consistency = gocql.ParseConsistency(conf.Consistency)
	cluster.Timeout = conf.Timeout
	cluster.ProtoVersion = conf.ProtoVersion
	if conf.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: conf.Username,
			Password: conf.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, gcserrors.Wrap(gcserrors.Fatal, err, "failed to create cassandra session")
	}
	log.WithField("keyspace", conf.Keyspace).Info("table storage session created")
	return &Session{cluster: cluster, session: session, conf: conf, scope: scope}, nil
}

// Close releases the underlying session.
func (s *Session) Close() {
	if s.session != nil {
		s.session.Close()
	}
}

// Table is a typed table over the KV store, keyed by entity id, holding
// values of type T. Every table shares the retryable-vs-fatal
// classification described in spec.md §4.1; Put, Get and Delete retry
// with bounded backoff, while GetAll makes a single attempt.
type Table[T any] struct {
	session  *Session
	name     string
	metrics  tableMetrics
	retryPol backoff.RetryPolicy
}

// NewTable creates a Table backed by a single Cassandra table named
// `name`, with columns (id blob, value text). Callers are expected to
// have created the table via migration; NewTable does not issue DDL.
func NewTable[T any](session *Session, name string) *Table[T] {
	return &Table[T]{
		session:  session,
		name:     name,
		metrics:  newTableMetrics(session.scope, name),
		retryPol: backoff.NewRetryPolicy(session.conf.MaxRetries, session.conf.RetryInterval),
	}
}

// Put durably persists value under id, retrying transient failures with
// bounded exponential backoff before surfacing a Transient error.
func (t *Table[T]) Put(ctx context.Context, entID id.ID, value T) *gcserrors.Error {
	blob, err := json.Marshal(value)
	if err != nil {
		t.metrics.putFail.Inc(1)
		return gcserrors.Wrap(gcserrors.Invalid, err, "failed to marshal value")
	}

	q := fmt.Sprintf("INSERT INTO %s (id, value) VALUES (?, ?)", t.name)
	retryErr := backoff.Retry(ctx, func() error {
		return t.session.session.Query(q, entID.Bytes(), string(blob)).WithContext(ctx).Exec()
	}, t.retryPol)
	if retryErr != nil {
		t.metrics.putFail.Inc(1)
		return gcserrors.Wrap(classify(retryErr), retryErr, "put failed")
	}
	t.metrics.put.Inc(1)
	return nil
}

// Get loads the value for id, returning a NotFound error (never a nil
// value with nil error) when the row does not exist.
func (t *Table[T]) Get(ctx context.Context, entID id.ID) (T, *gcserrors.Error) {
	var zero T
	var blob string

	q := fmt.Sprintf("SELECT value FROM %s WHERE id = ?", t.name)
	retryErr := backoff.Retry(ctx, func() error {
		return t.session.session.Query(q, entID.Bytes()).WithContext(ctx).Scan(&blob)
	}, t.retryPol)
	if retryErr == gocql.ErrNotFound {
		t.metrics.getMiss.Inc(1)
		return zero, gcserrors.New(gcserrors.NotFound, "no such "+t.name+" row")
	}
	if retryErr != nil {
		t.metrics.getFail.Inc(1)
		return zero, gcserrors.Wrap(classify(retryErr), retryErr, "get failed")
	}

	var value T
	if err := json.Unmarshal([]byte(blob), &value); err != nil {
		return zero, gcserrors.Wrap(gcserrors.Invalid, err, "failed to unmarshal value")
	}
	t.metrics.getHit.Inc(1)
	return value, nil
}

// Delete removes the row for id. It is not an error to delete a row
// that does not exist (matches the teacher's idempotent delete style).
func (t *Table[T]) Delete(ctx context.Context, entID id.ID) *gcserrors.Error {
	q := fmt.Sprintf("DELETE FROM %s WHERE id = ?", t.name)
	retryErr := backoff.Retry(ctx, func() error {
		return t.session.session.Query(q, entID.Bytes()).WithContext(ctx).Exec()
	}, t.retryPol)
	if retryErr != nil {
		t.metrics.delFail.Inc(1)
		return gcserrors.Wrap(classify(retryErr), retryErr, "delete failed")
	}
	t.metrics.del.Inc(1)
	return nil
}

// BatchDelete removes multiple rows. Best-effort: it returns the first
// error encountered but attempts every id.
func (t *Table[T]) BatchDelete(ctx context.Context, ids []id.ID) *gcserrors.Error {
	var first *gcserrors.Error
	for _, entID := range ids {
		if err := t.Delete(ctx, entID); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// GetAll loads every row in the table into memory. Used by the
// Init-Data Loader on boot (spec.md §4.3) and nowhere else — it is not
// meant for steady-state reads. The scan is not retried: a failed scan
// is classified and returned as is.
func (t *Table[T]) GetAll(ctx context.Context) (map[id.ID]T, *gcserrors.Error) {
	out := make(map[id.ID]T)
	q := fmt.Sprintf("SELECT id, value FROM %s", t.name)
	iter := t.session.session.Query(q).WithContext(ctx).Iter()

	var rawID []byte
	var blob string
	for iter.Scan(&rawID, &blob) {
		var entID id.ID
		copy(entID[:], rawID)
		var value T
		if err := json.Unmarshal([]byte(blob), &value); err != nil {
			continue
		}
		out[entID] = value
	}
	if err := iter.Close(); err != nil {
		t.metrics.getAllFail.Inc(1)
		return nil, gcserrors.Wrap(classify(err), err, "get-all failed")
	}
	t.metrics.getAll.Inc(1)
	return out, nil
}

// classify maps a gocql error to a propagation Kind. Timeouts and
// connection-level failures are Transient (the backoff.Retry loop will
// have already exhausted its budget by the time this runs); anything
// else is treated conservatively as Fatal so a bad session does not
// silently limp along.
func classify(err error) gcserrors.Kind {
	if err == nil {
		return gcserrors.Transient
	}
	switch errors.Cause(err).(type) {
	case *gocql.RequestErrWriteTimeout, *gocql.RequestErrReadTimeout:
		return gcserrors.Transient
	}
	if err == gocql.ErrTimeoutNoResponse || err == gocql.ErrConnectionClosed {
		return gcserrors.Transient
	}
	return gcserrors.Fatal
}
