package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dyike/CortexThesis/internal/logging"
	"github.com/dyike/CortexThesis/models"
)

// NewRunRecord projects a finished run onto its persisted form. st may be
// nil when the graph never produced a state.
func NewRunRecord(requestID string, id models.Identity, st *models.State, status string, runErr error) *models.RunRecord {
	rec := &models.RunRecord{
		RequestId:      requestID,
		Ticker:         id.Ticker,
		TradeDuration:  string(id.TradeDuration),
		TradeDirection: string(id.TradeDirection),
		Status:         status,
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if st == nil {
		return rec
	}
	rec.Compliant = st.Compliant
	rec.Revisions = st.RevisionIterationCount
	rec.CombinedSentiment = st.CombinedSentiment
	if st.Metrics != nil {
		rec.TotalTokens = st.Metrics.TotalTokens
	}
	if data, err := json.Marshal(st); err == nil {
		rec.StateJSON = string(data)
	}
	return rec
}

// Recorder saves runs on a background goroutine so a slow disk never holds
// up a response. Close drains everything queued.
type Recorder struct {
	store  *Store
	logger zerolog.Logger

	events chan *models.RunRecord
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewRecorder(store *Store) (*Recorder, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	r := &Recorder{
		store:  store,
		logger: logging.Component("recorder"),
		events: make(chan *models.RunRecord, 64),
	}
	r.wg.Add(1)
	go r.loop()
	return r, nil
}

func (r *Recorder) loop() {
	defer r.wg.Done()
	for rec := range r.events {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.store.Save(ctx, rec); err != nil {
			r.logger.Error().Err(err).Str(logging.FieldTicker, rec.Ticker).Str(logging.FieldRequestID, rec.RequestId).Msg("save run")
		}
		cancel()
	}
}

// Record queues rec. Records arriving after Close are dropped.
func (r *Recorder) Record(rec *models.RunRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		r.logger.Warn().Str(logging.FieldTicker, rec.Ticker).Msg("recorder closed, run dropped")
		return
	}
	r.events <- rec
}

func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.events)
	r.mu.Unlock()
	r.wg.Wait()
}
