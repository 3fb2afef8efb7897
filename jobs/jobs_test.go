package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wasteflow/wasteflow/internal/declaration"
	jobmetrics "github.com/wasteflow/wasteflow/internal/jobs"
	"github.com/wasteflow/wasteflow/internal/lmaimport"
	"github.com/wasteflow/wasteflow/internal/shared"
	"github.com/wasteflow/wasteflow/internal/values"
)

type fakeEnqueuer struct {
	mu    sync.Mutex
	ids   map[string]*asynq.Task
	queue map[string]string
}

func newFakeEnqueuer() *fakeEnqueuer {
	return &fakeEnqueuer{ids: map[string]*asynq.Task{}, queue: map[string]string{}}
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, queue := uuid.NewString(), QueueDefault
	for _, o := range opts {
		switch o.Type() {
		case asynq.TaskIDOpt:
			id = o.Value().(string)
		case asynq.QueueOpt:
			queue = o.Value().(string)
		}
	}
	if _, ok := f.ids[id]; ok {
		return nil, asynq.ErrTaskIDConflict
	}
	f.ids[id] = task
	f.queue[id] = queue
	return &asynq.TaskInfo{ID: id, Queue: queue, Type: task.Type(), Payload: task.Payload()}, nil
}

type staticSource struct {
	lines []declaration.UndeclaredLine
	err   error
}

func (s staticSource) Undeclared(context.Context) ([]declaration.UndeclaredLine, error) {
	return s.lines, s.err
}

func undeclared(ticketID int64, idx int, kg string) declaration.UndeclaredLine {
	return declaration.UndeclaredLine{
		TicketID:          ticketID,
		LineIndex:         idx,
		WasteStreamNumber: values.MustWasteStreamNumber("087970000001"),
		Weight:            values.MustWeight(kg),
		WeighedAt:         time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC),
	}
}

func newJobMetrics() (*jobmetrics.Metrics, *prometheus.Registry) {
	registry := prometheus.NewRegistry()
	return jobmetrics.NewMetrics(registry), registry
}

func TestDeclarationBackfillQueuesEachLineOnce(t *testing.T) {
	enqueuer := newFakeEnqueuer()
	metrics, _ := newJobMetrics()
	source := staticSource{lines: []declaration.UndeclaredLine{undeclared(1, 0, "1500"), undeclared(1, 1, "250.5")}}
	job := NewDeclarationBackfillJob(source, enqueuer, nil, metrics)

	require.NoError(t, job.Handle(context.Background(), nil))
	require.Len(t, enqueuer.ids, 2)
	task := enqueuer.ids["declare:1:1:250.5"]
	require.NotNil(t, task)
	assert.Equal(t, TaskDeclareLine, task.Type())
	assert.Equal(t, QueueDeclarations, enqueuer.queue["declare:1:1:250.5"])

	var payload DeclareLinePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, DeclareLinePayload{TicketID: 1, LineIndex: 1, WeightKg: "250.5"}, payload)

	// a second run finds the same lines still queued
	require.NoError(t, job.Handle(context.Background(), nil))
	assert.Len(t, enqueuer.ids, 2)

	// a corrected weight is a new declaration
	job.Source = staticSource{lines: []declaration.UndeclaredLine{undeclared(1, 1, "260")}}
	require.NoError(t, job.Handle(context.Background(), nil))
	assert.Len(t, enqueuer.ids, 3)
}

func TestDeclarationBackfillSourceFailure(t *testing.T) {
	metrics, registry := newJobMetrics()
	job := NewDeclarationBackfillJob(staticSource{err: errors.New("db down")}, newFakeEnqueuer(), nil, metrics)
	require.Error(t, job.Handle(context.Background(), nil))

	count, err := testutil.GatherAndCount(registry, "wasteflow_jobs_failures_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

type fakeDeclarer struct {
	lines    map[[2]int64]declaration.UndeclaredLine
	declared []string
}

func (f *fakeDeclarer) Line(_ context.Context, ticketID int64, idx int) (declaration.UndeclaredLine, error) {
	line, ok := f.lines[[2]int64{ticketID, int64(idx)}]
	if !ok {
		return declaration.UndeclaredLine{}, declaration.ErrLineNotFound
	}
	if line.TicketCancelled {
		return line, declaration.ErrTicketCancelled
	}
	return line, nil
}

func (f *fakeDeclarer) MarkDeclared(_ context.Context, ticketID int64, idx int, actor string) (declaration.LineDeclarationState, error) {
	key := [2]int64{ticketID, int64(idx)}
	line := f.lines[key]
	line.State = declaration.RecordDeclaration(line.Line(), time.Now())
	f.lines[key] = line
	f.declared = append(f.declared, actor)
	return line.State, nil
}

type recordingSubmitter struct {
	submitted []declaration.UndeclaredLine
	err       error
}

func (s *recordingSubmitter) Submit(_ context.Context, line declaration.UndeclaredLine) error {
	if s.err != nil {
		return s.err
	}
	s.submitted = append(s.submitted, line)
	return nil
}

func declareTask(t *testing.T, ticketID int64, idx int) *asynq.Task {
	t.Helper()
	task, err := NewDeclareLineTask(DeclareLinePayload{TicketID: ticketID, LineIndex: idx, WeightKg: "1500"})
	require.NoError(t, err)
	return task
}

func TestDeclareLineSubmitsThenRecords(t *testing.T) {
	declarer := &fakeDeclarer{lines: map[[2]int64]declaration.UndeclaredLine{{7, 0}: undeclared(7, 0, "1500")}}
	submitter := &recordingSubmitter{}
	metrics, registry := newJobMetrics()
	job := NewDeclareLineJob(declarer, submitter, nil, metrics)

	require.NoError(t, job.Handle(context.Background(), declareTask(t, 7, 0)))
	require.Len(t, submitter.submitted, 1)
	assert.Equal(t, []string{DeclarationActor}, declarer.declared)

	// replayed task: the line is declared at the same weight
	require.NoError(t, job.Handle(context.Background(), declareTask(t, 7, 0)))
	assert.Len(t, submitter.submitted, 1)

	// vanished line completes without retry
	require.NoError(t, job.Handle(context.Background(), declareTask(t, 8, 0)))

	n, err := testutil.GatherAndCount(registry, "wasteflow_declarations_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "declared and skipped series")
}

func TestDeclareLineSkipsCancelledTicket(t *testing.T) {
	line := undeclared(9, 0, "1500")
	line.TicketCancelled = true
	declarer := &fakeDeclarer{lines: map[[2]int64]declaration.UndeclaredLine{{9, 0}: line}}
	submitter := &recordingSubmitter{}
	job := NewDeclareLineJob(declarer, submitter, nil, nil)

	require.NoError(t, job.Handle(context.Background(), declareTask(t, 9, 0)))
	assert.Empty(t, submitter.submitted)
	assert.Empty(t, declarer.declared)
}

func TestDeclareLineSubmitFailureDoesNotRecord(t *testing.T) {
	declarer := &fakeDeclarer{lines: map[[2]int64]declaration.UndeclaredLine{{7, 0}: undeclared(7, 0, "1500")}}
	job := NewDeclareLineJob(declarer, &recordingSubmitter{err: errors.New("authority unavailable")}, nil, nil)

	require.Error(t, job.Handle(context.Background(), declareTask(t, 7, 0)))
	assert.Empty(t, declarer.declared)

	err := job.Handle(context.Background(), asynq.NewTask(TaskDeclareLine, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type fakeRunner struct {
	rows [][]lmaimport.Row
	err  error
}

func (f *fakeRunner) RunBatch(_ context.Context, rows []lmaimport.Row) (*lmaimport.Result, error) {
	f.rows = append(f.rows, rows)
	result := &lmaimport.Result{BatchID: uuid.New(), TotalRows: len(rows), SuccessfulImports: len(rows)}
	return result, f.err
}

type memoryIdempotency struct {
	keys map[string]bool
}

func (m *memoryIdempotency) Claim(_ context.Context, _, key string) error {
	if m.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = true
	return nil
}

func (m *memoryIdempotency) Release(_ context.Context, _, key string) error {
	delete(m.keys, key)
	return nil
}

const exportCSV = "waste_stream_number;eural_code;processing_method;consignor_kvk;processor_number\n" +
	"087970000001;170904;A02;12345678;08797\n" +
	"087970000002;170904;A02;12345678;08797\n"

func importTask(t *testing.T, file string) *asynq.Task {
	t.Helper()
	task, err := NewImportBatchTask(ImportBatchPayload{File: file})
	require.NoError(t, err)
	return task
}

func TestImportBatchRunsOncePerUpload(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "march.csv"), []byte(exportCSV), 0o600))

	runner := &fakeRunner{}
	idem := &memoryIdempotency{keys: map[string]bool{}}
	metrics, registry := newJobMetrics()
	job := NewImportBatchJob(runner, idem, dir, nil, metrics)

	require.NoError(t, job.Handle(context.Background(), importTask(t, "march.csv")))
	require.Len(t, runner.rows, 1)
	assert.Len(t, runner.rows[0], 2)

	require.NoError(t, job.Handle(context.Background(), importTask(t, "march.csv")))
	assert.Len(t, runner.rows, 1)

	assert.Equal(t, 2.0, counterValue(t, registry, "wasteflow_import_rows_total", "imported"))
}

func TestImportBatchFailureReleasesKey(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "march.csv"), []byte(exportCSV), 0o600))
	runner := &fakeRunner{err: errors.New("connection reset")}
	idem := &memoryIdempotency{keys: map[string]bool{}}
	job := NewImportBatchJob(runner, idem, dir, nil, nil)

	require.Error(t, job.Handle(context.Background(), importTask(t, "march.csv")))
	assert.Empty(t, idem.keys)
}

func TestImportBatchRejectsUnreadableAndEscapingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.pdf"), []byte("%PDF"), 0o600))
	runner := &fakeRunner{}
	job := NewImportBatchJob(runner, nil, dir, nil, nil)

	err := job.Handle(context.Background(), importTask(t, "notes.pdf"))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.ErrorIs(t, err, lmaimport.ErrUnreadableBatch)

	path, err := job.resolve("../../etc/passwd")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "etc", "passwd"), path)

	_, err = job.resolve("/")
	require.Error(t, err)
	assert.Empty(t, runner.rows)
}

type fakeInspector struct {
	queues []string
	info   map[string]*asynq.QueueInfo
}

func (f fakeInspector) Queues() ([]string, error) { return f.queues, nil }

func (f fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return f.info[queue], nil
}

func TestHealthReportsBothQueues(t *testing.T) {
	inspector := fakeInspector{
		queues: []string{QueueDefault},
		info:   map[string]*asynq.QueueInfo{QueueDefault: {Queue: QueueDefault, Pending: 3, Retry: 1}},
	}
	r := chi.NewRouter()
	NewHandler(inspector, nil, nil).MountRoutes(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body []queueHealth
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, []queueHealth{
		{Queue: QueueDefault, Pending: 3, Retry: 1},
		{Queue: QueueDeclarations},
	}, body)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/jobs/declarations/backfill", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code, "actor header required")
}

func counterValue(t *testing.T, registry *prometheus.Registry, name, outcome string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "outcome" && l.GetValue() == outcome {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s{outcome=%q} not found", name, outcome)
	return 0
}
