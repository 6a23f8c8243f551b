package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"

	"github.com/RaghavMadan07/Agri/internal/queue"
	"github.com/RaghavMadan07/Agri/internal/submission"
)

type stubAnalyzer struct {
	result json.RawMessage
	err    error
	calls  int
}

func (s *stubAnalyzer) Analyze(context.Context, string) (json.RawMessage, error) {
	s.calls++
	return s.result, s.err
}

func seed(t *testing.T, store *submission.InMemory) *submission.Submission {
	t.Helper()
	sub := &submission.Submission{
		UserID: "u-1", OriginalFilename: "leaf.jpg", StoragePath: "uploads/leaf.jpg",
		Latitude: 1, Longitude: 2, GrowthStage: submission.StageHarvest,
	}
	if err := store.Create(context.Background(), sub); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return sub
}

func workMessage(t *testing.T, id string) *message.Message {
	t.Helper()
	msg, err := queue.NewMessage(queue.WorkMessage{SubmissionID: id, FilePath: "uploads/leaf.jpg"}, "submissions.analyze")
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	return msg
}

func TestHandleCompletes(t *testing.T) {
	store := submission.NewInMemory()
	sub := seed(t, store)
	an := &stubAnalyzer{result: json.RawMessage(`{"crop":"tomato","confidence":0.88}`)}
	p := NewProcessor(store, an, zerolog.Nop())

	if err := p.Handle(workMessage(t, sub.ID)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	got, _ := store.Get(context.Background(), sub.ID)
	if got.Status != submission.StatusCompleted || string(got.AnalysisResult) != string(an.result) {
		t.Fatalf("unexpected row %+v", got)
	}

	// redelivery of a finished submission is a no-op
	if err := p.Handle(workMessage(t, sub.ID)); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if an.calls != 1 {
		t.Fatalf("analyzer called %d times", an.calls)
	}
}

func TestHandleMarksFailed(t *testing.T) {
	store := submission.NewInMemory()
	sub := seed(t, store)
	p := NewProcessor(store, &stubAnalyzer{err: errors.New("connection refused")}, zerolog.Nop())

	if err := p.Handle(workMessage(t, sub.ID)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	got, _ := store.Get(context.Background(), sub.ID)
	if got.Status != submission.StatusFailed {
		t.Fatalf("expected FAILED, got %s", got.Status)
	}
	var detail submission.FailureDetail
	if err := json.Unmarshal(got.AnalysisResult, &detail); err != nil {
		t.Fatalf("decode failure detail: %v", err)
	}
	if detail.Error != "Failed to analyze image." || detail.Details != "connection refused" {
		t.Fatalf("unexpected detail %+v", detail)
	}
}

func TestHandleResumesProcessing(t *testing.T) {
	store := submission.NewInMemory()
	sub := seed(t, store)
	if err := store.Transition(context.Background(), sub.ID, submission.StatusReceived, submission.StatusProcessing, nil); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	p := NewProcessor(store, &stubAnalyzer{result: json.RawMessage(`{}`)}, zerolog.Nop())
	if err := p.Handle(workMessage(t, sub.ID)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	got, _ := store.Get(context.Background(), sub.ID)
	if got.Status != submission.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", got.Status)
	}
}

func TestHandlePoison(t *testing.T) {
	p := NewProcessor(submission.NewInMemory(), &stubAnalyzer{}, zerolog.Nop())
	if err := p.Handle(message.NewMessage("x", []byte("{"))); !errors.Is(err, queue.ErrPoison) {
		t.Fatalf("malformed: expected ErrPoison, got %v", err)
	}
	if err := p.Handle(workMessage(t, "01HZZZZZZZZZZZZZZZZZZZZZZZ")); !errors.Is(err, queue.ErrPoison) {
		t.Fatalf("unknown id: expected ErrPoison, got %v", err)
	}
}

type brokenStore struct{ submission.Store }

func (brokenStore) Get(context.Context, string) (submission.Submission, error) {
	return submission.Submission{}, errors.New("connection reset")
}

func TestHandleReturnsStoreErrors(t *testing.T) {
	p := NewProcessor(brokenStore{}, &stubAnalyzer{}, zerolog.Nop())
	err := p.Handle(workMessage(t, "01HZZZZZZZZZZZZZZZZZZZZZZZ"))
	if err == nil || errors.Is(err, queue.ErrPoison) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}

func TestHTTPAnalyzer(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/analyze" {
			http.NotFound(w, r)
			return
		}
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		if strings.Contains(gotBody, "broken") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if strings.Contains(gotBody, "empty") {
			_, _ = io.WriteString(w, "null")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"crop":"tomato","disease":"Late Blight"}`+"\n")
	}))
	t.Cleanup(srv.Close)

	a := NewHTTPAnalyzer(srv.URL+"/", time.Second)
	res, err := a.Analyze(context.Background(), "uploads/leaf.jpg")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if gotBody != `{"file_path":"uploads/leaf.jpg"}` {
		t.Fatalf("unexpected request body %s", gotBody)
	}
	if string(res) != `{"crop":"tomato","disease":"Late Blight"}` {
		t.Fatalf("unexpected result %s", res)
	}

	if _, err := a.Analyze(context.Background(), "uploads/broken.jpg"); err == nil || !strings.Contains(err.Error(), "500") {
		t.Fatalf("expected 500 error, got %v", err)
	}
	if _, err := a.Analyze(context.Background(), "uploads/empty.jpg"); err == nil || !strings.Contains(err.Error(), "not a JSON object") {
		t.Fatalf("expected null body rejected, got %v", err)
	}
}

type recordingFusion struct {
	mu   sync.Mutex
	sent []*message.Message
	err  error
}

func (r *recordingFusion) Publish(topic string, msgs ...*message.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	for _, m := range msgs {
		if m.Metadata.Get(queue.RoutingKeyKey) != topic {
			return errors.New("routing key mismatch")
		}
	}
	r.sent = append(r.sent, msgs...)
	return nil
}

func (r *recordingFusion) Close() error { return nil }

func (r *recordingFusion) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func TestHandleSendsFusionNoticeOnCompletion(t *testing.T) {
	store := submission.NewInMemory()
	done := seed(t, store)
	failed := seed(t, store)
	fusion := &recordingFusion{}
	an := &stubAnalyzer{result: json.RawMessage(`{"crop":"rice"}`)}
	p := NewProcessor(store, an, zerolog.Nop(), WithFusion(fusion, "submissions.fusion"))

	if err := p.Handle(workMessage(t, done.ID)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if fusion.count() != 1 || fusion.sent[0].UUID != done.ID ||
		string(fusion.sent[0].Payload) != `{"submission_id":"`+done.ID+`"}` {
		t.Fatalf("unexpected fusion notices %+v", fusion.sent)
	}

	an.result, an.err = nil, errors.New("timeout")
	if err := p.Handle(workMessage(t, failed.ID)); err != nil {
		t.Fatalf("Handle failed submission: %v", err)
	}
	if fusion.count() != 1 {
		t.Fatalf("FAILED submission sent to fusion")
	}
}

func TestHandleRetriesFusionNotice(t *testing.T) {
	store := submission.NewInMemory()
	sub := seed(t, store)
	fusion := &recordingFusion{err: errors.New("nats: timeout")}
	an := &stubAnalyzer{result: json.RawMessage(`{"crop":"rice"}`)}
	p := NewProcessor(store, an, zerolog.Nop(), WithFusion(fusion, "submissions.fusion"))

	if err := p.Handle(workMessage(t, sub.ID)); err == nil {
		t.Fatal("expected fusion publish error to surface for retry")
	}
	got, _ := store.Get(context.Background(), sub.ID)
	if got.Status != submission.StatusCompleted {
		t.Fatalf("expected COMPLETED before notice, got %s", got.Status)
	}

	// the retry finds the row finished and only re-sends the notice
	fusion.mu.Lock()
	fusion.err = nil
	fusion.mu.Unlock()
	if err := p.Handle(workMessage(t, sub.ID)); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if fusion.count() != 1 || an.calls != 1 {
		t.Fatalf("expected one notice and one analysis, got %d notices %d calls", fusion.count(), an.calls)
	}
}
