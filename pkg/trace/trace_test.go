package trace

import (
	"sync"
	"testing"

	"github.com/spf13/afero"
)

func TestWriterRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	w, err := NewWriter(fs, "/trace.jsonl")
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.Write(Event{Type: JobStart, PipelineIID: 3, JobID: 100007, Job: "build"}); err != nil {
		t.Fatal(err)
	}
	if err := w.Write(Event{Type: JobFinish, JobID: 100007, Job: "build", Data: map[string]any{"status": "success"}}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	events, err := Read(fs, "/trace.jsonl")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events", len(events))
	}
	if events[0].Type != JobStart || events[0].PipelineIID != 3 || events[0].Timestamp.IsZero() {
		t.Errorf("event 0 = %+v", events[0])
	}
	if events[1].Data["status"] != "success" {
		t.Errorf("event 1 data = %v", events[1].Data)
	}
}

func TestWriterConcurrent(t *testing.T) {
	fs := afero.NewMemMapFs()
	w, err := NewWriter(fs, "/trace.jsonl")
	if err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := w.Write(Event{Type: JobScriptExit, JobID: i}); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()
	w.Close()

	events, err := Read(fs, "/trace.jsonl")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(events) != 20 {
		t.Errorf("got %d events, want 20", len(events))
	}
}
