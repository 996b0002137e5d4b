package counter

import (
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
)

func TestStoreNextStartValues(t *testing.T) {
	s := NewStore(afero.NewMemMapFs(), "/p/.gitlab-ci-local/state.yml")

	iid, err := s.Next(PipelineIID)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if iid != 0 {
		t.Errorf("pipelineIid = %d, want 0", iid)
	}
	id, err := s.Next(JobID)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if id != 100000 {
		t.Errorf("jobId = %d, want 100000", id)
	}
	if id, _ = s.Next(JobID); id != 100001 {
		t.Errorf("jobId = %d, want 100001", id)
	}
	if iid, _ = s.Next(PipelineIID); iid != 1 {
		t.Errorf("pipelineIid = %d, want 1", iid)
	}
}

func TestStorePersists(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "/state.yml"
	if _, err := NewStore(fs, path).Next(PipelineIID); err != nil {
		t.Fatalf("Next: %v", err)
	}

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "pipelineIid: 0") {
		t.Errorf("state.yml = %q", data)
	}

	// A fresh store continues from disk.
	if v, _ := NewStore(fs, path).Next(PipelineIID); v != 1 {
		t.Errorf("Next = %d, want 1", v)
	}
}

func TestStoreCorruptState(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/state.yml", []byte("jobId: [oops"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewStore(fs, "/state.yml").Next(JobID); err == nil {
		t.Error("expected parse error")
	}
}

func TestCounterConcurrent(t *testing.T) {
	s := NewStore(afero.NewMemMapFs(), "/state.yml")
	c := s.Counter(JobID)

	const n = 50
	seen := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Next()
			if err != nil {
				t.Error(err)
				return
			}
			seen <- v
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[int]bool)
	for v := range seen {
		if unique[v] {
			t.Errorf("duplicate id %d", v)
		}
		unique[v] = true
	}
	if len(unique) != n {
		t.Errorf("got %d ids, want %d", len(unique), n)
	}
	state, err := s.load()
	if err != nil {
		t.Fatal(err)
	}
	if state[JobID] != 100000+n-1 {
		t.Errorf("final jobId = %d", state[JobID])
	}
}
