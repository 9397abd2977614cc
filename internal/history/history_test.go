package history

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestOpenTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.jsonl")
	if err := os.WriteFile(path, []byte("{\"p\":\"tw\"}\n{\"p\":\"ki\"}\n"), 0644); err != nil {
		t.Fatal(err)
	}

	l, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	count := 0
	if err := l.Replay(func([]byte) error { count++; return nil }); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("log should be empty after Open, found %d records", count)
	}
}

func TestAppendReplayOrder(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "messages.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	const n = 25
	for i := 0; i < n; i++ {
		if err := l.Append([]byte(fmt.Sprintf(`{"i":%d}`, i))); err != nil {
			t.Fatal(err)
		}
	}

	var records [][]byte
	if err := l.Replay(func(record []byte) error {
		records = append(records, record)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	if len(records) != n {
		t.Fatalf("replayed %d records, want %d", len(records), n)
	}
	for i, rec := range records {
		if want := fmt.Sprintf(`{"i":%d}`, i); string(rec) != want {
			t.Errorf("record %d = %s, want %s", i, rec, want)
		}
	}
}

func TestReplayIdempotent(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "messages.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	for i := 0; i < 10; i++ {
		if err := l.Append([]byte(fmt.Sprintf(`{"i":%d}`, i))); err != nil {
			t.Fatal(err)
		}
	}

	collect := func() []byte {
		var buf bytes.Buffer
		if err := l.Replay(func(record []byte) error {
			buf.Write(record)
			buf.WriteByte('\n')
			return nil
		}); err != nil {
			t.Fatal(err)
		}
		return buf.Bytes()
	}

	first := collect()
	second := collect()
	if !bytes.Equal(first, second) {
		t.Error("two replays of the same log differ")
	}
}

func TestConcurrentAppendsNeverInterleave(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "messages.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	// Two writers with distinguishable records of different lengths;
	// every replayed line must be exactly one of the two.
	recA := []byte(`{"p":"tw","user":"aaaa","html":"` + string(bytes.Repeat([]byte("a"), 100)) + `"}`)
	recB := []byte(`{"p":"ki","user":"b","html":"b"}`)

	var wg sync.WaitGroup
	for _, rec := range [][]byte{recA, recB} {
		wg.Add(1)
		go func(rec []byte) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				if err := l.Append(rec); err != nil {
					t.Error(err)
					return
				}
			}
		}(rec)
	}
	wg.Wait()

	total := 0
	if err := l.Replay(func(record []byte) error {
		total++
		if !bytes.Equal(record, recA) && !bytes.Equal(record, recB) {
			t.Errorf("interleaved record: %s", record)
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if total != 400 {
		t.Errorf("replayed %d records, want 400", total)
	}
}

func TestReplayStopsOnError(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "messages.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	for i := 0; i < 5; i++ {
		if err := l.Append([]byte(`{}`)); err != nil {
			t.Fatal(err)
		}
	}

	seen := 0
	sentinel := fmt.Errorf("stop")
	err = l.Replay(func([]byte) error {
		seen++
		if seen == 2 {
			return sentinel
		}
		return nil
	})
	if err != sentinel {
		t.Errorf("Replay error = %v, want sentinel", err)
	}
	if seen != 2 {
		t.Errorf("callback ran %d times, want 2", seen)
	}
}
