package state

import (
	"fmt"
	"os"
	"testing"
)

// BenchmarkFileJournal_Record benchmarks the journal write performance
func BenchmarkFileJournal_Record(b *testing.B) {
	tmpDir, err := os.MkdirTemp("", "state-bench-*")
	if err != nil {
		b.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	journal, err := NewFileJournal(tmpDir, NewRunID(), true)
	if err != nil {
		b.Fatal(err)
	}
	defer journal.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		entry := Entry{File: fmt.Sprintf("file-%d", i), EntryID: fmt.Sprintf("id-%d", i)}
		if err := journal.Record(entry); err != nil {
			b.Fatal(err)
		}
	}
	b.StopTimer()

	if err := journal.Close(); err != nil {
		b.Fatal(err)
	}
}

// BenchmarkFileJournal_Load benchmarks counting an existing journal
func BenchmarkFileJournal_Load(b *testing.B) {
	tmpDir, err := os.MkdirTemp("", "state-bench-*")
	if err != nil {
		b.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	journal, err := NewFileJournal(tmpDir, NewRunID(), true)
	if err != nil {
		b.Fatal(err)
	}
	for i := 0; i < 10000; i++ {
		if err := journal.Record(Entry{File: fmt.Sprintf("file-%d", i)}); err != nil {
			b.Fatal(err)
		}
	}
	if err := journal.Close(); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		journal, err := NewFileJournal(tmpDir, NewRunID(), false)
		if err != nil {
			b.Fatal(err)
		}
		journal.Close()
	}
}

// BenchmarkFileJournal_WithFlush benchmarks writes with periodic flushes
func BenchmarkFileJournal_WithFlush(b *testing.B) {
	tmpDir, err := os.MkdirTemp("", "state-bench-*")
	if err != nil {
		b.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	journal, err := NewFileJournal(tmpDir, NewRunID(), true)
	if err != nil {
		b.Fatal(err)
	}
	defer journal.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := journal.Record(Entry{File: fmt.Sprintf("file-%d", i)}); err != nil {
			b.Fatal(err)
		}
		if i%100 == 0 {
			if err := journal.Flush(); err != nil {
				b.Fatal(err)
			}
		}
	}
	b.StopTimer()

	if err := journal.Close(); err != nil {
		b.Fatal(err)
	}
}

// BenchmarkMemoryJournal_Record benchmarks the in-memory journal for comparison
func BenchmarkMemoryJournal_Record(b *testing.B) {
	journal := NewMemoryJournal(NewRunID())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := journal.Record(Entry{File: fmt.Sprintf("file-%d", i)}); err != nil {
			b.Fatal(err)
		}
	}
}
