package result

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestTableReportsSortedByBytesSaved(t *testing.T) {
	tbl := NewTable()
	tbl.Add(Report{BlockName: "small", BytesBefore: 10, BytesAfter: 9})
	tbl.Add(Report{BlockName: "big", BytesBefore: 20, BytesAfter: 5})

	got := tbl.Reports()
	if len(got) != 2 || got[0].BlockName != "big" {
		t.Fatalf("got %v, want big first (15 bytes saved vs 1)", got)
	}
	if tbl.Len() != 2 {
		t.Errorf("Len() = %d, want 2", tbl.Len())
	}
}

func TestWriteReadJSONRoundTrip(t *testing.T) {
	reports := []Report{{BlockName: "f", BytesBefore: 5, BytesAfter: 1, InstructionsBefore: 4, InstructionsAfter: 1}}

	var buf bytes.Buffer
	if err := WriteJSON(&buf, reports); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	got, err := ReadJSON(&buf)
	if err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if len(got) != 1 || got[0] != reports[0] {
		t.Fatalf("got %+v, want %+v", got, reports)
	}
}

func TestCheckpointSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ckpt.gob")
	ckpt := &Checkpoint{
		Reports:            []Report{{BlockName: "f", BytesBefore: 5, BytesAfter: 1}},
		CompletedSubgraphs: 3,
	}
	if err := SaveCheckpoint(path, ckpt); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}
	got, err := LoadCheckpoint(path)
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if got.CompletedSubgraphs != 3 || len(got.Reports) != 1 || got.Reports[0].BlockName != "f" {
		t.Fatalf("got %+v, want matching %+v", got, ckpt)
	}
}

func TestLoadCheckpointMissingFile(t *testing.T) {
	if _, err := LoadCheckpoint(filepath.Join(os.TempDir(), "does-not-exist.gob")); err == nil {
		t.Fatal("expected an error loading a nonexistent checkpoint")
	}
}
