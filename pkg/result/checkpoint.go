package result

import (
	"encoding/gob"
	"os"
)

// Checkpoint holds enough state to resume a batch rewrite run: the
// reports gathered so far and how many subgraphs of the batch have
// been fully processed.
type Checkpoint struct {
	Reports            []Report
	CompletedSubgraphs int
}

func init() {
	gob.Register(Report{})
}

// SaveCheckpoint writes ckpt to path.
func SaveCheckpoint(path string, ckpt *Checkpoint) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return gob.NewEncoder(f).Encode(ckpt)
}

// LoadCheckpoint reads a Checkpoint previously written by SaveCheckpoint.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var ckpt Checkpoint
	if err := gob.NewDecoder(f).Decode(&ckpt); err != nil {
		return nil, err
	}
	return &ckpt, nil
}
