package statestore

import (
	"fmt"
	"os"

	"github.com/apache/arrow-go/v18/arrow/ipc"

	"github.com/23skdu/longbow-scan/internal/config"
	"github.com/23skdu/longbow-scan/internal/ssm"
)

// Save writes a RuntimeState snapshot to path in Arrow IPC stream format.
func Save(path string, cfg config.LayerConfig, st *ssm.RuntimeState) error {
	rec, err := Encode(cfg, st)
	if err != nil {
		return err
	}
	defer rec.Release()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer f.Close()

	wr := ipc.NewWriter(f, ipc.WithSchema(rec.Schema()))
	if err := wr.Write(rec); err != nil {
		wr.Close()
		return fmt.Errorf("failed to write snapshot record: %w", err)
	}
	return wr.Close()
}

// Load reads a RuntimeState snapshot from path, validating its geometry
// against cfg.
func Load(path string, cfg config.LayerConfig) (*ssm.RuntimeState, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot file: %w", err)
	}
	defer f.Close()

	rdr, err := ipc.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	defer rdr.Release()

	if !rdr.Next() {
		if err := rdr.Err(); err != nil {
			return nil, fmt.Errorf("failed to read snapshot record: %w", err)
		}
		return nil, &ssm.ShapeError{Op: "statestore.load", Detail: "snapshot holds no record"}
	}
	return Decode(rdr.Record(), cfg)
}
