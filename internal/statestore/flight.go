package statestore

import (
	"context"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/23skdu/longbow-scan/internal/config"
	"github.com/23skdu/longbow-scan/internal/logger"
	"github.com/23skdu/longbow-scan/internal/ssm"
)

// DefaultPort is the Flight port a state server is expected to listen on.
const DefaultPort = 3000

// FlightClient transfers RuntimeState snapshots over Arrow Flight so a
// decode session can be migrated between hosts.
type FlightClient struct {
	client  flight.Client
	addr    string
	timeout time.Duration
}

// NewFlightClient prepares a client for the given address; Connect
// establishes the connection.
func NewFlightClient(host string, port int) *FlightClient {
	if port <= 0 {
		port = DefaultPort
	}
	return &FlightClient{
		addr:    fmt.Sprintf("%s:%d", host, port),
		timeout: 30 * time.Second,
	}
}

// Connect dials the Flight server.
func (fc *FlightClient) Connect(ctx context.Context) error {
	client, err := flight.NewClientWithMiddleware(fc.addr, nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to create Flight client: %w", err)
	}
	fc.client = client
	return nil
}

// Close disconnects from the Flight server.
func (fc *FlightClient) Close() error {
	if fc.client != nil {
		return fc.client.Close()
	}
	return nil
}

// PutState uploads one RuntimeState snapshot under the given session key.
func (fc *FlightClient) PutState(ctx context.Context, key string, cfg config.LayerConfig, st *ssm.RuntimeState) error {
	if fc.client == nil {
		return fmt.Errorf("client not connected, call Connect() first")
	}

	rec, err := Encode(cfg, st)
	if err != nil {
		return err
	}
	defer rec.Release()

	ctx, cancel := context.WithTimeout(ctx, fc.timeout)
	defer cancel()

	stream, err := fc.client.DoPut(ctx)
	if err != nil {
		return fmt.Errorf("failed to open DoPut stream: %w", err)
	}

	wr := flight.NewRecordWriter(stream, ipc.WithSchema(rec.Schema()))
	wr.SetFlightDescriptor(&flight.FlightDescriptor{
		Type: flight.DescriptorPATH,
		Path: []string{"state", key},
	})
	if err := wr.Write(rec); err != nil {
		wr.Close()
		return fmt.Errorf("failed to write state record: %w", err)
	}
	if err := wr.Close(); err != nil {
		return fmt.Errorf("failed to close record writer: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("failed to close DoPut stream: %w", err)
	}

	logger.Log.Debug("state snapshot uploaded", "key", key, "batch", st.Batch, "bytes", st.Bytes())
	return nil
}

// GetState fetches the snapshot stored under the given session key and
// validates it against cfg.
func (fc *FlightClient) GetState(ctx context.Context, key string, cfg config.LayerConfig) (*ssm.RuntimeState, error) {
	if fc.client == nil {
		return nil, fmt.Errorf("client not connected, call Connect() first")
	}

	ctx, cancel := context.WithTimeout(ctx, fc.timeout)
	defer cancel()

	stream, err := fc.client.DoGet(ctx, &flight.Ticket{Ticket: []byte("state/" + key)})
	if err != nil {
		return nil, fmt.Errorf("failed to open DoGet stream: %w", err)
	}

	rdr, err := flight.NewRecordReader(stream)
	if err != nil {
		return nil, fmt.Errorf("failed to create record reader: %w", err)
	}
	defer rdr.Release()

	if !rdr.Next() {
		if err := rdr.Err(); err != nil {
			return nil, fmt.Errorf("failed to read state record: %w", err)
		}
		return nil, &ssm.ShapeError{Op: "statestore.get", Detail: "stream holds no record"}
	}
	return Decode(rdr.Record(), cfg)
}
