// Package statestore persists and transfers decode-session RuntimeState
// tensors as Arrow records: one row per batch slot, fixed-size list columns
// for the convolution ring buffer and the recurrence state, layer geometry
// in the schema metadata. Reloaded states are validated against the layer
// configuration before use.
package statestore

import (
	"fmt"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-scan/internal/config"
	"github.com/23skdu/longbow-scan/internal/ssm"
)

const (
	metaDim    = "dim"
	metaInner  = "inner"
	metaDState = "d_state"
	metaDConv  = "d_conv"
)

func stateSchema(cfg config.LayerConfig) *arrow.Schema {
	convWidth := int32((cfg.DConv - 1) * cfg.Inner)
	ssmWidth := int32(cfg.Inner * cfg.DState)

	md := arrow.NewMetadata(
		[]string{metaDim, metaInner, metaDState, metaDConv},
		[]string{
			strconv.Itoa(cfg.Dim),
			strconv.Itoa(cfg.Inner),
			strconv.Itoa(cfg.DState),
			strconv.Itoa(cfg.DConv),
		},
	)

	return arrow.NewSchema([]arrow.Field{
		{Name: "conv_state", Type: arrow.FixedSizeListOf(convWidth, arrow.PrimitiveTypes.Float32)},
		{Name: "ssm_state", Type: arrow.FixedSizeListOf(ssmWidth, arrow.PrimitiveTypes.Float32)},
	}, &md)
}

// Encode builds an Arrow record from a RuntimeState. The caller releases
// the returned record.
func Encode(cfg config.LayerConfig, st *ssm.RuntimeState) (arrow.Record, error) {
	convWidth := (cfg.DConv - 1) * cfg.Inner
	ssmWidth := cfg.Inner * cfg.DState
	if len(st.ConvState) != st.Batch*convWidth || len(st.SSMState) != st.Batch*ssmWidth {
		return nil, &ssm.ShapeError{Op: "statestore.encode", Detail: fmt.Sprintf(
			"state tensors (%d, %d) inconsistent with batch %d and config",
			len(st.ConvState), len(st.SSMState), st.Batch)}
	}

	schema := stateSchema(cfg)
	bldr := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer bldr.Release()

	convB := bldr.Field(0).(*array.FixedSizeListBuilder)
	convV := convB.ValueBuilder().(*array.Float32Builder)
	ssmB := bldr.Field(1).(*array.FixedSizeListBuilder)
	ssmV := ssmB.ValueBuilder().(*array.Float32Builder)

	for b := 0; b < st.Batch; b++ {
		convB.Append(true)
		convV.AppendValues(st.ConvState[b*convWidth:(b+1)*convWidth], nil)
		ssmB.Append(true)
		ssmV.AppendValues(st.SSMState[b*ssmWidth:(b+1)*ssmWidth], nil)
	}

	return bldr.NewRecord(), nil
}

// Decode rebuilds a RuntimeState from an Arrow record, failing when the
// record's geometry does not match cfg.
func Decode(rec arrow.Record, cfg config.LayerConfig) (*ssm.RuntimeState, error) {
	if err := checkMetadata(rec.Schema(), cfg); err != nil {
		return nil, err
	}

	batch := int(rec.NumRows())
	if batch <= 0 {
		return nil, &ssm.ShapeError{Op: "statestore.decode", Detail: "empty record"}
	}

	convWidth := (cfg.DConv - 1) * cfg.Inner
	ssmWidth := cfg.Inner * cfg.DState

	convCol, ok := rec.Column(0).(*array.FixedSizeList)
	if !ok {
		return nil, &ssm.ShapeError{Op: "statestore.decode", Detail: "conv_state column type"}
	}
	ssmCol, ok := rec.Column(1).(*array.FixedSizeList)
	if !ok {
		return nil, &ssm.ShapeError{Op: "statestore.decode", Detail: "ssm_state column type"}
	}

	convVals := convCol.ListValues().(*array.Float32).Float32Values()
	ssmVals := ssmCol.ListValues().(*array.Float32).Float32Values()
	if len(convVals) != batch*convWidth || len(ssmVals) != batch*ssmWidth {
		return nil, &ssm.ShapeError{Op: "statestore.decode", Detail: fmt.Sprintf(
			"value lengths (%d, %d) for batch %d", len(convVals), len(ssmVals), batch)}
	}

	st := &ssm.RuntimeState{
		Batch:     batch,
		ConvState: make([]float32, batch*convWidth),
		SSMState:  make([]float32, batch*ssmWidth),
	}
	copy(st.ConvState, convVals)
	copy(st.SSMState, ssmVals)
	return st, nil
}

func checkMetadata(schema *arrow.Schema, cfg config.LayerConfig) error {
	md := schema.Metadata()
	want := map[string]int{
		metaDim:    cfg.Dim,
		metaInner:  cfg.Inner,
		metaDState: cfg.DState,
		metaDConv:  cfg.DConv,
	}
	for key, wantVal := range want {
		idx := md.FindKey(key)
		if idx < 0 {
			return &ssm.ShapeError{Op: "statestore.decode", Detail: "missing metadata key " + key}
		}
		got, err := strconv.Atoi(md.Values()[idx])
		if err != nil || got != wantVal {
			return &ssm.ShapeError{Op: "statestore.decode", Detail: fmt.Sprintf(
				"%s=%s, layer config has %d", key, md.Values()[idx], wantVal)}
		}
	}
	return nil
}
