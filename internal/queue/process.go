package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/kgstore/internal/storage"
	"github.com/OFFIS-RIT/kgstore/pkg/community"
	"github.com/OFFIS-RIT/kgstore/pkg/logger"
	"github.com/OFFIS-RIT/kgstore/pkg/store"

	"github.com/go-playground/validator"
)

var validate = validator.New()

// PermanentError marks a message that will never succeed, so it goes to
// the dead-letter queue without retries.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// rejected reports whether the store refused the operation itself rather
// than failing to reach the backend.
func rejected(err error) bool {
	return errors.Is(err, store.ErrNotFound) ||
		errors.Is(err, store.ErrAlreadyExists) ||
		errors.Is(err, store.ErrInvalidReference) ||
		errors.Is(err, store.ErrInvalidArgument)
}

// BatchError is returned when a batch stops early because of a transient
// failure. Applied mutations are not repeated on retry.
type BatchError struct {
	Applied int
	Err     error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("mutation %d: %v", e.Applied, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// BatchResult summarizes an applied batch.
type BatchResult struct {
	Applied int
	Skipped []string
}

// DecodeBatch parses and validates a graph_mutation_queue body.
func DecodeBatch(body []byte) (MutationBatch, error) {
	var batch MutationBatch
	if err := json.Unmarshal(body, &batch); err != nil {
		return batch, permanent(fmt.Errorf("decoding mutation batch: %w", err))
	}
	if err := validate.Struct(batch); err != nil {
		return batch, permanent(err)
	}
	return batch, nil
}

// ProcessMutationBatch applies every mutation in order. A rejected mutation
// fails the batch permanently unless ContinueOnError is set. A transient
// failure returns a *BatchError telling how many mutations were applied.
func ProcessMutationBatch(ctx context.Context, gs *store.GraphStore, batch MutationBatch) (BatchResult, error) {
	var res BatchResult
	for i, m := range batch.Mutations {
		err := Apply(ctx, gs, m)
		switch {
		case err == nil:
		case rejected(err) && batch.ContinueOnError:
			logger.Warn("[Queue][Mutation] Skipped rejected mutation", "correlation_id", batch.CorrelationID, "index", i, "op", m.Op, "err", err)
			res.Skipped = append(res.Skipped, fmt.Sprintf("%d:%s: %v", i, m.Op, err))
		case rejected(err):
			return res, permanent(&BatchError{Applied: i, Err: err})
		default:
			return res, &BatchError{Applied: i, Err: err}
		}
		res.Applied = i + 1
	}
	logger.Debug("[Queue][Mutation] Applied batch", "correlation_id", batch.CorrelationID, "applied", res.Applied, "skipped", len(res.Skipped))
	return res, nil
}

// Apply runs a single mutation against the store.
func Apply(ctx context.Context, gs *store.GraphStore, m Mutation) error {
	switch m.Op {
	case OpAddNode, OpUpdateNode:
		if m.Node == nil {
			return fmt.Errorf("%w: %s without node", store.ErrInvalidArgument, m.Op)
		}
		uid := m.UID
		if uid == "" {
			uid = m.Node.UID
		}
		if m.Op == OpAddNode {
			return gs.AddNode(ctx, uid, *m.Node)
		}
		return gs.UpdateNode(ctx, uid, *m.Node)
	case OpRemoveNode:
		return gs.RemoveNode(ctx, m.UID)
	case OpAddEdge, OpUpdateEdge, OpRemoveEdge:
		if m.Edge == nil {
			return fmt.Errorf("%w: %s without edge", store.ErrInvalidArgument, m.Op)
		}
		switch m.Op {
		case OpAddEdge:
			return gs.AddEdge(ctx, *m.Edge, directed(m))
		case OpUpdateEdge:
			return gs.UpdateEdge(ctx, *m.Edge)
		default:
			return gs.RemoveEdge(ctx, m.Edge.SourceUID, m.Edge.TargetUID, directed(m))
		}
	case OpStoreCommunity:
		if m.Community == nil {
			return fmt.Errorf("%w: %s without community", store.ErrInvalidArgument, m.Op)
		}
		return gs.StoreCommunity(ctx, *m.Community)
	}
	return fmt.Errorf("%w: unknown operation %q", store.ErrInvalidArgument, m.Op)
}

// DecodeCommunityJob parses and validates a community_queue body.
func DecodeCommunityJob(body []byte) (CommunityJob, error) {
	var job CommunityJob
	if err := json.Unmarshal(body, &job); err != nil {
		return job, permanent(fmt.Errorf("decoding community job: %w", err))
	}
	if err := validate.Struct(job); err != nil {
		return job, permanent(err)
	}
	return job, nil
}

// ProcessCommunityJob detects and stores communities, then uploads a
// snapshot when the job asks for one and exporter is set.
func ProcessCommunityJob(ctx context.Context, gs *store.GraphStore, exporter *storage.Exporter, job CommunityJob) (community.Result, error) {
	opts := []community.Option{
		community.WithResolution(job.Resolution),
		community.WithMinSize(max(job.MinSize, 1)),
	}
	if job.TitlePrefix != "" {
		opts = append(opts, community.WithTitlePrefix(job.TitlePrefix))
	}
	if job.Assign != nil {
		opts = append(opts, community.WithAssign(*job.Assign))
	}

	res, err := community.Detect(ctx, gs, opts...)
	if err != nil {
		return res, err
	}
	if job.Export == "" {
		return res, nil
	}
	if exporter == nil {
		logger.Warn("[Queue][Community] Export requested but no bucket is configured", "correlation_id", job.CorrelationID)
		return res, nil
	}
	view, err := gs.BuildGraphView(ctx)
	if err != nil {
		return res, err
	}
	if _, err := exporter.ExportView(ctx, view, job.Export); err != nil {
		return res, err
	}
	return res, nil
}
