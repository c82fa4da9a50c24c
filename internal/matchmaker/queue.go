package matchmaker

import (
	"context"
	"fmt"
	"time"

	"RoomGroup/internal/registry"
	"RoomGroup/internal/utils"

	"github.com/charmbracelet/log"
	"github.com/sourcegraph/conc/iter"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Queue drains the queue group into lobbies of exactly lobbySize clients.
type Queue struct {
	reg       registry.Registry
	groupID   string
	lobbySize int
	log       *log.Logger

	// OnMatched is called once per lobby formed in a cycle, after every
	// chunk of that cycle has settled.
	OnMatched func(ctx context.Context, m Match)
}

func NewQueue(reg registry.Registry, groupID string, lobbySize int) *Queue {
	return &Queue{
		reg:       reg,
		groupID:   groupID,
		lobbySize: lobbySize,
		log:       utils.Logger("queue"),
	}
}

func (q *Queue) GroupID() string { return q.groupID }

// Chunk splits ids, in order, into consecutive slices of size. A trailing
// partial slice is dropped.
func Chunk(ids []string, size int) [][]string {
	if size < 1 {
		return nil
	}
	n := len(ids) / size
	out := make([][]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, ids[i*size:(i+1)*size])
	}
	return out
}

// RunCycle forms as many lobbies as the queue allows. The returned error is
// only set when the queue could not be read; per-chunk failures are in the
// outcomes.
func (q *Queue) RunCycle(ctx context.Context) ([]Outcome, error) {
	start := time.Now()
	ctx, span := startSpan(ctx, "queue.cycle", attribute.String("queue", q.groupID))
	ids, err := q.reg.List(ctx, q.groupID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return nil, fmt.Errorf("read queue: %w", err)
	}
	span.SetAttributes(attribute.Int("queued", len(ids)))
	if len(ids) < q.lobbySize {
		endSpan(span, nil)
		return nil, nil
	}

	chunks := Chunk(ids, q.lobbySize)
	q.log.Info("forming lobbies", "queued", len(ids), "lobbies", len(chunks))

	outcomes := iter.Map(chunks, func(chunk *[]string) Outcome {
		return q.promote(ctx, *chunk)
	})

	created := 0
	for _, o := range outcomes {
		if o.Err != nil {
			q.log.Error("lobby creation failed", "members", o.Members, "err", o.Err)
			continue
		}
		created++
		if q.OnMatched != nil {
			q.OnMatched(ctx, Match{GroupID: o.GroupID, Members: o.Members, CreatedAt: time.Now()})
		}
	}
	q.log.Info("matchmaking cycle done", "processed", len(outcomes), "created", created, "took", time.Since(start))
	endSpan(span, outcomes)
	return outcomes, nil
}

// promote moves one chunk out of the queue into a new group.
func (q *Queue) promote(ctx context.Context, members []string) Outcome {
	out := Outcome{Members: members}
	if err := q.reg.RemoveExact(ctx, q.groupID, members...); err != nil {
		out.Err = err
		return out
	}

	gid, err := q.reg.Create(ctx)
	if err != nil {
		q.requeue(ctx, members)
		out.Err = fmt.Errorf("create match group: %w", err)
		return out
	}
	if err := q.reg.Push(ctx, gid, members...); err != nil {
		_ = q.reg.Erase(ctx, gid)
		q.requeue(ctx, members)
		out.Err = fmt.Errorf("fill match group %s: %w", gid, err)
		return out
	}
	out.GroupID = gid
	out.Result = "matched"
	return out
}

func (q *Queue) requeue(ctx context.Context, members []string) {
	if err := q.reg.Push(ctx, q.groupID, members...); err != nil {
		q.log.Error("could not requeue members", "members", members, "err", err)
	}
}
