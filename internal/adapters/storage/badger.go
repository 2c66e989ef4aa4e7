package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/eleven-am/strand/internal/domain"
	"github.com/eleven-am/strand/internal/xjson"
)

// Badger is the durable store behind tasks, tool runs, events, workflow
// nodes and transcripts. Key scheme:
//
//	task:<id>
//	toolrun:<started-unix-nano>:<id>
//	transcript:<run-id>
//	event:<name>:<sequence>
//	workflow:node:<id>
type Badger struct {
	db            *badger.DB
	logger        *slog.Logger
	eventTTL      time.Duration
	transcriptTTL time.Duration
}

func NewBadger(db *badger.DB, eventTTL, transcriptTTL time.Duration, logger *slog.Logger) *Badger {
	if logger == nil {
		logger = slog.Default()
	}

	return &Badger{
		db:            db,
		logger:        logger.With("component", "storage"),
		eventTTL:      eventTTL,
		transcriptTTL: transcriptTTL,
	}
}

func taskKey(id string) []byte {
	return []byte("task:" + id)
}

func toolRunKey(run *domain.ToolRun) []byte {
	return []byte(fmt.Sprintf("toolrun:%020d:%s", run.StartedAt.UnixNano(), run.ID))
}

func transcriptKey(runID string) []byte {
	return []byte("transcript:" + runID)
}

func eventKey(event *domain.Event) []byte {
	return []byte(fmt.Sprintf("event:%s:%010d", event.Name, event.Sequence))
}

func workflowNodeKey(id string) []byte {
	return []byte("workflow:node:" + id)
}

func (b *Badger) set(key []byte, v interface{}, ttl time.Duration) error {
	data, err := xjson.Marshal(v)
	if err != nil {
		return domain.Error{
			Type:    domain.ErrorTypeInternal,
			Message: "failed to marshal record",
			Details: map[string]interface{}{"key": string(key)},
			Err:     err,
		}
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(key, data)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return domain.Error{
			Type:    domain.ErrorTypeInternal,
			Message: "failed to write record",
			Details: map[string]interface{}{"key": string(key)},
			Err:     err,
		}
	}

	return nil
}

func (b *Badger) SaveTask(ctx context.Context, task *domain.Task) error {
	if task == nil || task.ID == "" {
		return domain.Error{
			Type:    domain.ErrorTypeValidation,
			Message: "task id is required",
		}
	}
	return b.set(taskKey(task.ID), task, 0)
}

func (b *Badger) UpdateTask(ctx context.Context, task *domain.Task) error {
	return b.SaveTask(ctx, task)
}

func (b *Badger) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	var task domain.Task

	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(taskKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return xjson.Unmarshal(val, &task)
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, domain.NewNotFoundError("task", id)
	}
	if err != nil {
		return nil, domain.Error{
			Type:    domain.ErrorTypeInternal,
			Message: "failed to read task",
			Details: map[string]interface{}{"task_id": id},
			Err:     err,
		}
	}

	return &task, nil
}

func (b *Badger) ListTasks(ctx context.Context) ([]*domain.Task, error) {
	var tasks []*domain.Task

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte("task:")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var task domain.Task
				if err := xjson.Unmarshal(val, &task); err != nil {
					b.logger.Warn("skipping malformed task record",
						"key", string(item.Key()),
						"error", err)
					return nil
				}
				tasks = append(tasks, &task)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, domain.Error{
			Type:    domain.ErrorTypeInternal,
			Message: "failed to list tasks",
			Err:     err,
		}
	}

	return tasks, nil
}

func (b *Badger) SaveToolRun(ctx context.Context, run *domain.ToolRun) error {
	if run == nil || run.ID == "" {
		return domain.Error{
			Type:    domain.ErrorTypeValidation,
			Message: "tool run id is required",
		}
	}
	return b.set(toolRunKey(run), run, 0)
}

func (b *Badger) ListToolRuns(ctx context.Context) ([]*domain.ToolRun, error) {
	var runs []*domain.ToolRun

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte("toolrun:")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var run domain.ToolRun
				if err := xjson.Unmarshal(val, &run); err != nil {
					b.logger.Warn("skipping malformed tool run record",
						"key", string(item.Key()),
						"error", err)
					return nil
				}
				runs = append(runs, &run)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, domain.Error{
			Type:    domain.ErrorTypeInternal,
			Message: "failed to list tool runs",
			Err:     err,
		}
	}

	return runs, nil
}

func (b *Badger) SaveTranscript(ctx context.Context, transcript *domain.Transcript) error {
	if transcript == nil || transcript.RunID == "" {
		return domain.Error{
			Type:    domain.ErrorTypeValidation,
			Message: "transcript run id is required",
		}
	}
	return b.set(transcriptKey(transcript.RunID), transcript, b.transcriptTTL)
}

func (b *Badger) SaveEvent(ctx context.Context, event *domain.Event) error {
	if event == nil || event.Name == "" {
		return domain.Error{
			Type:    domain.ErrorTypeValidation,
			Message: "event name is required",
		}
	}
	return b.set(eventKey(event), event, b.eventTTL)
}

// ListEvents returns persisted events for one name in sequence order.
// A zero limit returns everything.
func (b *Badger) ListEvents(ctx context.Context, name string, limit int) ([]*domain.Event, error) {
	var events []*domain.Event

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte("event:" + name + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix) && (limit == 0 || len(events) < limit); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var event domain.Event
				if err := xjson.Unmarshal(val, &event); err != nil {
					b.logger.Warn("skipping malformed event record",
						"key", string(item.Key()),
						"error", err)
					return nil
				}
				events = append(events, &event)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, domain.Error{
			Type:    domain.ErrorTypeInternal,
			Message: "failed to list events",
			Details: map[string]interface{}{"name": name},
			Err:     err,
		}
	}

	return events, nil
}

func (b *Badger) SaveWorkflowNode(ctx context.Context, node *domain.WorkflowNode) error {
	if node == nil || node.ID == "" {
		return domain.Error{
			Type:    domain.ErrorTypeValidation,
			Message: "workflow node id is required",
		}
	}
	return b.set(workflowNodeKey(node.ID), node, 0)
}

func (b *Badger) Close() error {
	return b.db.Close()
}
