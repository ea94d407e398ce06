package jobs

import (
	"context"
	"fmt"
)

type MessageKind string

const (
	KindPrepareJob      MessageKind = "prepare_job"
	KindTranslateChunk  MessageKind = "translate_chunk"
	KindChunkCompleted  MessageKind = "chunk_completed"
	KindChunkFailed     MessageKind = "chunk_failed"
	KindCheckCompletion MessageKind = "check_completion"
	KindAssemble        MessageKind = "assemble"
)

// Message is the unit of work passed through the queue. Kind selects which
// of the other fields are meaningful.
type Message struct {
	Kind       MessageKind `json:"kind"`
	JobID      string      `json:"job_id"`
	ChunkIndex int         `json:"chunk_index,omitempty"`
	// Text carries the translation for KindChunkCompleted and the error
	// message for KindChunkFailed.
	Text string `json:"text,omitempty"`
}

func PrepareJobRequested(jobID string) Message {
	return Message{Kind: KindPrepareJob, JobID: jobID}
}

func ChunkTranslationRequested(jobID string, index int) Message {
	return Message{Kind: KindTranslateChunk, JobID: jobID, ChunkIndex: index}
}

func ChunkCompleted(jobID string, index int, translated string) Message {
	return Message{Kind: KindChunkCompleted, JobID: jobID, ChunkIndex: index, Text: translated}
}

func ChunkFailed(jobID string, index int, errMsg string) Message {
	return Message{Kind: KindChunkFailed, JobID: jobID, ChunkIndex: index, Text: errMsg}
}

func JobCompletionCheckRequested(jobID string) Message {
	return Message{Kind: KindCheckCompletion, JobID: jobID}
}

func AssembleRequested(jobID string) Message {
	return Message{Kind: KindAssemble, JobID: jobID}
}

// DedupeKey identifies messages that may be collapsed while waiting in a
// queue. Chunk results are never collapsed.
func (m Message) DedupeKey() string {
	switch m.Kind {
	case KindPrepareJob, KindCheckCompletion, KindAssemble:
		return fmt.Sprintf("%s|%s", m.Kind, m.JobID)
	case KindTranslateChunk:
		return fmt.Sprintf("%s|%s|%d", m.Kind, m.JobID, m.ChunkIndex)
	default:
		return ""
	}
}

func (m Message) String() string {
	switch m.Kind {
	case KindTranslateChunk, KindChunkCompleted, KindChunkFailed:
		return fmt.Sprintf("%s(job=%s, chunk=%d)", m.Kind, m.JobID, m.ChunkIndex)
	default:
		return fmt.Sprintf("%s(job=%s)", m.Kind, m.JobID)
	}
}

// Dispatcher enqueues messages for asynchronous handling with at-least-once
// delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message) error
}

type DispatcherFunc func(ctx context.Context, msg Message) error

func (f DispatcherFunc) Dispatch(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}
