// Package assembler joins translated chunks into the final artifact and
// serves paginated views of job output.
package assembler

import (
	"context"
	"fmt"
	"strings"

	"github.com/MimeLyc/book-translator/internal/chunker"
	"github.com/MimeLyc/book-translator/internal/errs"
	"github.com/MimeLyc/book-translator/internal/jobs"
	"github.com/MimeLyc/book-translator/pkg/log"
)

// ArtifactKey is the storage key of a job's final artifact. It is a pure
// function of the job so repeated assembly overwrites the same object.
func ArtifactKey(jobID string) string {
	return fmt.Sprintf("translations/job-%s.txt", jobID)
}

type Assembler struct {
	store     jobs.Store
	artifacts ArtifactStore
}

func New(store jobs.Store, artifacts ArtifactStore) *Assembler {
	return &Assembler{store: store, artifacts: artifacts}
}

// Assemble writes the artifact of a completed job and records its
// reference. A job that already has a reference is left untouched. Write
// failures leave the job completed with no reference so the call can be
// retried.
func (a *Assembler) Assemble(ctx context.Context, jobID string) (string, error) {
	job, err := a.store.GetJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	if job.ArtifactRef != "" {
		return job.ArtifactRef, nil
	}
	if job.Status != jobs.StatusCompleted {
		return "", errs.Newf(errs.KindAssembly, "job %s is %s, not completed", jobID, job.Status).
			WithContext("job_id", jobID)
	}

	chunks, err := a.store.ListChunks(ctx, jobID)
	if err != nil {
		return "", errs.Wrap(err, errs.KindAssembly, "list chunks").WithContext("job_id", jobID)
	}
	text, n := JoinCompleted(chunks)
	if n != job.TotalChunks {
		return "", errs.Newf(errs.KindAssembly, "job %s has %d of %d chunks completed", jobID, n, job.TotalChunks).
			WithContext("job_id", jobID)
	}

	key := ArtifactKey(jobID)
	if err := a.artifacts.Put(ctx, key, []byte(text)); err != nil {
		return "", errs.Wrap(err, errs.KindAssembly, "write artifact").
			WithContext("job_id", jobID).
			WithContext("key", key)
	}

	recorded, err := a.store.SetJobArtifact(ctx, jobID, key)
	if err != nil {
		return "", errs.Wrap(err, errs.KindAssembly, "record artifact").WithContext("job_id", jobID)
	}
	if !recorded {
		// a concurrent assembly won; the key is deterministic so its content is the same
		log.Debug("Artifact of job %s was already recorded", jobID)
	}
	log.Info("Wrote artifact %s for job %s (%d chunks, %d bytes)", key, jobID, n, len(text))
	return key, nil
}

// JoinCompleted concatenates the translations of completed chunks in index
// order, one blank line apart, and reports how many were used. chunks must
// already be sorted by index.
func JoinCompleted(chunks []*jobs.Chunk) (string, int) {
	var b strings.Builder
	n := 0
	for _, c := range chunks {
		if c.Status != jobs.StatusCompleted {
			continue
		}
		if n > 0 {
			b.WriteString(chunker.ParagraphSeparator)
		}
		b.WriteString(c.TranslatedText)
		n++
	}
	return b.String(), n
}
