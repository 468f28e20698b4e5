package mapreduce

import (
	"fmt"
	"strings"

	"logsentinel/internal/analysis"
	"logsentinel/internal/config"
)

// MainWorker names the stage's own worker configuration.
const MainWorker = "main"

// Task is one unit of map work: a chunk of text plus the worker
// configuration analyzing it.
type Task struct {
	// Name is unique within a run, e.g. "main" or "auth-audit [2/3]".
	Name string
	// Worker is the configuration name ("main" or the substage name).
	Worker  string
	Primary bool
	Chunk   int
	Chunks  int
	Request analysis.Request
}

// BuildTasks expands (main + enabled substages) x chunks into tasks. base
// carries the per-run fields (source id, bonus context, attachments); the
// worker fields are filled from the stage configuration.
func BuildTasks(stage config.StageConfig, sourceCredential string, chunks [][]string, base analysis.Request) []Task {
	type workerSpec struct {
		name, model, prompt, credential string
		primary                         bool
	}
	workers := []workerSpec{{
		name:       MainWorker,
		model:      stage.Model,
		prompt:     stage.PromptFile,
		credential: firstNonBlank(stage.Credential, sourceCredential),
		primary:    true,
	}}
	for _, sub := range stage.Substages {
		if !sub.IsEnabled() {
			continue
		}
		workers = append(workers, workerSpec{
			name:       sub.Name,
			model:      firstNonBlank(sub.Model, stage.Model),
			prompt:     sub.PromptFile,
			credential: firstNonBlank(sub.Credential, stage.Credential, sourceCredential),
		})
	}

	tasks := make([]Task, 0, len(workers)*len(chunks))
	for _, w := range workers {
		for i, chunk := range chunks {
			req := base
			req.Worker = taskName(w.name, i+1, len(chunks))
			req.Model = w.model
			req.PromptFile = w.prompt
			req.Prompt = ""
			req.Credential = w.credential
			req.Content = strings.Join(chunk, "\n")
			tasks = append(tasks, Task{
				Name:    req.Worker,
				Worker:  w.name,
				Primary: w.primary,
				Chunk:   i + 1,
				Chunks:  len(chunks),
				Request: req,
			})
		}
	}
	return tasks
}

func taskName(worker string, chunk, chunks int) string {
	if chunks <= 1 {
		return worker
	}
	return fmt.Sprintf("%s [%d/%d]", worker, chunk, chunks)
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
