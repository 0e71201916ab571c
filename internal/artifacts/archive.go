package artifacts

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"keyvex/internal/logging"
	"keyvex/internal/metrics"
	"keyvex/internal/tcc"

	"go.uber.org/zap"
)

const toolPrefix = "tools/"

// Archive stores tool definitions under tools/<jobId>.json
type Archive struct {
	storage Storage
}

func NewArchive(storage Storage) *Archive {
	return &Archive{storage: storage}
}

// Backend names the underlying storage
func (a *Archive) Backend() string { return a.storage.Name() }

func toolKey(jobID string) string {
	return toolPrefix + jobID + ".json"
}

// SaveTool implements agents.ToolArchiver
func (a *Archive) SaveTool(ctx context.Context, def *tcc.ToolDefinition) error {
	if def == nil || def.JobID == "" {
		return fmt.Errorf("save tool: missing job id")
	}
	data, err := json.MarshalIndent(def, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal tool: %w", err)
	}
	err = a.storage.Put(ctx, toolKey(def.JobID), data)
	metrics.Get().RecordToolArchived(a.storage.Name(), err)
	if err != nil {
		return err
	}
	logging.ForJob(def.JobID, "").Info("tool archived",
		zap.String("backend", a.storage.Name()), zap.String("slug", def.Slug), zap.Int("bytes", len(data)))
	return nil
}

// LoadTool returns the archived definition; ErrNotFound when absent
func (a *Archive) LoadTool(ctx context.Context, jobID string) (*tcc.ToolDefinition, error) {
	data, err := a.storage.Get(ctx, toolKey(jobID))
	if err != nil {
		return nil, err
	}
	var def tcc.ToolDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("corrupt tool archive %s: %w", jobID, err)
	}
	return &def, nil
}

// DeleteTool removes an archived tool
func (a *Archive) DeleteTool(ctx context.Context, jobID string) error {
	return a.storage.Delete(ctx, toolKey(jobID))
}

// ListTools returns the job IDs that have an archived tool
func (a *Archive) ListTools(ctx context.Context) ([]string, error) {
	keys, err := a.storage.List(ctx, toolPrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		if id := strings.TrimSuffix(strings.TrimPrefix(k, toolPrefix), ".json"); id != k && id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
