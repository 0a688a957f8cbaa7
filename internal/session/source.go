package session

import (
	"context"
	"os"
	"strings"

	"qvet/internal/rewrite"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// CandidateSource hands the session the candidate rewrites proposed for one
// original query. It models the upstream generator; the CLI ships a YAML
// batch-file source, a live generator would implement the same interface.
type CandidateSource interface {
	Generate(ctx context.Context) ([]rewrite.Candidate, error)
}

// Batch is one validation request: an original query plus the candidate
// rewrites proposed for it.
type Batch struct {
	Original   string              `yaml:"original"`
	Candidates []rewrite.Candidate `yaml:"candidates"`
}

// BatchFileSource reads candidates from a YAML batch file. The file is loaded
// once, on first use.
type BatchFileSource struct {
	Path string

	batch *Batch
}

func (s *BatchFileSource) load() (*Batch, error) {
	if s.batch == nil {
		batch, err := LoadBatch(s.Path)
		if err != nil {
			return nil, err
		}
		s.batch = &batch
	}
	return s.batch, nil
}

// Original returns the batch file's original query.
func (s *BatchFileSource) Original() (string, error) {
	batch, err := s.load()
	if err != nil {
		return "", err
	}
	return batch.Original, nil
}

// Generate implements CandidateSource.
func (s *BatchFileSource) Generate(context.Context) ([]rewrite.Candidate, error) {
	batch, err := s.load()
	if err != nil {
		return nil, err
	}
	return batch.Candidates, nil
}

// ValidateSource pulls candidates from the source and runs the pipeline on
// them.
func (s *Session) ValidateSource(ctx context.Context, originalSQL string, src CandidateSource) ([]rewrite.CandidateReport, error) {
	candidates, err := src.Generate(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "generate candidates")
	}
	return s.Validate(ctx, originalSQL, candidates)
}

// LoadBatch reads a batch file.
func LoadBatch(path string) (Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Batch{}, err
	}
	var batch Batch
	if err := yaml.Unmarshal(data, &batch); err != nil {
		return Batch{}, errors.Wrapf(err, "parse batch file %s", path)
	}
	batch.Original = strings.TrimSpace(batch.Original)
	if batch.Original == "" {
		return Batch{}, errors.Errorf("batch file %s has no original query", path)
	}
	for i := range batch.Candidates {
		batch.Candidates[i].SQL = strings.TrimSpace(batch.Candidates[i].SQL)
		if batch.Candidates[i].SQL == "" {
			return Batch{}, errors.Errorf("batch file %s: candidate %d has no sql", path, i)
		}
	}
	return batch, nil
}
