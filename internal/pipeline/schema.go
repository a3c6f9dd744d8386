package pipeline

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// ErrMalformedPayload reports a bus payload that failed schema validation.
// Workers treat it as a poison message: log, commit the offset, drop.
var ErrMalformedPayload = errors.New("malformed task payload")

var (
	searchSchema  = lazySchema("schemas/search_task.json")
	analyzeSchema = lazySchema("schemas/analyze_task.json")
	archiveSchema = lazySchema("schemas/archive_task.json")
)

func lazySchema(path string) func() (*gojsonschema.Schema, error) {
	return sync.OnceValues(func() (*gojsonschema.Schema, error) {
		raw, err := schemaFS.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", path, err)
		}

		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", path, err)
		}

		return schema, nil
	})
}

func validate(load func() (*gojsonschema.Schema, error), raw []byte) error {
	schema, err := load()
	if err != nil {
		return err
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		// Not even parseable JSON.
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	if result.Valid() {
		return nil
	}

	reasons := make([]string, 0, len(result.Errors()))
	for _, verr := range result.Errors() {
		reasons = append(reasons, verr.String())
	}

	return fmt.Errorf("%w: %s", ErrMalformedPayload, strings.Join(reasons, "; "))
}

// DecodeSearchTask validates raw against the SearchTask schema and decodes it.
func DecodeSearchTask(raw []byte) (SearchTask, error) {
	if err := validate(searchSchema, raw); err != nil {
		return SearchTask{}, err
	}

	var task SearchTask

	if err := json.Unmarshal(raw, &task); err != nil {
		return SearchTask{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	return task, nil
}

// DecodeAnalyzeTask validates raw against the AnalyzeTask schema and decodes
// it. Phase values are checked separately by Phase.Validate so workers can
// distinguish an unknown phase from a malformed payload.
func DecodeAnalyzeTask(raw []byte) (AnalyzeTask, error) {
	if err := validate(analyzeSchema, raw); err != nil {
		return AnalyzeTask{}, err
	}

	var task AnalyzeTask

	if err := json.Unmarshal(raw, &task); err != nil {
		return AnalyzeTask{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	return task, nil
}

// DecodeArchiveTask validates raw against the ArchiveTask schema and decodes it.
func DecodeArchiveTask(raw []byte) (ArchiveTask, error) {
	if err := validate(archiveSchema, raw); err != nil {
		return ArchiveTask{}, err
	}

	var task ArchiveTask

	if err := json.Unmarshal(raw, &task); err != nil {
		return ArchiveTask{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	return task, nil
}
