package schema

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pitwall/pitwall/internal/storage"
)

type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

const objectScheme = "s3://"

const maxArtifactBytes = 4 << 20

// Load reads the descriptor named by source. An empty source yields the built-in
// descriptor, an s3://<key> source is fetched through objects, anything else is a local path.
func Load(ctx context.Context, source string, objects storage.ObjectStore) (*Registry, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return Default()
	}

	var (
		raw []byte
		err error
	)
	if strings.HasPrefix(source, objectScheme) {
		raw, err = readObject(ctx, objects, strings.TrimPrefix(source, objectScheme))
	} else {
		raw, err = os.ReadFile(source)
	}
	if err != nil {
		return nil, fmt.Errorf("read schema %q: %w", source, err)
	}

	registry, err := Parse(raw, formatOf(source))
	if err != nil {
		return nil, fmt.Errorf("load schema %q: %w", source, err)
	}
	return registry, nil
}

// Parse decodes a descriptor artifact. Unknown keys are rejected.
func Parse(raw []byte, format Format) (*Registry, error) {
	var d Descriptor
	switch format {
	case FormatJSON:
		decoder := json.NewDecoder(bytes.NewReader(raw))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&d); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	case FormatYAML:
		decoder := yaml.NewDecoder(bytes.NewReader(raw))
		decoder.KnownFields(true)
		if err := decoder.Decode(&d); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%w: empty document", ErrInvalid)
			}
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported format %q", ErrInvalid, format)
	}
	return New(d)
}

func readObject(ctx context.Context, objects storage.ObjectStore, key string) ([]byte, error) {
	if objects == nil {
		return nil, errors.New("object storage is not configured")
	}
	reader, err := objects.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	raw, err := io.ReadAll(io.LimitReader(reader, maxArtifactBytes+1))
	if err != nil {
		return nil, err
	}
	if len(raw) > maxArtifactBytes {
		return nil, fmt.Errorf("artifact exceeds %d bytes", maxArtifactBytes)
	}
	return raw, nil
}

func formatOf(source string) Format {
	if strings.EqualFold(path.Ext(source), ".json") {
		return FormatJSON
	}
	return FormatYAML
}
