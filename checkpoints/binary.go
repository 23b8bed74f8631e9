package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Binary checkpoints are serialized as a protobuf Struct holding the same
// document the JSON format produces. The protobuf wire format is compact
// and language-neutral, so a checkpoint can be inspected from non-Go
// tooling without a schema of its own.

func (s *Saver) saveBinary(checkpoint *Checkpoint, path string) error {
	doc, err := checkpointToStruct(checkpoint)
	if err != nil {
		return err
	}

	data, err := proto.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint proto: %v", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %v", err)
	}

	return nil
}

func (s *Saver) loadBinary(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %v", err)
	}

	var doc structpb.Struct
	if err := proto.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint proto: %v", err)
	}

	return structToCheckpoint(&doc)
}

// checkpointToStruct converts a checkpoint into a protobuf Struct by way of
// its JSON document form.
func checkpointToStruct(checkpoint *Checkpoint) (*structpb.Struct, error) {
	raw, err := json.Marshal(checkpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to encode checkpoint: %v", err)
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint document: %v", err)
	}

	doc, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to build checkpoint proto: %v", err)
	}

	return doc, nil
}

func structToCheckpoint(doc *structpb.Struct) (*Checkpoint, error) {
	raw, err := json.Marshal(doc.AsMap())
	if err != nil {
		return nil, fmt.Errorf("failed to encode checkpoint document: %v", err)
	}

	var checkpoint Checkpoint
	if err := json.Unmarshal(raw, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %v", err)
	}

	return &checkpoint, nil
}
