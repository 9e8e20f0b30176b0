package db

import (
	"fmt"
	"os"

	"github.com/agent-lens/backend/internal/model"
	"gopkg.in/yaml.v3"
)

// LoadTraceFile - YAML/JSON trace 파일 로드
// 최상위가 trace 목록이거나 `traces:` 키 아래 목록인 두 형식을 모두 허용
func LoadTraceFile(path string) ([]model.Trace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trace file: %w", err)
	}
	return ParseTraces(data)
}

func ParseTraces(data []byte) ([]model.Trace, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse trace file: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, fmt.Errorf("trace file is empty")
	}

	root := doc.Content[0]
	var traces []model.Trace
	switch root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&traces); err != nil {
			return nil, fmt.Errorf("failed to decode traces: %w", err)
		}
	case yaml.MappingNode:
		var wrapped struct {
			Traces []model.Trace `yaml:"traces"`
		}
		if err := root.Decode(&wrapped); err != nil {
			return nil, fmt.Errorf("failed to decode traces: %w", err)
		}
		traces = wrapped.Traces
	default:
		return nil, fmt.Errorf("trace file must contain a list of traces")
	}

	for i, t := range traces {
		if t.TraceID == "" || t.AgentIDHash == "" {
			return nil, fmt.Errorf("trace #%d: trace_id and agent_id_hash are required", i+1)
		}
	}
	return traces, nil
}
