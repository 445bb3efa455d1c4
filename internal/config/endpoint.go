package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// UpdateClientEndpoint rewrites client.host and client.port in the file at
// path, creating the file or the client section when absent. Other keys and
// comments are kept. A file that was locked is re-locked afterwards.
func UpdateClientEndpoint(path, host string, port int) error {
	var doc yaml.Node
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("failed to parse YAML: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return fmt.Errorf("failed to read file: %w", err)
	}

	if doc.Kind == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return fmt.Errorf("%s: top level must be a mapping", path)
	}

	client := mappingValue(doc.Content[0], "client")
	if client.Kind == yaml.ScalarNode && client.Tag == "!!null" {
		client.Kind, client.Tag, client.Value = yaml.MappingNode, "!!map", ""
	}
	if client.Kind != yaml.MappingNode {
		return fmt.Errorf("%s: client must be a mapping", path)
	}
	setScalar(client, "host", host, "!!str")
	setScalar(client, "port", strconv.Itoa(port), "!!int")

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}

	wasLocked := Locked(path)
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if wasLocked {
		if _, err := Lock(path); err != nil {
			return fmt.Errorf("re-lock config: %w", err)
		}
	}
	return nil
}

// mappingValue returns the value node for key, appending an empty mapping when missing.
func mappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	v := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, v)
	return v
}

func setScalar(m *yaml.Node, key, value, tag string) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			v := m.Content[i+1]
			v.Kind, v.Tag, v.Value, v.Style = yaml.ScalarNode, tag, value, 0
			v.Content = nil
			return
		}
	}
	m.Content = append(m.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		&yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: value},
	)
}
