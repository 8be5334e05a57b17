package cli

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// MessageFile is the structured form of a batch ingestion file.
//
//	messages:
//	  - My wife Lena loves sushi
//	  - We're going to Tokyo in March
type MessageFile struct {
	Messages []string `yaml:"messages" json:"messages"`
}

// LoadMessages reads messages for batch ingestion from path, or from stdin
// when path is "-".
func LoadMessages(path string) ([]string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return ParseMessages(data, "")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return ParseMessages(data, path)
}

// ParseMessages parses messages based on file extension. YAML and JSON files
// hold either a list of strings or a MessageFile; anything else is plain
// text with one message per line, where blank lines and lines starting with
// '#' are skipped.
func ParseMessages(data []byte, filename string) ([]string, error) {
	var msgs []string
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		if err := parseStructured(data, yaml.Unmarshal, &msgs); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := parseStructured(data, json.Unmarshal, &msgs); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		sc := bufio.NewScanner(bytes.NewReader(data))
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			msgs = append(msgs, sc.Text())
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("failed to read messages: %w", err)
		}
	}

	out := msgs[:0]
	for _, m := range msgs {
		m = strings.TrimSpace(m)
		if m == "" || strings.HasPrefix(m, "#") {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func parseStructured(data []byte, unmarshal func([]byte, any) error, msgs *[]string) error {
	if err := unmarshal(data, msgs); err == nil {
		return nil
	}
	var f MessageFile
	if err := unmarshal(data, &f); err != nil {
		return err
	}
	*msgs = f.Messages
	return nil
}
