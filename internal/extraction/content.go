package extraction

import (
	"bufio"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Parsing methods reported in results
const (
	MethodPlainText   = "plain_text"
	MethodJSON        = "json"
	MethodXML         = "xml"
	MethodYAML        = "yaml"
	MethodINI         = "ini"
	MethodLog         = "log_analysis"
	MethodCSV         = "csv"
	MethodUnsupported = "unsupported"
)

// binaryDocExts are document formats that need a dedicated binary parser.
// They are inventoried with metadata only.
var binaryDocExts = map[string]bool{
	".pdf": true, ".doc": true, ".docx": true, ".odt": true,
	".ppt": true, ".pptx": true, ".xls": true, ".xlsx": true, ".ods": true,
	".rtf": true,
}

// ContentResult is parsed file content
type ContentResult struct {
	Method     string         `json:"parsing_method"`
	Text       string         `json:"text,omitempty"`
	Structured map[string]any `json:"structured,omitempty"`
	LineCount  int            `json:"line_count,omitempty"`
}

// ParseContent reads and parses a text-bearing file. maxSize caps how much
// is read; larger files fall back to unsupported so callers degrade to
// metadata.
func ParseContent(path string, maxSize int64) (*ContentResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if maxSize > 0 && info.Size() > maxSize {
		return &ContentResult{Method: MethodUnsupported}, nil
	}

	ext := strings.ToLower(filepath.Ext(path))
	if binaryDocExts[ext] {
		return &ContentResult{Method: MethodUnsupported}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	switch ext {
	case ".json":
		return parseJSON(data)
	case ".xml", ".html", ".htm":
		return parseXML(data)
	case ".yaml", ".yml":
		return parseYAML(data)
	case ".ini", ".conf", ".cfg", ".properties", ".env":
		return parseINI(data), nil
	case ".log":
		return parseLog(data), nil
	}

	text := string(data)
	return &ContentResult{
		Method:    MethodPlainText,
		Text:      text,
		LineCount: strings.Count(text, "\n") + 1,
	}, nil
}

// flatten turns nested maps into dotted key paths, the shape downstream
// tabular processing expects
func flatten(prefix string, value any, out map[string]any) {
	switch v := value.(type) {
	case map[string]any:
		for key, child := range v {
			path := key
			if prefix != "" {
				path = prefix + "." + key
			}
			flatten(path, child, out)
		}
	case []any:
		out[prefix+".length"] = len(v)
		for i, child := range v {
			if i >= 10 {
				break
			}
			flatten(fmt.Sprintf("%s[%d]", prefix, i), child, out)
		}
	default:
		out[prefix] = v
	}
}

func parseJSON(data []byte) (*ContentResult, error) {
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		// Malformed JSON still carries text worth chunking
		return &ContentResult{Method: MethodPlainText, Text: string(data)}, nil
	}

	structured := make(map[string]any)
	flatten("", value, structured)
	return &ContentResult{Method: MethodJSON, Text: string(data), Structured: structured}, nil
}

func parseYAML(data []byte) (*ContentResult, error) {
	var value any
	if err := yaml.Unmarshal(data, &value); err != nil {
		return &ContentResult{Method: MethodPlainText, Text: string(data)}, nil
	}

	structured := make(map[string]any)
	flatten("", normalizeYAML(value), structured)
	return &ContentResult{Method: MethodYAML, Text: string(data), Structured: structured}, nil
}

// normalizeYAML rewrites map[any]any nodes into map[string]any so flatten
// can walk them
func normalizeYAML(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, child := range v {
			out[key] = normalizeYAML(child)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(v))
		for key, child := range v {
			out[fmt.Sprint(key)] = normalizeYAML(child)
		}
		return out
	case []any:
		for i := range v {
			v[i] = normalizeYAML(v[i])
		}
		return v
	}
	return value
}

// xmlNode is a generic element tree
type xmlNode struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Content  string     `xml:",chardata"`
	Children []xmlNode  `xml:",any"`
}

func parseXML(data []byte) (*ContentResult, error) {
	var root xmlNode
	if err := xml.Unmarshal(data, &root); err != nil {
		return &ContentResult{Method: MethodPlainText, Text: string(data)}, nil
	}

	structured := make(map[string]any)
	flattenXML(root.XMLName.Local, &root, structured)
	return &ContentResult{Method: MethodXML, Text: string(data), Structured: structured}, nil
}

func flattenXML(prefix string, node *xmlNode, out map[string]any) {
	for _, attr := range node.Attrs {
		out[prefix+"@"+attr.Name.Local] = attr.Value
	}
	if len(node.Children) == 0 {
		if text := strings.TrimSpace(node.Content); text != "" {
			out[prefix] = text
		}
		return
	}
	for i := range node.Children {
		child := &node.Children[i]
		flattenXML(prefix+"."+child.XMLName.Local, child, out)
	}
}

func parseINI(data []byte) *ContentResult {
	structured := make(map[string]any)
	section := ""

	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	lines := 0
	for scanner.Scan() {
		lines++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.Trim(line, "[]")
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			key, value, found = strings.Cut(line, ":")
		}
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		if section != "" {
			key = section + "." + key
		}
		structured[key] = strings.TrimSpace(value)
	}

	return &ContentResult{
		Method:     MethodINI,
		Text:       string(data),
		Structured: structured,
		LineCount:  lines,
	}
}

var (
	logLevelRe     = regexp.MustCompile(`(?i)\b(TRACE|DEBUG|INFO|WARN(?:ING)?|ERROR|FATAL|CRITICAL)\b`)
	logTimestampRe = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}`)
)

func parseLog(data []byte) *ContentResult {
	levels := make(map[string]int)
	timestamped := 0
	lines := 0
	var firstTS, lastTS string

	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		lines++

		if m := logLevelRe.FindString(line); m != "" {
			level := strings.ToUpper(m)
			if level == "WARNING" {
				level = "WARN"
			}
			levels[level]++
		}
		if ts := logTimestampRe.FindString(line); ts != "" {
			timestamped++
			if firstTS == "" {
				firstTS = ts
			}
			lastTS = ts
		}
	}

	structured := map[string]any{
		"total_lines":       lines,
		"timestamped_lines": timestamped,
	}
	for level, count := range levels {
		structured["level_"+strings.ToLower(level)] = count
	}
	if firstTS != "" {
		structured["first_timestamp"] = firstTS
		structured["last_timestamp"] = lastTS
	}

	return &ContentResult{
		Method:     MethodLog,
		Text:       string(data),
		Structured: structured,
		LineCount:  lines,
	}
}
