package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
)

// JSONOutput appends one JSON object per line to a file per topic and hour.
type JSONOutput struct {
	basePath string
	folder   string

	mu    sync.Mutex
	files map[string]*os.File
}

func NewJSONOutput(basePath, folder string) *JSONOutput {
	return &JSONOutput{
		basePath: basePath,
		folder:   folder,
		files:    make(map[string]*os.File),
	}
}

func (j *JSONOutput) WriteMessage(topic string, msg []byte) error {
	event, ts, err := decodeEvent(msg)
	if err != nil {
		return err
	}
	key, path, err := dataFile(j.basePath, j.folder, topic, partitionPath(ts), "data.json")
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	file, ok := j.files[key]
	if !ok {
		file, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		j.files[key] = file
	}

	line, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = file.Write(append(line, '\n'))
	return err
}

func (j *JSONOutput) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	var firstErr error
	for key, file := range j.files {
		if err := file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(j.files, key)
	}
	return firstErr
}

// CSVOutput writes a header taken from the first event of each file, then
// one row per event in header order.
type CSVOutput struct {
	basePath string
	folder   string

	mu      sync.Mutex
	files   map[string]*os.File
	writers map[string]*csv.Writer
	headers map[string][]string
}

func NewCSVOutput(basePath, folder string) *CSVOutput {
	return &CSVOutput{
		basePath: basePath,
		folder:   folder,
		files:    make(map[string]*os.File),
		writers:  make(map[string]*csv.Writer),
		headers:  make(map[string][]string),
	}
}

func (c *CSVOutput) WriteMessage(topic string, msg []byte) error {
	event, ts, err := decodeEvent(msg)
	if err != nil {
		return err
	}
	key, path, err := dataFile(c.basePath, c.folder, topic, partitionPath(ts), "data.csv")
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.writers[key]
	if !ok {
		file, err := os.Create(path)
		if err != nil {
			return err
		}
		w = csv.NewWriter(file)
		c.files[key] = file
		c.writers[key] = w

		headers := sortedKeys(event)
		if err := w.Write(headers); err != nil {
			return err
		}
		c.headers[key] = headers
	}

	row := make([]string, len(c.headers[key]))
	for i, header := range c.headers[key] {
		if value, ok := event[header]; ok && value != nil {
			row[i] = formatValue(value)
		}
	}
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func (c *CSVOutput) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for key, w := range c.writers {
		w.Flush()
		if err := w.Error(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := c.files[key].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.writers = make(map[string]*csv.Writer)
	c.files = make(map[string]*os.File)
	return firstErr
}

func sortedKeys(event map[string]interface{}) []string {
	keys := make([]string, 0, len(event))
	for k := range event {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// formatValue prints whole JSON numbers without an exponent.
func formatValue(v interface{}) string {
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%v", v)
}
