package app

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/lucid-softworks/akari/internal/protocol"
)

// parseParams turns key=value arguments into query parameters. A key given
// more than once becomes a repeated parameter.
func parseParams(args []string) (protocol.Params, error) {
	params := protocol.Params{}
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q: expected key=value", arg)
		}
		switch existing := params[key].(type) {
		case nil:
			params[key] = value
		case string:
			params[key] = []string{existing, value}
		case []string:
			params[key] = append(existing, value)
		}
	}
	return params, nil
}

type batchItem struct {
	line   int
	nsid   string
	params protocol.Params
}

// parseBatch reads one query per line: an NSID followed by key=value
// parameters. Blank lines and lines starting with # are skipped.
func parseBatch(r io.Reader) ([]batchItem, error) {
	var items []batchItem
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		if !protocol.ValidNSID(fields[0]) {
			return nil, fmt.Errorf("batch line %d: invalid method NSID %q", line, fields[0])
		}
		params, err := parseParams(fields[1:])
		if err != nil {
			return nil, fmt.Errorf("batch line %d: %w", line, err)
		}
		items = append(items, batchItem{line: line, nsid: fields[0], params: params})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("batch: %w", err)
	}
	if len(items) == 0 {
		return nil, errors.New("batch: no calls in input")
	}
	return items, nil
}

// readData resolves a --data argument: "-" reads stdin, "@path" reads a
// file, anything else is the literal JSON.
func readData(arg string, stdin io.Reader) (json.RawMessage, error) {
	var (
		b   []byte
		err error
	)
	switch {
	case arg == "-":
		b, err = io.ReadAll(stdin)
	case strings.HasPrefix(arg, "@"):
		b, err = os.ReadFile(strings.TrimPrefix(arg, "@"))
	default:
		b = []byte(arg)
	}
	if err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	if !json.Valid(b) {
		return nil, errors.New("input is not valid JSON")
	}
	return json.RawMessage(b), nil
}
