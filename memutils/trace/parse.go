package trace

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// Parse reads a trace in the text format used by heap allocator drivers: four header lines
// holding the suggested heap size, the number of ids, the number of ops and the weight, followed
// by one op per line. Ops are "a <id> <size>", "f <id>" or "r <id> <size>". Blank lines are
// skipped.
func Parse(r io.Reader) (*Trace, error) {
	scanner := bufio.NewScanner(r)
	lineNumber := 0

	nextLine := func() ([]string, bool) {
		for scanner.Scan() {
			lineNumber++
			fields := strings.Fields(scanner.Text())
			if len(fields) > 0 {
				return fields, true
			}
		}
		return nil, false
	}

	var header [4]int
	headerNames := [4]string{"suggested heap size", "id count", "op count", "weight"}
	for i := range header {
		fields, ok := nextLine()
		if !ok {
			return nil, errors.Wrapf(ErrMalformedTrace, "trace ended before the %s", headerNames[i])
		}

		if len(fields) != 1 {
			return nil, errors.Wrapf(ErrMalformedTrace, "line %d: expected the %s", lineNumber, headerNames[i])
		}

		value, err := strconv.Atoi(fields[0])
		if err != nil || value < 0 {
			return nil, errors.Wrapf(ErrMalformedTrace, "line %d: invalid %s %q", lineNumber, headerNames[i], fields[0])
		}
		header[i] = value
	}

	if header[1] > MaxIDs {
		return nil, errors.Wrapf(ErrMalformedTrace, "trace declares %d ids, more than the limit of %d", header[1], MaxIDs)
	}

	t := &Trace{
		SuggestedHeapSize: header[0],
		NumIDs:            header[1],
		Weight:            header[3],
		Ops:               make([]Op, 0, presize(header[2])),
	}

	for {
		fields, ok := nextLine()
		if !ok {
			break
		}

		op, err := parseOp(fields)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", lineNumber)
		}
		t.Ops = append(t.Ops, op)
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "could not read trace")
	}

	if len(t.Ops) != header[2] {
		return nil, errors.Wrapf(ErrMalformedTrace, "trace declares %d ops but contains %d", header[2], len(t.Ops))
	}

	err := t.Validate()
	if err != nil {
		return nil, err
	}

	return t, nil
}

func parseOp(fields []string) (Op, error) {
	if len(fields[0]) != 1 {
		return Op{}, errors.Wrapf(ErrMalformedTrace, "unknown op %q", fields[0])
	}

	op := Op{Kind: OpKind(fields[0][0])}

	expectedFields := 3
	switch op.Kind {
	case OpAllocate, OpResize:
	case OpFree:
		expectedFields = 2
	default:
		return Op{}, errors.Wrapf(ErrMalformedTrace, "unknown op %q", fields[0])
	}

	if len(fields) != expectedFields {
		return Op{}, errors.Wrapf(ErrMalformedTrace, "%s op takes %d fields but has %d", op.Kind, expectedFields, len(fields))
	}

	var err error
	op.ID, err = strconv.Atoi(fields[1])
	if err != nil {
		return Op{}, errors.Wrapf(ErrMalformedTrace, "invalid id %q", fields[1])
	}

	if expectedFields == 3 {
		op.Size, err = strconv.Atoi(fields[2])
		if err != nil {
			return Op{}, errors.Wrapf(ErrMalformedTrace, "invalid size %q", fields[2])
		}
	}

	return op, nil
}

// ParseFile reads and parses the trace file at path
func ParseFile(path string) (*Trace, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open trace %s", path)
	}
	defer file.Close()

	t, err := Parse(file)
	if err != nil {
		return nil, errors.Wrapf(err, "trace %s", path)
	}

	return t, nil
}

// WriteTo writes the trace in the format read by Parse
func (t *Trace) WriteTo(w io.Writer) (int64, error) {
	buffered := bufio.NewWriter(w)
	var written int64

	write := func(format string, args ...any) error {
		n, err := fmt.Fprintf(buffered, format, args...)
		written += int64(n)
		return err
	}

	err := write("%d\n%d\n%d\n%d\n", t.SuggestedHeapSize, t.NumIDs, len(t.Ops), t.Weight)
	if err != nil {
		return written, err
	}

	for _, op := range t.Ops {
		if op.Kind == OpFree {
			err = write("%c %d\n", byte(op.Kind), op.ID)
		} else {
			err = write("%c %d %d\n", byte(op.Kind), op.ID, op.Size)
		}
		if err != nil {
			return written, err
		}
	}

	return written, buffered.Flush()
}
