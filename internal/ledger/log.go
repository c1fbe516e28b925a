package ledger

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/zeebo/blake3"
)

// logLedger stores one record per line:
//
//	<16 hex digits of blake3(json)> <json>\n
//
// A damaged final line is a torn write from a crash and is discarded on
// open. Damage anywhere else is reported as corruption.
type logLedger struct {
	path    string
	f       *os.File
	lock    *fileLock
	records []Record
	index   map[Identity]struct{}
	broken  error // set after a failed append; the file tail is unknown
}

func openLog(path string, lock *fileLock) (*logLedger, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	data, err := io.ReadAll(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read ledger: %w", err)
	}

	records, validLen, err := parseLog(path, data)
	if err != nil {
		f.Close()
		return nil, err
	}

	if validLen < int64(len(data)) {
		slog.Warn("discarding torn ledger entry",
			"path", path,
			"bytes", int64(len(data))-validLen,
		)
		if err := f.Truncate(validLen); err != nil {
			f.Close()
			return nil, &CorruptError{Path: path, Err: fmt.Errorf("truncate torn entry: %w", err)}
		}
	}
	if _, err := f.Seek(validLen, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("seek ledger: %w", err)
	}

	l := &logLedger{
		path:  path,
		f:     f,
		lock:  lock,
		index: make(map[Identity]struct{}, len(records)),
	}
	for _, rec := range records {
		if _, dup := l.index[rec.Identity]; dup {
			continue
		}
		l.index[rec.Identity] = struct{}{}
		l.records = append(l.records, rec)
	}

	slog.Debug("ledger loaded", "path", path, "records", len(l.records))
	return l, nil
}

// parseLog decodes data and returns the records plus the length of the
// well-formed prefix.
func parseLog(path string, data []byte) ([]Record, int64, error) {
	var (
		records []Record
		offset  int64
		lineNum int
	)
	for len(data) > 0 {
		lineNum++
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			// No terminator: the final append never completed.
			return records, offset, nil
		}
		line := data[:i]
		if len(bytes.TrimSpace(line)) > 0 {
			rec, err := decodeEntry(line)
			if err != nil {
				if i == len(data)-1 {
					return records, offset, nil
				}
				return nil, 0, &CorruptError{Path: path, Line: lineNum, Err: err}
			}
			records = append(records, rec)
		}
		offset += int64(i + 1)
		data = data[i+1:]
	}
	return records, offset, nil
}

func checksum(payload []byte) string {
	sum := blake3.Sum256(payload)
	return hex.EncodeToString(sum[:8])
}

func encodeEntry(rec Record) ([]byte, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	var b bytes.Buffer
	b.WriteString(checksum(payload))
	b.WriteByte(' ')
	b.Write(payload)
	b.WriteByte('\n')
	return b.Bytes(), nil
}

func decodeEntry(line []byte) (Record, error) {
	sum, payload, ok := bytes.Cut(line, []byte{' '})
	if !ok {
		return Record{}, errors.New("missing checksum separator")
	}
	if string(sum) != checksum(payload) {
		return Record{}, errors.New("checksum mismatch")
	}
	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	if rec.Identity == "" {
		return Record{}, errors.New("record has empty identity")
	}
	return rec, nil
}

func (l *logLedger) Contains(id Identity) bool {
	_, ok := l.index[id]
	return ok
}

func (l *logLedger) Record(rec Record) error {
	if l.broken != nil {
		return l.broken
	}
	if rec.Identity == "" {
		return errors.New("record has empty identity")
	}
	if l.Contains(rec.Identity) {
		return nil
	}

	entry, err := encodeEntry(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.Identity, err)
	}
	if _, err := l.f.Write(entry); err != nil {
		l.broken = &CorruptError{Path: l.path, Err: fmt.Errorf("append %s: %w", rec.Identity, err)}
		return l.broken
	}
	if err := l.f.Sync(); err != nil {
		l.broken = &CorruptError{Path: l.path, Err: fmt.Errorf("sync %s: %w", rec.Identity, err)}
		return l.broken
	}

	l.index[rec.Identity] = struct{}{}
	l.records = append(l.records, rec)
	return nil
}

func (l *logLedger) Records() ([]Record, error) {
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out, nil
}

func (l *logLedger) Len() int     { return len(l.records) }
func (l *logLedger) Err() error   { return l.broken }
func (l *logLedger) Path() string { return l.path }

func (l *logLedger) Close() error {
	err := l.f.Close()
	if lerr := l.lock.release(); err == nil {
		err = lerr
	}
	return err
}
