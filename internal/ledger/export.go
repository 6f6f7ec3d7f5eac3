package ledger

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/davidahmann/riskledger/internal/crypto"
	"github.com/davidahmann/riskledger/pkg/types"
)

// ChecksumPrefix starts the trailing line of an export.
const ChecksumPrefix = "# SHA256="

var CSVHeader = []string{
	"seq", "decision_id", "ts_utc", "order_id", "customer_id", "input_json", "score",
	"thresholds_json", "decision", "rule_version", "data_version", "actor_sys", "actor_ux",
	"overridden", "override_reason", "second_approval", "prev_hash", "row_hash",
}

var (
	ErrCSVHeader = errors.New("export header does not match ledger columns")
	ErrCSVRow    = errors.New("malformed export row")
)

// WriteCSV writes records followed by the checksum footer and returns the
// checksum. The checksum covers every byte before the footer line.
func WriteCSV(w io.Writer, records []Record) (string, error) {
	body, err := EncodeCSV(records)
	if err != nil {
		return "", err
	}
	sum := crypto.DigestHex(body)
	if _, err := w.Write(body); err != nil {
		return "", err
	}
	if _, err := io.WriteString(w, ChecksumPrefix+sum+"\n"); err != nil {
		return "", err
	}
	return sum, nil
}

// EncodeCSV renders the header and data rows without a footer.
func EncodeCSV(records []Record) ([]byte, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write(CSVHeader); err != nil {
		return nil, err
	}
	for _, rec := range records {
		if err := cw.Write(recordRow(rec)); err != nil {
			return nil, err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Snapshot is a parsed export.
type Snapshot struct {
	Records []Record
	// Checksum is the footer value, empty when the footer is absent.
	Checksum string
	// Computed is the digest of the bytes preceding the footer.
	Computed string
}

func ReadCSV(r io.Reader) (Snapshot, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Snapshot{}, err
	}

	body, checksum := splitFooter(data)
	snap := Snapshot{Checksum: checksum, Computed: crypto.DigestHex(body)}

	cr := csv.NewReader(bytes.NewReader(body))
	cr.FieldsPerRecord = len(CSVHeader)
	header, err := cr.Read()
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrCSVHeader, err)
	}
	if strings.Join(header, ",") != strings.Join(CSVHeader, ",") {
		return Snapshot{}, ErrCSVHeader
	}
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Snapshot{}, fmt.Errorf("%w: %v", ErrCSVRow, err)
		}
		rec, err := parseRow(row)
		if err != nil {
			return Snapshot{}, fmt.Errorf("%w: line %d: %v", ErrCSVRow, line, err)
		}
		snap.Records = append(snap.Records, rec)
	}
	return snap, nil
}

// VerifyCSV checks the chain of an export, then its detached checksum. An
// export starting past seq 1 is anchored to its first stored prev_hash.
func VerifyCSV(r io.Reader) (int, error) {
	snap, err := ReadCSV(r)
	if err != nil {
		return 0, err
	}
	n, err := VerifyChain(snap.Records, VerifyOptions{TrustFirstPrevHash: true})
	if err != nil {
		return n, err
	}
	if snap.Checksum == "" {
		return n, &IntegrityError{Kind: KindChecksumMissing}
	}
	if snap.Checksum != snap.Computed {
		return n, &IntegrityError{Kind: KindChecksum, Expected: snap.Checksum, Computed: snap.Computed}
	}
	return n, nil
}

// splitFooter separates the last "# SHA256=" line from the content before it.
func splitFooter(data []byte) ([]byte, string) {
	trimmed := bytes.TrimRight(data, "\r\n")
	start := bytes.LastIndexByte(trimmed, '\n') + 1
	last := string(trimmed[start:])
	if !strings.HasPrefix(last, ChecksumPrefix) {
		return data, ""
	}
	return data[:start], strings.TrimSpace(strings.TrimPrefix(last, ChecksumPrefix))
}

func recordRow(rec Record) []string {
	return []string{
		strconv.FormatInt(rec.Seq, 10),
		rec.DecisionID,
		rec.TSUTC,
		rec.OrderID,
		rec.CustomerID,
		rec.InputJSON,
		strconv.Itoa(rec.Score),
		rec.ThresholdsJSON,
		string(rec.Decision),
		rec.RuleVersion,
		rec.DataVersion,
		rec.ActorSys,
		nullable(rec.ActorUX),
		strconv.Itoa(boolInt(rec.Overridden)),
		nullable(rec.OverrideReason),
		strconv.Itoa(boolInt(rec.SecondApproval)),
		rec.PrevHash,
		rec.RowHash,
	}
}

func parseRow(row []string) (Record, error) {
	seq, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("seq: %w", err)
	}
	score, err := strconv.Atoi(row[6])
	if err != nil {
		return Record{}, fmt.Errorf("score: %w", err)
	}
	overridden, err := parseFlag(row[13])
	if err != nil {
		return Record{}, fmt.Errorf("overridden: %w", err)
	}
	secondApproval, err := parseFlag(row[15])
	if err != nil {
		return Record{}, fmt.Errorf("second_approval: %w", err)
	}
	return Record{
		Seq:            seq,
		DecisionID:     row[1],
		TSUTC:          row[2],
		OrderID:        row[3],
		CustomerID:     row[4],
		InputJSON:      row[5],
		Score:          score,
		ThresholdsJSON: row[7],
		Decision:       types.Verdict(row[8]),
		RuleVersion:    row[9],
		DataVersion:    row[10],
		ActorSys:       row[11],
		ActorUX:        optional(row[12]),
		Overridden:     overridden,
		OverrideReason: optional(row[14]),
		SecondApproval: secondApproval,
		PrevHash:       row[16],
		RowHash:        row[17],
	}, nil
}

func parseFlag(s string) (bool, error) {
	switch s {
	case "0":
		return false, nil
	case "1":
		return true, nil
	default:
		return false, fmt.Errorf("expected 0 or 1, got %q", s)
	}
}

func nullable(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
