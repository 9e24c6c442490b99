package markdups

import (
	"fmt"
	"strconv"
	"strings"
)

// SAM flag bits.
const (
	flagPaired        = 0x1
	flagUnmapped      = 0x4
	flagMateUnmapped  = 0x8
	flagReverse       = 0x10
	flagRead1         = 0x40
	flagRead2         = 0x80
	flagSecondary     = 0x100
	flagDuplicate     = 0x400
	flagSupplementary = 0x800
)

// A SAM alignment line has 11 mandatory tab-separated fields.
const samMinFields = 11

// record is one parsed SAM alignment line. The raw fields are kept so the
// line can be written back out with only the FLAG field rewritten.
type record struct {
	fields []string
	flag   int
	pos    int // 1-based leftmost mapping position
}

func parseRecord(line string) (*record, error) {
	fields := strings.Split(line, "\t")
	if len(fields) < samMinFields {
		return nil, fmt.Errorf("markdups: record has %d fields, want >= %d: %.80q", len(fields), samMinFields, line)
	}
	flag, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, fmt.Errorf("markdups: bad FLAG field %q: %w", fields[1], err)
	}
	pos, err := strconv.Atoi(fields[3])
	if err != nil {
		return nil, fmt.Errorf("markdups: bad POS field %q: %w", fields[3], err)
	}
	return &record{fields: fields, flag: flag, pos: pos}, nil
}

func (r *record) qname() string { return r.fields[0] }
func (r *record) rname() string { return r.fields[2] }
func (r *record) cigar() string { return r.fields[5] }

func (r *record) isPrimary() bool {
	return r.flag&(flagSecondary|flagSupplementary) == 0
}

func (r *record) setDuplicate() {
	r.flag |= flagDuplicate
	r.fields[1] = strconv.Itoa(r.flag)
}

func (r *record) String() string {
	return strings.Join(r.fields, "\t")
}

// cigarStats walks a CIGAR string and returns the reference span of the
// alignment together with the lengths of leading and trailing soft clips.
func cigarStats(cigar string) (refSpan, leadingS, trailingS int, err error) {
	if cigar == "*" {
		return 0, 0, 0, nil
	}
	n := 0
	first := true
	lastOp := byte(0)
	lastLen := 0
	for i := 0; i < len(cigar); i++ {
		c := cigar[i]
		if c >= '0' && c <= '9' {
			n = n*10 + int(c-'0')
			continue
		}
		switch c {
		case 'M', 'D', 'N', '=', 'X':
			refSpan += n
		case 'S':
			if first {
				leadingS = n
			}
		case 'I', 'H', 'P':
			// consume no reference
		default:
			return 0, 0, 0, fmt.Errorf("markdups: bad CIGAR op %q in %q", c, cigar)
		}
		first = false
		lastOp, lastLen = c, n
		n = 0
	}
	if n != 0 {
		return 0, 0, 0, fmt.Errorf("markdups: CIGAR %q ends mid-operation", cigar)
	}
	if lastOp == 'S' {
		trailingS = lastLen
	}
	return refSpan, leadingS, trailingS, nil
}

// fragmentEnd returns the outermost template coordinate contributed by one
// read, extended through any soft-clipped bases so that clipped and
// unclipped copies of the same fragment produce the same end.
func fragmentEnd(r *record) (string, int, error) {
	refSpan, leadingS, trailingS, err := cigarStats(r.cigar())
	if err != nil {
		return "", 0, err
	}
	if r.flag&flagReverse != 0 {
		return r.rname(), r.pos + refSpan - 1 + trailingS, nil
	}
	return r.rname(), r.pos - leadingS, nil
}

// readEnds computes the template end signature for one qname group: an
// orientation byte ('=' when both primary reads map to the same strand,
// '^' otherwise) followed by the two fragment ends in canonical order.
// Two templates are duplicates exactly when their signatures are equal.
//
// The empty string is returned for templates with no usable signature:
// a primary alignment missing (single-end input) or either end unmapped.
// Such templates pass through unmarked.
func readEnds(group []*record) (string, error) {
	var r1, r2 *record
	for _, r := range group {
		if !r.isPrimary() {
			continue
		}
		switch {
		case r.flag&flagRead1 != 0:
			r1 = r
		case r.flag&flagRead2 != 0:
			r2 = r
		}
	}
	if r1 == nil || r2 == nil {
		return "", nil
	}
	if r1.flag&flagUnmapped != 0 || r2.flag&flagUnmapped != 0 {
		return "", nil
	}

	lname, lpos, err := fragmentEnd(r1)
	if err != nil {
		return "", err
	}
	rname, rpos, err := fragmentEnd(r2)
	if err != nil {
		return "", err
	}

	orientation := byte('=')
	if (r1.flag^r2.flag)&flagReverse != 0 {
		orientation = '^'
	}
	// canonical ordering: l <= r
	if lname > rname || (lname == rname && lpos > rpos) {
		lname, rname = rname, lname
		lpos, rpos = rpos, lpos
	}
	return fmt.Sprintf("%c%s%d%s%d", orientation, lname, lpos, rname, rpos), nil
}
