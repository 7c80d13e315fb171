// Package numbering issues sequential, prefix scoped document numbers such as
// PAY-OUT-000042.
package numbering

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-treasury/internal/platform/db"
	"github.com/odyssey-erp/odyssey-treasury/internal/shared"
)

// Prefixes in use.
const (
	PrefixPaymentOut = "PAY-OUT"
	PrefixPaymentIn  = "PAY-IN"
	PrefixTransfer   = "TRF"
)

const width = 6

// Store returns the highest number issued under prefix, or "" when none.
type Store interface {
	LastNumber(ctx context.Context, prefix string) (string, error)
}

// Format renders the sequence value for prefix.
func Format(prefix string, seq int64) string {
	return fmt.Sprintf("%s-%0*d", prefix, width, seq)
}

// Parse extracts the sequence from a number issued under prefix.
func Parse(prefix, number string) (int64, error) {
	digits, ok := strings.CutPrefix(number, prefix+"-")
	if !ok || digits == "" {
		return 0, fmt.Errorf("number %q does not carry prefix %s", number, prefix)
	}
	seq, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || seq < 0 {
		return 0, fmt.Errorf("number %q has a malformed sequence", number)
	}
	return seq, nil
}

// Next returns the number following the last one issued under prefix. Two
// concurrent callers may receive the same value; the unique constraint on the
// owning table rejects the loser.
func Next(ctx context.Context, store Store, prefix string) (string, error) {
	last, err := store.LastNumber(ctx, prefix)
	if err != nil {
		return "", err
	}
	if last == "" {
		return Format(prefix, 1), nil
	}
	seq, err := Parse(prefix, last)
	if err != nil {
		return "", shared.DataStore("next number", err)
	}
	return Format(prefix, seq+1), nil
}

// LastNumberIn scans table for the highest number under prefix. Sequences
// widen past 999999, so longer numbers sort first.
func LastNumberIn(ctx context.Context, q db.Querier, table, prefix string) (string, error) {
	query := fmt.Sprintf(`SELECT number FROM %s WHERE number LIKE $1
		ORDER BY length(number) DESC, number DESC LIMIT 1`, table)
	var last string
	err := q.QueryRow(ctx, query, prefix+"-%").Scan(&last)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", shared.DataStore("last number", err)
	}
	return last, nil
}

// Later reports whether number a was issued after b under the same prefix.
func Later(a, b string) bool {
	if len(a) != len(b) {
		return len(a) > len(b)
	}
	return a > b
}

// Collision translates a unique violation on the number column into a
// validation error the client can retry.
func Collision(number string, err error) error {
	if db.IsUniqueViolation(err) {
		return shared.Validationf("number %s was issued concurrently, retry", number)
	}
	return err
}
