// Package ident produces the human-readable identifiers stamped on ledger
// records: transaction ids shared by every line of one business event and
// credit-transaction ids carried by individual repayments.
package ident

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	transactionPrefix = "TX"
	repaymentPrefix   = "CT"
	suffixLen         = 6
	charset           = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Generator creates identifiers of the form PREFIX-YYYYMMDD-XXXXXX.
type Generator struct {
	now func() time.Time
}

// New returns a Generator using wall-clock time.
func New() *Generator {
	return &Generator{now: time.Now}
}

// NewWithClock returns a Generator with an injectable clock for tests.
func NewWithClock(now func() time.Time) *Generator {
	return &Generator{now: now}
}

// TransactionID returns a fresh id shared by all line items of one event.
func (g *Generator) TransactionID() string {
	return g.generate(transactionPrefix)
}

// RepaymentID returns a fresh id for a single credit repayment row.
func (g *Generator) RepaymentID() string {
	return g.generate(repaymentPrefix)
}

// WalkerID returns an opaque id attached to walk-in sales that have no
// registered customer.
func (g *Generator) WalkerID() string {
	return "WALKER-" + uuid.NewString()
}

func (g *Generator) generate(prefix string) string {
	datePart := g.now().Format("20060102")
	suffix := make([]byte, suffixLen)
	raw := make([]byte, suffixLen)
	// crypto/rand never fails on supported platforms; fall back to the
	// nanosecond clock if it somehow does.
	if _, err := rand.Read(raw); err != nil {
		return fmt.Sprintf("%s-%s-%06d", prefix, datePart, g.now().UnixNano()%1000000)
	}
	for i, b := range raw {
		suffix[i] = charset[int(b)%len(charset)]
	}
	return fmt.Sprintf("%s-%s-%s", prefix, datePart, string(suffix))
}
