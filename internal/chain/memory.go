package chain

import (
	"context"
	"fmt"
	"sync"
)

// MemoryLedger is an in-process Ledger used by tests and local development.
// Confirmations advance one block per Status poll unless frozen, and outages
// can be scripted with Fail.
type MemoryLedger struct {
	mu          sync.Mutex
	records     map[string]Record  // txID -> record
	receipts    map[string]Receipt // sessionHash -> receipt
	confirms    map[string]int     // txID -> confirmations
	nextBlock   int64
	frozen      bool
	failNext    int
	failWith    error
	submitCount int
}

var _ Ledger = (*MemoryLedger)(nil)

// NewMemoryLedger creates an empty in-process ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		records:   make(map[string]Record),
		receipts:  make(map[string]Receipt),
		confirms:  make(map[string]int),
		nextBlock: 1,
	}
}

// Fail makes the next n calls return err. Used to script outages.
func (m *MemoryLedger) Fail(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
	m.failWith = err
}

// Freeze stops confirmations from advancing.
func (m *MemoryLedger) Freeze(frozen bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frozen = frozen
}

// SubmitCount returns how many Submit attempts the ledger received,
// scripted failures included.
func (m *MemoryLedger) SubmitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submitCount
}

func (m *MemoryLedger) takeFailure() error {
	if m.failNext > 0 {
		m.failNext--
		return m.failWith
	}
	return nil
}

func (m *MemoryLedger) Submit(ctx context.Context, rec Record) (Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitCount++
	if err := m.takeFailure(); err != nil {
		return Receipt{}, err
	}

	if existing, ok := m.receipts[rec.SessionHash]; ok {
		return existing, &Error{
			Op:      "ledger_submitRecord",
			Code:    codeDuplicate,
			Message: "session hash already committed",
		}
	}

	receipt := Receipt{
		TxID:        fmt.Sprintf("0x%040x", m.nextBlock),
		BlockNumber: m.nextBlock,
	}
	m.nextBlock++
	m.records[receipt.TxID] = rec
	m.receipts[rec.SessionHash] = receipt
	m.confirms[receipt.TxID] = 0
	return receipt, nil
}

func (m *MemoryLedger) Status(ctx context.Context, txID string) (TxStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return TxStatus{}, err
	}

	rec, ok := m.records[txID]
	if !ok {
		return TxStatus{}, ErrNotFound
	}
	if !m.frozen {
		m.confirms[txID]++
	}
	confirmations := m.confirms[txID]
	return TxStatus{
		TxID:          txID,
		BlockNumber:   m.receipts[rec.SessionHash].BlockNumber,
		Confirmations: confirmations,
		Confirmed:     confirmations > 0,
	}, nil
}

func (m *MemoryLedger) Payload(ctx context.Context, txID string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return Record{}, err
	}
	rec, ok := m.records[txID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryLedger) FindBySessionHash(ctx context.Context, sessionHash string) (Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return Receipt{}, err
	}
	receipt, ok := m.receipts[sessionHash]
	if !ok {
		return Receipt{}, ErrNotFound
	}
	return receipt, nil
}

func (m *MemoryLedger) Health(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.takeFailure()
}
