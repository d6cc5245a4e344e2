package credits

import (
	"errors"

	"analysis-app/internal/domain/plans"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNoBalance is returned when a user has no balance row at all. Debit
// callers must treat it the same as an exhausted balance.
var ErrNoBalance = errors.New("credits: no balance for user")

// Store serializes read-modify-write cycles on one user's balance. fn
// receives the current balance and returns the value to persist; the row is
// locked for the whole cycle so a concurrent grant and debit cannot silently
// overwrite each other.
type Store interface {
	Update(userID uint, createIfMissing bool, fn func(balance int) int) (int, error)
	Get(userID uint) (*AnalysisBalance, error)
}

type gormStore struct {
	db *gorm.DB
}

// NewStore creates a balance store backed by GORM.
func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Update(userID uint, createIfMissing bool, fn func(balance int) int) (int, error) {
	var result int
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var row AnalysisBalance
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).
			First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if !createIfMissing {
				return ErrNoBalance
			}
			row = AnalysisBalance{UserID: userID, Balance: 0}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		row.Balance = fn(row.Balance)
		result = row.Balance
		return tx.Save(&row).Error
	})
	return result, err
}

func (s *gormStore) Get(userID uint) (*AnalysisBalance, error) {
	var row AnalysisBalance
	err := s.db.Where("user_id = ?", userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoBalance
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Ledger implements the credit semantics on top of a Store.
type Ledger struct {
	store Store
}

// NewLedger creates a ledger from an injected store.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// NewLedgerFromDB creates a ledger from a GORM DB handle.
func NewLedgerFromDB(db *gorm.DB) *Ledger {
	return NewLedger(NewStore(db))
}

// GrantIntervalCredits resets the user's balance to the plan's per-interval
// grant. The reset is absolute, not additive: re-granting mid-cycle does not
// stack, which is what makes redelivered renewal events safe.
func (l *Ledger) GrantIntervalCredits(userID uint, plan *plans.Plan) (int, error) {
	target := plan.AnalysesPerInterval
	if target == plans.UnlimitedPerInterval {
		target = UnlimitedBalance
	}
	return l.store.Update(userID, true, func(int) int {
		return target
	})
}

// TryDebit consumes one credit. It reports (true, remaining) on success,
// (false, remaining) when the balance is exhausted, and never mutates an
// unlimited balance. A missing balance row counts as exhausted.
func (l *Ledger) TryDebit(userID uint) (bool, int, error) {
	ok := false
	balance, err := l.store.Update(userID, false, func(b int) int {
		switch {
		case b >= UnlimitedBalance:
			ok = true
			return b
		case b <= 0:
			ok = false
			return b
		default:
			ok = true
			return b - 1
		}
	})
	if errors.Is(err, ErrNoBalance) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, err
	}
	return ok, balance, nil
}

// Balance returns the user's current balance row.
func (l *Ledger) Balance(userID uint) (*AnalysisBalance, error) {
	return l.store.Get(userID)
}
