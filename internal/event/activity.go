package event

import "LendingLedger/internal/address"

// Meta carries provenance for every variant. It is not part of the JSON body.
type Meta struct {
	Source Provenance
}

func (m *Meta) Provenance() Provenance {
	return m.Source
}

func (m *Meta) SetProvenance(p Provenance) {
	m.Source = p
}

func setProvenance(ev Event, p Provenance) {
	if s, ok := ev.(interface{ SetProvenance(Provenance) }); ok {
		s.SetProvenance(p)
	}
}

// Deposit is a supply of the market's underlying asset.
type Deposit struct {
	Meta    `json:"-"`
	Account address.Identity `json:"account"`
	Amount  string           `json:"amount"`
}

func (d *Deposit) Kind() Kind {
	return KindDeposit
}

func (d *Deposit) Indexed() Indexed {
	return Indexed{Account: string(d.Account), Amount: d.Amount}
}

type Withdraw struct {
	Meta    `json:"-"`
	Account address.Identity `json:"account"`
	Amount  string           `json:"amount"`
}

func (w *Withdraw) Kind() Kind {
	return KindWithdraw
}

func (w *Withdraw) Indexed() Indexed {
	return Indexed{Account: string(w.Account), Amount: w.Amount}
}

type Borrow struct {
	Meta    `json:"-"`
	Account address.Identity `json:"account"`
	Amount  string           `json:"amount"`
}

func (b *Borrow) Kind() Kind {
	return KindBorrow
}

func (b *Borrow) Indexed() Indexed {
	return Indexed{Account: string(b.Account), Amount: b.Amount}
}

type Repay struct {
	Meta    `json:"-"`
	Account address.Identity `json:"account"`
	Amount  string           `json:"amount"`
}

func (r *Repay) Kind() Kind {
	return KindRepay
}

func (r *Repay) Indexed() Indexed {
	return Indexed{Account: string(r.Account), Amount: r.Amount}
}

// Liquidate is indexed under the borrower; the liquidator is the
// counterparty and the repaid amount is the indexed amount.
type Liquidate struct {
	Meta        `json:"-"`
	Borrower    address.Identity `json:"borrower"`
	Liquidator  address.Identity `json:"liquidator"`
	RepayAmount string           `json:"repay_amount"`
	SeizeAmount string           `json:"seize_amount"`
}

func (l *Liquidate) Kind() Kind {
	return KindLiquidate
}

func (l *Liquidate) Indexed() Indexed {
	return Indexed{
		Account:      string(l.Borrower),
		Counterparty: string(l.Liquidator),
		Amount:       l.RepayAmount,
	}
}
